package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopePathValidate(t *testing.T) {
	tests := []struct {
		name    string
		scope   ScopePath
		wantErr bool
	}{
		{"valid single segment", "/subscriptions", false},
		{"valid nested", "/subscriptions/s1/resourceGroups/rg1", false},
		{"root scope", "/", false},
		{"empty", "", true},
		{"not rooted", "subscriptions/s1", true},
		{"empty segment", "/subscriptions//rg1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scope.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScopePathCovers(t *testing.T) {
	tests := []struct {
		name   string
		parent ScopePath
		child  ScopePath
		covers bool
	}{
		{"equal scopes", "/subscriptions/s1", "/subscriptions/s1", true},
		{"direct ancestor", "/subscriptions/s1", "/subscriptions/s1/resourceGroups/rg1", true},
		{"deep ancestor", "/subscriptions", "/subscriptions/s1/resourceGroups/rg1/vm", true},
		{"sibling", "/subscriptions/s2", "/subscriptions/s1", false},
		{"descendant does not cover ancestor", "/subscriptions/s1/resourceGroups/rg1", "/subscriptions/s1", false},
		{"segment boundary s1 vs s10", "/subscriptions/s1", "/subscriptions/s10", false},
		{"segment boundary s1 vs s10 nested", "/subscriptions/s1", "/subscriptions/s10/resourceGroups/rg1", false},
		{"different branch", "/subscriptions/s1/resourceGroups/rg1", "/subscriptions/s1/resourceGroups/rg2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.covers, tt.parent.Covers(tt.child))
		})
	}
}

func TestScopePathSegments(t *testing.T) {
	assert.Equal(t, []string{"subscriptions", "s1"}, ScopePath("/subscriptions/s1").Segments())
	assert.Nil(t, ScopePath("/").Segments())
	assert.Equal(t, 0, ScopePath("/").Depth())
	assert.Equal(t, 4, ScopePath("/a/b/c/d").Depth())
}

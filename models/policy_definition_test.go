package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDefinition() *PolicyDefinition {
	return NewPolicyDefinition("require-env-tag", "Require Environment tag", ModeIndexed, PolicyRule{
		If:     Predicate{Field: "tags.Environment", Exists: boolPtr(false)},
		Effect: EffectDeny,
	})
}

func TestPolicyDefinitionValidate(t *testing.T) {
	t.Run("valid definition", func(t *testing.T) {
		assert.NoError(t, validDefinition().Validate())
	})

	t.Run("missing id", func(t *testing.T) {
		def := validDefinition()
		def.ID = ""
		assert.Error(t, def.Validate())
	})

	t.Run("unknown mode", func(t *testing.T) {
		def := validDefinition()
		def.Mode = "Partial"
		assert.Error(t, def.Validate())
	})

	t.Run("unknown effect", func(t *testing.T) {
		def := validDefinition()
		def.Rule.Effect = "Reject"
		assert.Error(t, def.Validate())
	})

	t.Run("append is a valid declared effect", func(t *testing.T) {
		// Authoring accepts Append; the engine reports it as unsupported
		def := validDefinition()
		def.Rule.Effect = EffectAppend
		assert.NoError(t, def.Validate())
	})

	t.Run("malformed rule predicate", func(t *testing.T) {
		def := validDefinition()
		def.Rule.If = Predicate{Field: "tags.Environment"}
		assert.Error(t, def.Validate())
	})

	t.Run("undeclared parameter reference", func(t *testing.T) {
		def := validDefinition()
		def.Rule.If = Predicate{Field: "location", In: &ValueList{Ref: "regions"}}
		assert.Error(t, def.Validate())

		def.Parameters = map[string]ParameterSpec{
			"regions": {Type: ParameterTypeArray},
		}
		assert.NoError(t, def.Validate())
	})
}

func TestParameterValueJSON(t *testing.T) {
	t.Run("string value", func(t *testing.T) {
		var v ParameterValue
		require.NoError(t, json.Unmarshal([]byte(`"prod"`), &v))
		require.NotNil(t, v.String)
		assert.Equal(t, "prod", *v.String)
		assert.Nil(t, v.List)

		out, err := json.Marshal(v)
		require.NoError(t, err)
		assert.Equal(t, `"prod"`, string(out))
	})

	t.Run("array value", func(t *testing.T) {
		var v ParameterValue
		require.NoError(t, json.Unmarshal([]byte(`["a","b"]`), &v))
		assert.Nil(t, v.String)
		assert.Equal(t, []string{"a", "b"}, v.List)
	})

	t.Run("object rejected", func(t *testing.T) {
		var v ParameterValue
		assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &v))
	})
}

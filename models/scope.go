package models

import (
	"fmt"
	"strings"
)

// ScopePath identifies a location in the deployment hierarchy, e.g.
// /subscriptions/sub-1/resourceGroups/rg-policy-demo.
// Paths are compared segment by segment, never by raw string prefix,
// so /subscriptions/s1 does not cover /subscriptions/s10.
type ScopePath string

// Validate checks that the scope path is non-empty and rooted
func (s ScopePath) Validate() error {
	if s == "" {
		return fmt.Errorf("scope path is empty")
	}
	if !strings.HasPrefix(string(s), "/") {
		return fmt.Errorf("scope path must start with '/': %s", s)
	}
	for _, seg := range s.Segments() {
		if seg == "" {
			return fmt.Errorf("scope path contains an empty segment: %s", s)
		}
	}
	return nil
}

// Segments returns the path split into its components
func (s ScopePath) Segments() []string {
	trimmed := strings.Trim(string(s), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// Depth returns the number of segments in the path
func (s ScopePath) Depth() int {
	return len(s.Segments())
}

// Covers reports whether s is an ancestor of (or equal to) other.
// An assignment scoped at s applies to every resource at or below s.
func (s ScopePath) Covers(other ScopePath) bool {
	parent := s.Segments()
	child := other.Segments()
	if len(parent) > len(child) {
		return false
	}
	for i, seg := range parent {
		if child[i] != seg {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer
func (s ScopePath) String() string {
	return string(s)
}

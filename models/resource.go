package models

import "fmt"

// Resource is the subject of an admission evaluation: a description of the
// resource being created or updated. Instances are transient, one per call,
// and are never mutated by the engine.
//
// Tags distinguishes three states: a nil map marks an untaggable resource
// type, an empty map a taggable resource carrying no tags, and an empty
// string value a tag that exists with no content.
type Resource struct {
	Type      string            `json:"type" validate:"required"`
	Name      string            `json:"name,omitempty"`
	Location  string            `json:"location,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	ScopePath ScopePath         `json:"scope_path" validate:"required"`
}

// Taggable reports whether the resource type carries tags at all
func (r *Resource) Taggable() bool {
	return r.Tags != nil
}

// Validate checks the call-level input requirements. A resource failing
// this check rejects the whole evaluation before any assignment is looked at.
func (r *Resource) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("resource type is required")
	}
	if err := r.ScopePath.Validate(); err != nil {
		return fmt.Errorf("resource scope path: %w", err)
	}
	return nil
}

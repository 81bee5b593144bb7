package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// parameterRefPattern matches parameter placeholders embedded in predicate
// documents, e.g. [parameters('allowedLocations')]
var parameterRefPattern = regexp.MustCompile(`^\[parameters\('([^']+)'\)\]$`)

// ParameterRef extracts the parameter name from a placeholder string.
// Returns "" when the string is not a placeholder.
func ParameterRef(s string) string {
	m := parameterRefPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// Predicate is a recursive expression tree evaluated against a Resource.
// Exactly one operator must be set per node: a leaf test (Field plus one of
// Exists, Equals, In) or a composite (AllOf, AnyOf, Not). The JSON form
// mirrors declarative policy rule documents:
//
//	{"field": "tags.Environment", "exists": false}
//	{"field": "location", "in": ["southeastasia", "eastasia"]}
//	{"field": "location", "in": "[parameters('allowedLocations')]"}
//	{"allOf": [ ... ]}, {"anyOf": [ ... ]}, {"not": { ... }}
type Predicate struct {
	Field  string      `json:"field,omitempty"`
	Exists *bool       `json:"exists,omitempty"`
	Equals *string     `json:"equals,omitempty"`
	In     *ValueList  `json:"in,omitempty"`
	AllOf  []Predicate `json:"allOf,omitempty"`
	AnyOf  []Predicate `json:"anyOf,omitempty"`
	Not    *Predicate  `json:"not,omitempty"`
}

// ValueList is a membership-set operand: either a literal list of strings or
// a parameter placeholder that resolves to one.
type ValueList struct {
	Values []string
	Ref    string // non-empty when the operand is a parameter placeholder
}

// MarshalJSON implements json.Marshaler
func (v ValueList) MarshalJSON() ([]byte, error) {
	if v.Ref != "" {
		return json.Marshal(fmt.Sprintf("[parameters('%s')]", v.Ref))
	}
	return json.Marshal(v.Values)
}

// UnmarshalJSON implements json.Unmarshaler
func (v *ValueList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		ref := ParameterRef(s)
		if ref == "" {
			return fmt.Errorf("membership operand must be an array or a parameter reference, got %q", s)
		}
		*v = ValueList{Ref: ref}
		return nil
	}
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*v = ValueList{Values: values}
	return nil
}

// Validate checks the structural well-formedness of the predicate tree.
// A node failing this check is a malformed predicate.
func (p Predicate) Validate() error {
	leafOps := 0
	if p.Exists != nil {
		leafOps++
	}
	if p.Equals != nil {
		leafOps++
	}
	if p.In != nil {
		leafOps++
	}

	compositeOps := 0
	if p.AllOf != nil {
		compositeOps++
	}
	if p.AnyOf != nil {
		compositeOps++
	}
	if p.Not != nil {
		compositeOps++
	}

	switch {
	case leafOps == 0 && compositeOps == 0:
		return fmt.Errorf("predicate has no operator")
	case leafOps > 0 && compositeOps > 0:
		return fmt.Errorf("predicate mixes leaf and composite operators")
	case leafOps > 1 || compositeOps > 1:
		return fmt.Errorf("predicate has more than one operator")
	case leafOps == 1 && p.Field == "":
		return fmt.Errorf("leaf predicate is missing a field path")
	case compositeOps == 1 && p.Field != "":
		return fmt.Errorf("composite predicate must not name a field")
	}

	if p.Field != "" {
		if err := validateFieldPath(p.Field); err != nil {
			return err
		}
	}

	for i := range p.AllOf {
		if err := p.AllOf[i].Validate(); err != nil {
			return fmt.Errorf("allOf[%d]: %w", i, err)
		}
	}
	for i := range p.AnyOf {
		if err := p.AnyOf[i].Validate(); err != nil {
			return fmt.Errorf("anyOf[%d]: %w", i, err)
		}
	}
	if p.Not != nil {
		if err := p.Not.Validate(); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	}
	return nil
}

// ReferencedParameters returns the names of all parameter placeholders in
// the tree, deduplicated in first-seen order.
func (p Predicate) ReferencedParameters() []string {
	var names []string
	seen := make(map[string]bool)
	p.walkRefs(func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	})
	return names
}

func (p Predicate) walkRefs(fn func(string)) {
	if p.Equals != nil {
		if ref := ParameterRef(*p.Equals); ref != "" {
			fn(ref)
		}
	}
	if p.In != nil && p.In.Ref != "" {
		fn(p.In.Ref)
	}
	for i := range p.AllOf {
		p.AllOf[i].walkRefs(fn)
	}
	for i := range p.AnyOf {
		p.AnyOf[i].walkRefs(fn)
	}
	if p.Not != nil {
		p.Not.walkRefs(fn)
	}
}

// Match evaluates a closed predicate (no remaining parameter placeholders)
// against a resource. Tag-existence semantics: an absent key does not exist,
// a key mapped to the empty string exists. Tag keys compare case-sensitively.
func (p Predicate) Match(r *Resource) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}

	switch {
	case p.AllOf != nil:
		for i := range p.AllOf {
			ok, err := p.AllOf[i].Match(r)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case p.AnyOf != nil:
		for i := range p.AnyOf {
			ok, err := p.AnyOf[i].Match(r)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case p.Not != nil:
		ok, err := p.Not.Match(r)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	value, exists, err := resolveField(r, p.Field)
	if err != nil {
		return false, err
	}

	switch {
	case p.Exists != nil:
		return exists == *p.Exists, nil

	case p.Equals != nil:
		if ref := ParameterRef(*p.Equals); ref != "" {
			return false, fmt.Errorf("unresolved parameter reference %q in equals operand", ref)
		}
		return exists && value == *p.Equals, nil

	case p.In != nil:
		if p.In.Ref != "" {
			return false, fmt.Errorf("unresolved parameter reference %q in membership operand", p.In.Ref)
		}
		if !exists {
			return false, nil
		}
		for _, candidate := range p.In.Values {
			if value == candidate {
				return true, nil
			}
		}
		return false, nil
	}

	return false, fmt.Errorf("predicate has no operator")
}

// validateFieldPath checks that a field path names an evaluable resource
// attribute: type, name, location, or tags.<key>.
func validateFieldPath(field string) error {
	switch field {
	case "type", "name", "location":
		return nil
	}
	if key := strings.TrimPrefix(field, "tags."); key != field {
		if key == "" {
			return fmt.Errorf("tag field path is missing a key: %q", field)
		}
		return nil
	}
	return fmt.Errorf("unknown field path %q", field)
}

// resolveField resolves a field path against a resource, returning the value
// and whether the field exists on this resource.
func resolveField(r *Resource, field string) (value string, exists bool, err error) {
	switch field {
	case "type":
		return r.Type, r.Type != "", nil
	case "name":
		return r.Name, r.Name != "", nil
	case "location":
		return r.Location, r.Location != "", nil
	}
	if key := strings.TrimPrefix(field, "tags."); key != field && key != "" {
		v, ok := r.Tags[key]
		return v, ok, nil
	}
	return "", false, fmt.Errorf("unknown field path %q", field)
}

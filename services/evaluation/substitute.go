package evaluation

import (
	"fmt"

	"github.com/govgate/govgate/models"
)

// UnresolvedParameterError marks a rule placeholder with no
// assignment-supplied value and no definition default.
type UnresolvedParameterError struct {
	Name string
}

// Error implements the error interface
func (e *UnresolvedParameterError) Error() string {
	return fmt.Sprintf("parameter %q has no value and no default", e.Name)
}

// substituteRule resolves every parameter placeholder in the definition's
// rule predicate, producing a closed predicate ready for matching.
// Assignment-supplied values override definition defaults. The inputs are
// never mutated.
func substituteRule(def *models.PolicyDefinition, values map[string]models.ParameterValue) (models.Predicate, error) {
	resolve := func(name string) (*models.ParameterValue, error) {
		if v, ok := values[name]; ok {
			return &v, nil
		}
		if spec, ok := def.Parameters[name]; ok && spec.DefaultValue != nil {
			return spec.DefaultValue, nil
		}
		return nil, &UnresolvedParameterError{Name: name}
	}
	return substitutePredicate(def.Rule.If, resolve)
}

func substitutePredicate(p models.Predicate, resolve func(string) (*models.ParameterValue, error)) (models.Predicate, error) {
	out := p

	if p.Equals != nil {
		if ref := models.ParameterRef(*p.Equals); ref != "" {
			v, err := resolve(ref)
			if err != nil {
				return models.Predicate{}, err
			}
			if v.String == nil {
				return models.Predicate{}, fmt.Errorf("parameter %q is an array, equals operand requires a string", ref)
			}
			s := *v.String
			out.Equals = &s
		}
	}

	if p.In != nil && p.In.Ref != "" {
		v, err := resolve(p.In.Ref)
		if err != nil {
			return models.Predicate{}, err
		}
		if v.List == nil {
			return models.Predicate{}, fmt.Errorf("parameter %q is a string, membership operand requires an array", p.In.Ref)
		}
		values := make([]string, len(v.List))
		copy(values, v.List)
		out.In = &models.ValueList{Values: values}
	}

	if p.AllOf != nil {
		children := make([]models.Predicate, len(p.AllOf))
		for i := range p.AllOf {
			child, err := substitutePredicate(p.AllOf[i], resolve)
			if err != nil {
				return models.Predicate{}, err
			}
			children[i] = child
		}
		out.AllOf = children
	}

	if p.AnyOf != nil {
		children := make([]models.Predicate, len(p.AnyOf))
		for i := range p.AnyOf {
			child, err := substitutePredicate(p.AnyOf[i], resolve)
			if err != nil {
				return models.Predicate{}, err
			}
			children[i] = child
		}
		out.AnyOf = children
	}

	if p.Not != nil {
		child, err := substitutePredicate(*p.Not, resolve)
		if err != nil {
			return models.Predicate{}, err
		}
		out.Not = &child
	}

	return out, nil
}

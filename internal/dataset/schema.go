package dataset

import (
	"regexp"

	"github.com/pkg/errors"
)

// FeatureType is the type of a feature as the feature store knows it.
type FeatureType string

const (
	FeatureTypeIntegral   FeatureType = "Integral"
	FeatureTypeFractional FeatureType = "Fractional"
	FeatureTypeString     FeatureType = "String"
)

// FeatureDefinition is one (name, type) entry of a feature group schema.
type FeatureDefinition struct {
	Name string      `json:"name"`
	Type FeatureType `json:"type"`
}

var featureNameRE = regexp.MustCompile(`^[a-zA-Z0-9]([-_]*[a-zA-Z0-9]){0,63}$`)

// ValidateFeatureName checks name against the feature store naming rule.
func ValidateFeatureName(name string) error {
	if !featureNameRE.MatchString(name) {
		return errors.Errorf("invalid feature name %q: must be alphanumeric with inner '-' or '_', at most 64 characters", name)
	}
	return nil
}

// FeatureDefinitions infers the schema of t, one definition per column in
// column order. Object columns cannot be inferred and must be coerced first.
func (t *Table) FeatureDefinitions() ([]FeatureDefinition, error) {
	defs := make([]FeatureDefinition, 0, len(t.columns))
	for _, c := range t.columns {
		var ft FeatureType
		switch c.Kind {
		case Int64:
			ft = FeatureTypeIntegral
		case Float64:
			ft = FeatureTypeFractional
		case String:
			ft = FeatureTypeString
		default:
			return nil, errors.Errorf("failed to infer feature type for column %q of kind %s", c.Name, c.Kind)
		}
		if err := ValidateFeatureName(c.Name); err != nil {
			return nil, err
		}
		defs = append(defs, FeatureDefinition{Name: c.Name, Type: ft})
	}
	return defs, nil
}

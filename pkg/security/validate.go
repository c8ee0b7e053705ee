// Package security implements C8.3: input validation, sanitization,
// adversarial-pattern detection, and anonymization for model inputs
// (spec.md §4.8.3). No direct teacher analogue exists for this component;
// built in the teacher's plain-stdlib validation idiom (the `Validate()`
// methods on pkg/models request types) generalized into a rule-set-driven
// validator, using stdlib regexp/html for sanitization — no sanitization or
// PII-detection library appears anywhere in the example pack, so this is a
// justified stdlib-only package.
package security

import (
	"fmt"
	"regexp"
)

// FieldType constrains a validation rule's expected value type.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
)

// FieldRule is one field's validation constraints.
type FieldRule struct {
	Name          string
	Type          FieldType
	Required      bool
	Min           *float64
	Max           *float64
	MinLength     *int
	MaxLength     *int
	Pattern       *regexp.Regexp
	AllowedValues []string
}

// RuleSet is a model's optional declared validation rules.
type RuleSet struct {
	ModelID string
	Fields  []FieldRule
}

// ValidationResult reports blocked fields and an aggregate risk score.
type ValidationResult struct {
	Blocked    []string
	Violations []string
	RiskScore  int // 0..100
}

// Validate checks input against a rule set. A nil rule set always passes
// (validation is opt-in per model).
func Validate(rules *RuleSet, input map[string]interface{}) ValidationResult {
	result := ValidationResult{}
	if rules == nil {
		return result
	}

	violationWeight := 0
	for _, rule := range rules.Fields {
		value, present := input[rule.Name]
		if !present {
			if rule.Required {
				result.Blocked = append(result.Blocked, rule.Name)
				result.Violations = append(result.Violations, fmt.Sprintf("%s: required field missing", rule.Name))
				violationWeight += 20
			}
			continue
		}
		if violated, msg := violatesRule(rule, value); violated {
			result.Blocked = append(result.Blocked, rule.Name)
			result.Violations = append(result.Violations, msg)
			violationWeight += 15
		}
	}

	result.RiskScore = violationWeight
	if result.RiskScore > 100 {
		result.RiskScore = 100
	}
	return result
}

func violatesRule(rule FieldRule, value interface{}) (bool, string) {
	switch rule.Type {
	case FieldNumber:
		n, ok := toFloat(value)
		if !ok {
			return true, fmt.Sprintf("%s: expected a number", rule.Name)
		}
		if rule.Min != nil && n < *rule.Min {
			return true, fmt.Sprintf("%s: %.4g below minimum %.4g", rule.Name, n, *rule.Min)
		}
		if rule.Max != nil && n > *rule.Max {
			return true, fmt.Sprintf("%s: %.4g above maximum %.4g", rule.Name, n, *rule.Max)
		}
	case FieldString:
		s, ok := value.(string)
		if !ok {
			return true, fmt.Sprintf("%s: expected a string", rule.Name)
		}
		if rule.MinLength != nil && len(s) < *rule.MinLength {
			return true, fmt.Sprintf("%s: shorter than minimum length %d", rule.Name, *rule.MinLength)
		}
		if rule.MaxLength != nil && len(s) > *rule.MaxLength {
			return true, fmt.Sprintf("%s: longer than maximum length %d", rule.Name, *rule.MaxLength)
		}
		if rule.Pattern != nil && !rule.Pattern.MatchString(s) {
			return true, fmt.Sprintf("%s: does not match required pattern", rule.Name)
		}
		if len(rule.AllowedValues) > 0 && !contains(rule.AllowedValues, s) {
			return true, fmt.Sprintf("%s: value not in allowed set", rule.Name)
		}
	case FieldBoolean:
		if _, ok := value.(bool); !ok {
			return true, fmt.Sprintf("%s: expected a boolean", rule.Name)
		}
	}
	return false, ""
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

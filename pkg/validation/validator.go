// Package validation implements rule-based request payload validation.
//
// Each request shape registers an ordered list of field rules. Validation
// level controls strictness: at the basic level only type and presence
// failures are errors, while length, pattern, allowed-value, and custom
// failures surface as warnings; the strict level promotes them all to
// errors.
package validation

import (
	"fmt"
	"regexp"
	"sync"
)

// Level selects validation strictness.
type Level string

// Validation levels.
const (
	LevelBasic  Level = "basic"
	LevelStrict Level = "strict"
	LevelCustom Level = "custom"
)

// FieldType names a payload field's expected JSON shape.
type FieldType string

// Field types.
const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeFloat   FieldType = "float"
	TypeBoolean FieldType = "boolean"
	TypeDict    FieldType = "dict"
	TypeList    FieldType = "list"
)

// CustomFunc is an extra check for one field value. Returning an error
// fails the rule.
type CustomFunc func(value any) error

// FieldRule describes one field's constraints.
type FieldRule struct {
	FieldName     string
	Type          FieldType
	Required      bool
	MinLength     int
	MaxLength     int
	Pattern       string
	AllowedValues []string
	Custom        CustomFunc

	pattern *regexp.Regexp
}

// Report is the outcome of validating one payload.
type Report struct {
	IsValid       bool           `json:"is_valid"`
	Errors        []string       `json:"errors"`
	Warnings      []string       `json:"warnings"`
	ValidatedData map[string]any `json:"validated_data,omitempty"`
}

// Validator holds the registered request shapes. Safe for concurrent use.
type Validator struct {
	mu     sync.RWMutex
	shapes map[string][]FieldRule
}

// NewValidator creates a validator with the built-in request shapes
// registered.
func NewValidator() *Validator {
	v := &Validator{shapes: make(map[string][]FieldRule)}

	v.Register("webhook", []FieldRule{
		{FieldName: "id", Type: TypeString, Required: true, MinLength: 1, MaxLength: 128},
		{FieldName: "role", Type: TypeString, Required: true, MinLength: 1},
		{FieldName: "target_file", Type: TypeString, Required: true, MinLength: 1},
		{FieldName: "patch", Type: TypeDict, Required: true},
	})
	v.Register("patch", []FieldRule{
		{FieldName: "pattern", Type: TypeString, Required: true, MinLength: 1},
		{FieldName: "replacement", Type: TypeString, Required: true},
		{FieldName: "description", Type: TypeString, Required: false, MaxLength: 2000},
	})
	v.Register("summary", []FieldRule{
		{FieldName: "id", Type: TypeString, Required: true, MinLength: 1},
		{FieldName: "summary", Type: TypeString, Required: false, MaxLength: 10000},
		{FieldName: "status", Type: TypeString, Required: false,
			AllowedValues: []string{"pending", "applied", "failed", "skipped"}},
	})
	v.Register("slack_command", []FieldRule{
		{FieldName: "command", Type: TypeString, Required: true, Pattern: `^/[a-z0-9_-]+$`},
		{FieldName: "user_id", Type: TypeString, Required: true, MinLength: 1},
		{FieldName: "text", Type: TypeString, Required: false, MaxLength: 3000},
	})

	return v
}

// Register installs or replaces the rules for one request shape.
// Invalid patterns disable that rule's pattern check.
func (v *Validator) Register(shape string, rules []FieldRule) {
	compiled := make([]FieldRule, len(rules))
	for i, r := range rules {
		if r.Pattern != "" {
			r.pattern, _ = regexp.Compile(r.Pattern)
		}
		compiled[i] = r
	}

	v.mu.Lock()
	v.shapes[shape] = compiled
	v.mu.Unlock()
}

// Shapes lists the registered shape names.
func (v *Validator) Shapes() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.shapes))
	for name := range v.shapes {
		names = append(names, name)
	}
	return names
}

// Validate checks data against the named shape at the given level.
func (v *Validator) Validate(shape string, data map[string]any, level Level) Report {
	v.mu.RLock()
	rules, ok := v.shapes[shape]
	v.mu.RUnlock()

	if !ok {
		return Report{
			IsValid: false,
			Errors:  []string{fmt.Sprintf("unknown request shape %q", shape)},
		}
	}

	report := Report{IsValid: true, ValidatedData: make(map[string]any)}
	strict := level == LevelStrict || level == LevelCustom

	for _, rule := range rules {
		value, present := data[rule.FieldName]
		if !present || value == nil {
			if rule.Required {
				report.fail(fmt.Sprintf("missing required field: %s", rule.FieldName))
			}
			continue
		}

		if err := checkType(rule, value); err != nil {
			report.fail(err.Error())
			continue
		}

		for _, err := range checkConstraints(rule, value) {
			if strict {
				report.fail(err.Error())
			} else {
				report.Warnings = append(report.Warnings, err.Error())
			}
		}

		report.ValidatedData[rule.FieldName] = value
	}

	return report
}

func (r *Report) fail(msg string) {
	r.IsValid = false
	r.Errors = append(r.Errors, msg)
}

// checkType verifies the value's JSON shape. Presence and type failures
// are always errors regardless of level.
func checkType(rule FieldRule, value any) error {
	ok := false
	switch rule.Type {
	case TypeString:
		_, ok = value.(string)
	case TypeInteger:
		switch n := value.(type) {
		case int, int32, int64:
			ok = true
		case float64: // JSON numbers decode as float64
			ok = n == float64(int64(n))
		}
	case TypeFloat:
		switch value.(type) {
		case float64, float32, int, int64:
			ok = true
		}
	case TypeBoolean:
		_, ok = value.(bool)
	case TypeDict:
		_, ok = value.(map[string]any)
	case TypeList:
		_, ok = value.([]any)
	default:
		ok = true
	}
	if !ok {
		return fmt.Errorf("field %s: expected %s, got %T", rule.FieldName, rule.Type, value)
	}
	return nil
}

func checkConstraints(rule FieldRule, value any) []error {
	var errs []error

	if s, isStr := value.(string); isStr {
		if rule.MinLength > 0 && len(s) < rule.MinLength {
			errs = append(errs, fmt.Errorf("field %s: shorter than %d characters", rule.FieldName, rule.MinLength))
		}
		if rule.MaxLength > 0 && len(s) > rule.MaxLength {
			errs = append(errs, fmt.Errorf("field %s: longer than %d characters", rule.FieldName, rule.MaxLength))
		}
		if rule.pattern != nil && !rule.pattern.MatchString(s) {
			errs = append(errs, fmt.Errorf("field %s: does not match pattern %s", rule.FieldName, rule.Pattern))
		}
		if len(rule.AllowedValues) > 0 && !contains(rule.AllowedValues, s) {
			errs = append(errs, fmt.Errorf("field %s: value %q not allowed", rule.FieldName, s))
		}
	}

	if rule.Custom != nil {
		if err := rule.Custom(value); err != nil {
			errs = append(errs, fmt.Errorf("field %s: %v", rule.FieldName, err))
		}
	}
	return errs
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

package operators

import (
	"fmt"
	"math"
	"time"
)

// ParameterValidator checks stage parameters against their descriptors
type ParameterValidator struct {
	converter *TypeConverter
}

// NewParameterValidator creates a new parameter validator
func NewParameterValidator() *ParameterValidator {
	return &ParameterValidator{
		converter: NewTypeConverter(),
	}
}

// ValidateParameter converts value to the declared type and applies the
// descriptor's rules to the converted value
func (pv *ParameterValidator) ValidateParameter(
	name string,
	value interface{},
	descriptor *ParameterDescriptor,
) error {
	converted, err := pv.converter.Convert(value, descriptor.Type)
	if err != nil {
		return &ValidationError{Parameter: name, Message: err.Error()}
	}

	if f, ok := converted.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return &ValidationError{Parameter: name, Message: "value is not finite"}
	}

	if descriptor.Validation != nil {
		if err := pv.applyRules(converted, descriptor.Validation); err != nil {
			return &ValidationError{Parameter: name, Message: err.Error()}
		}
	}
	return nil
}

func (pv *ParameterValidator) applyRules(value interface{}, rules *ValidationRules) error {
	if rules.Min != nil || rules.Max != nil {
		n, err := toFloat64(value)
		if err != nil {
			return err
		}
		if rules.Min != nil && n < *rules.Min {
			return fmt.Errorf("%s is below the minimum %s", FormatNumber(n), FormatNumber(*rules.Min))
		}
		if rules.Max != nil && n > *rules.Max {
			return fmt.Errorf("%s is above the maximum %s", FormatNumber(n), FormatNumber(*rules.Max))
		}
	}

	if len(rules.Enum) > 0 && !inEnum(value, rules.Enum) {
		return fmt.Errorf("%v is not one of %v", value, rules.Enum)
	}

	if rules.CustomValidator != nil {
		return rules.CustomValidator(value)
	}
	return nil
}

// inEnum compares by printed form, so "rgba" matches whether the plan
// carried a string or a typed string constant
func inEnum(value interface{}, allowed []interface{}) bool {
	s := fmt.Sprint(value)
	for _, a := range allowed {
		if fmt.Sprint(a) == s {
			return true
		}
	}
	return false
}

// ValidationError reports a parameter a stage cannot be compiled with
type ValidationError struct {
	Operator  string
	Parameter string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.Operator != "" {
		return fmt.Sprintf("%s: parameter '%s': %s", e.Operator, e.Parameter, e.Message)
	}
	return fmt.Sprintf("parameter '%s': %s", e.Parameter, e.Message)
}

func toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case time.Duration:
		return v.Seconds(), nil
	default:
		return 0, fmt.Errorf("%T is not numeric", value)
	}
}

// StandardValidation checks params against op's descriptor. Every
// operator's ValidateParams delegates here.
func StandardValidation(op Operator, params map[string]interface{}) error {
	validator := NewParameterValidator()
	descriptor := op.Describe()

	for i := range descriptor.Parameters {
		desc := &descriptor.Parameters[i]
		value, ok := params[desc.Name]
		if !ok {
			if desc.Required {
				return &ValidationError{Operator: descriptor.Name, Parameter: desc.Name, Message: "required parameter is missing"}
			}
			continue
		}
		if err := validator.ValidateParameter(desc.Name, value, desc); err != nil {
			err.(*ValidationError).Operator = descriptor.Name
			return err
		}
	}
	return nil
}

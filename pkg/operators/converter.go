package operators

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// TypeConverter converts values to specific parameter types
type TypeConverter struct{}

// NewTypeConverter creates a new type converter
func NewTypeConverter() *TypeConverter {
	return &TypeConverter{}
}

// Convert converts a value to the target type
func (tc *TypeConverter) Convert(value interface{}, targetType ParameterType) (interface{}, error) {
	switch targetType {
	case TypeDuration:
		return tc.toDuration(value)
	case TypeAngle:
		return tc.toAngle(value)
	case TypeResolution:
		return tc.toResolution(value)
	case TypeInt:
		return tc.toInt(value)
	case TypeFloat:
		return tc.toFloat(value)
	case TypeBool:
		return tc.toBool(value)
	case TypeString:
		return tc.toString(value)
	default:
		return value, nil
	}
}

// toDuration converts to time.Duration
func (tc *TypeConverter) toDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case string:
		return schemas.ParseDuration(v)
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	case time.Duration:
		return v, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to duration", value)
	}
}

// toAngle converts to a finite float64 in degrees
func (tc *TypeConverter) toAngle(value interface{}) (float64, error) {
	f, err := tc.toFloat(value)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("angle %v is not finite", f)
	}
	return f, nil
}

// toResolution converts to Resolution
func (tc *TypeConverter) toResolution(value interface{}) (*Resolution, error) {
	switch v := value.(type) {
	case string:
		// Parse "1920x1080"
		parts := strings.Split(v, "x")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid resolution format: %s", v)
		}
		width, err1 := strconv.Atoi(parts[0])
		height, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid resolution format: %s", v)
		}
		return &Resolution{Width: width, Height: height}, nil
	case map[string]interface{}:
		// Parse {"width": 1920, "height": 1080}
		width, _ := v["width"].(float64)
		height, _ := v["height"].(float64)
		return &Resolution{Width: int(width), Height: int(height)}, nil
	case *Resolution:
		return v, nil
	case Resolution:
		return &v, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to resolution", value)
	}
}

// toInt converts to int
func (tc *TypeConverter) toInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not a whole number", v)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", value)
	}
}

// toFloat converts to float64
func (tc *TypeConverter) toFloat(value interface{}) (float64, error) {
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
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

// toBool converts to bool
func (tc *TypeConverter) toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	case int:
		return v != 0, nil
	case float64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", value)
	}
}

// toString converts to string
func (tc *TypeConverter) toString(value interface{}) (string, error) {
	return fmt.Sprintf("%v", value), nil
}

// Int reads and converts an integer parameter
func (tc *TypeConverter) Int(params map[string]interface{}, name string) (int, error) {
	v, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("parameter '%s' is missing", name)
	}
	return tc.toInt(v)
}

// Float reads and converts a float parameter
func (tc *TypeConverter) Float(params map[string]interface{}, name string) (float64, error) {
	v, ok := params[name]
	if !ok {
		return 0, fmt.Errorf("parameter '%s' is missing", name)
	}
	return tc.toFloat(v)
}

// Bool reads an optional boolean parameter, false when absent
func (tc *TypeConverter) Bool(params map[string]interface{}, name string) (bool, error) {
	v, ok := params[name]
	if !ok {
		return false, nil
	}
	return tc.toBool(v)
}

// String reads an optional string parameter, def when absent
func (tc *TypeConverter) String(params map[string]interface{}, name, def string) string {
	v, ok := params[name]
	if !ok {
		return def
	}
	s, _ := tc.toString(v)
	return s
}

// FormatNumber renders f with the shortest exact representation, so equal
// values always print identically
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

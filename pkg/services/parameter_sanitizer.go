package services

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/TFMV/sqlguard/pkg/errors"
	"github.com/TFMV/sqlguard/pkg/models"
)

// ParameterSanitizer restricts bound parameters to primitive scalars.
type ParameterSanitizer struct{}

// NewParameterSanitizer creates a new parameter sanitizer.
func NewParameterSanitizer() *ParameterSanitizer {
	return &ParameterSanitizer{}
}

// Sanitize converts params into scalars, rejecting any element that is not
// null, a finite number, a boolean or a string.
func (s *ParameterSanitizer) Sanitize(params []interface{}) ([]models.Scalar, error) {
	out := make([]models.Scalar, 0, len(params))
	for i, p := range params {
		v, err := toScalar(p)
		if err != nil {
			return nil, errors.Newf(errors.CodeInvalidInput, "parameters[%d] %s", i, err.Error()).
				WithDetail("index", i).
				WithHint("Parameters must be null, finite numbers, booleans or strings")
		}
		out = append(out, v)
	}
	return out, nil
}

func toScalar(p interface{}) (models.Scalar, error) {
	switch v := p.(type) {
	case nil:
		return models.NullScalar(), nil
	case bool:
		return models.BoolScalar(v), nil
	case string:
		return models.StringScalar(v), nil
	case float64:
		return finiteNumber(v)
	case float32:
		return finiteNumber(float64(v))
	case int:
		return models.NumberScalar(float64(v)), nil
	case int8:
		return models.NumberScalar(float64(v)), nil
	case int16:
		return models.NumberScalar(float64(v)), nil
	case int32:
		return models.NumberScalar(float64(v)), nil
	case int64:
		return models.NumberScalar(float64(v)), nil
	case uint:
		return models.NumberScalar(float64(v)), nil
	case uint8:
		return models.NumberScalar(float64(v)), nil
	case uint16:
		return models.NumberScalar(float64(v)), nil
	case uint32:
		return models.NumberScalar(float64(v)), nil
	case uint64:
		return models.NumberScalar(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return models.Scalar{}, fmt.Errorf("is not a valid number: %q", v.String())
		}
		return finiteNumber(f)
	default:
		return models.Scalar{}, fmt.Errorf("has unsupported type %s", describeShape(p))
	}
}

func finiteNumber(f float64) (models.Scalar, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return models.Scalar{}, fmt.Errorf("is not a finite number")
	}
	return models.NumberScalar(f), nil
}

func describeShape(p interface{}) string {
	switch reflect.ValueOf(p).Kind() {
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Func:
		return "function"
	case reflect.Ptr, reflect.Interface:
		return "pointer"
	default:
		return fmt.Sprintf("%T", p)
	}
}

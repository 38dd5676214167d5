package models

import (
	"math"
	"strconv"
)

// ScalarKind tags the variant held by a Scalar.
type ScalarKind int

const (
	ScalarNull ScalarKind = iota
	ScalarBool
	ScalarNumber
	ScalarString
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarNull:
		return "null"
	case ScalarBool:
		return "boolean"
	case ScalarNumber:
		return "number"
	case ScalarString:
		return "string"
	default:
		return "unknown"
	}
}

// Scalar is a bound parameter value restricted to null, boolean, finite
// number or string.
type Scalar struct {
	Kind ScalarKind
	Bool bool
	Num  float64
	Str  string
}

func NullScalar() Scalar            { return Scalar{Kind: ScalarNull} }
func BoolScalar(b bool) Scalar      { return Scalar{Kind: ScalarBool, Bool: b} }
func NumberScalar(f float64) Scalar { return Scalar{Kind: ScalarNumber, Num: f} }
func StringScalar(s string) Scalar  { return Scalar{Kind: ScalarString, Str: s} }

// Value returns the driver argument for the scalar. Integral numbers that fit
// an int64 are passed as int64 so integer columns bind without casts.
func (s Scalar) Value() interface{} {
	switch s.Kind {
	case ScalarBool:
		return s.Bool
	case ScalarNumber:
		if s.Num == math.Trunc(s.Num) && s.Num >= math.MinInt64 && s.Num < math.MaxInt64 {
			return int64(s.Num)
		}
		return s.Num
	case ScalarString:
		return s.Str
	default:
		return nil
	}
}

func (s Scalar) String() string {
	switch s.Kind {
	case ScalarBool:
		return strconv.FormatBool(s.Bool)
	case ScalarNumber:
		return strconv.FormatFloat(s.Num, 'g', -1, 64)
	case ScalarString:
		return strconv.Quote(s.Str)
	default:
		return "NULL"
	}
}

// Args converts scalars into driver arguments.
func Args(params []Scalar) []interface{} {
	if len(params) == 0 {
		return nil
	}
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p.Value()
	}
	return args
}

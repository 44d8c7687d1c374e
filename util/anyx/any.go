package anyx

import (
	"encoding/json"
	"strconv"

	"golang.org/x/exp/constraints"
)

// Number converts any type to the specified number type.
//
// Number returns false if the given value is not numeric,
// strings are accepted if they are parsable as numbers.
func Number[T constraints.Integer | constraints.Float](v any) (T, bool) {
	switch vv := v.(type) {
	case int:
		return T(vv), true
	case int8:
		return T(vv), true
	case int16:
		return T(vv), true
	case int32:
		return T(vv), true
	case int64:
		return T(vv), true
	case uint:
		return T(vv), true
	case uint8:
		return T(vv), true
	case uint16:
		return T(vv), true
	case uint32:
		return T(vv), true
	case uint64:
		return T(vv), true
	case float32:
		return T(vv), true
	case float64:
		return T(vv), true
	case string:
		x, err := strconv.ParseInt(vv, 10, 64)
		if err != nil {
			y, err := strconv.ParseFloat(vv, 64)
			if err != nil {
				return T(0), false
			}
			return T(y), true
		}
		return T(x), true
	case json.Number:
		x, err := vv.Int64()
		if err != nil {
			y, err := vv.Float64()
			if err != nil {
				return T(0), false
			}
			return T(y), true
		}
		return T(x), true
	default:
		return T(0), false
	}
}

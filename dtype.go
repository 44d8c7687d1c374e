package safetensors_parser

import (
	"fmt"
	"math"
	"math/bits"
)

// Types for SafetensorsDType.
type (
	// SafetensorsDType is the element storage type of a safetensors tensor,
	// see https://github.com/huggingface/safetensors/blob/main/safetensors/src/tensor.rs.
	SafetensorsDType uint8

	// SafetensorsDTypeTrait holds the trait of a SafetensorsDType.
	SafetensorsDTypeTrait struct {
		TypeSize uint64 // In bytes, a BOOL takes one byte.
		Float    bool
		Signed   bool
	}
)

// SafetensorsDType constants.
//
// The order follows the declaration of upstream Dtype enum.
const (
	SafetensorsDTypeBOOL SafetensorsDType = iota
	SafetensorsDTypeU8
	SafetensorsDTypeI8
	SafetensorsDTypeF8_E5M2
	SafetensorsDTypeF8_E4M3
	SafetensorsDTypeI16
	SafetensorsDTypeU16
	SafetensorsDTypeF16
	SafetensorsDTypeBF16
	SafetensorsDTypeI32
	SafetensorsDTypeU32
	SafetensorsDTypeF32
	SafetensorsDTypeF64
	SafetensorsDTypeI64
	SafetensorsDTypeU64
	_SafetensorsDTypeCount // Unknown
)

// _SafetensorsDTypeTraits is a table of SafetensorsDTypeTrait for SafetensorsDType.
var _SafetensorsDTypeTraits = map[SafetensorsDType]SafetensorsDTypeTrait{
	SafetensorsDTypeBOOL:    {TypeSize: 1},
	SafetensorsDTypeU8:      {TypeSize: 1},
	SafetensorsDTypeI8:      {TypeSize: 1, Signed: true},
	SafetensorsDTypeF8_E5M2: {TypeSize: 1, Float: true, Signed: true},
	SafetensorsDTypeF8_E4M3: {TypeSize: 1, Float: true, Signed: true},
	SafetensorsDTypeI16:     {TypeSize: 2, Signed: true},
	SafetensorsDTypeU16:     {TypeSize: 2},
	SafetensorsDTypeF16:     {TypeSize: 2, Float: true, Signed: true},
	SafetensorsDTypeBF16:    {TypeSize: 2, Float: true, Signed: true},
	SafetensorsDTypeI32:     {TypeSize: 4, Signed: true},
	SafetensorsDTypeU32:     {TypeSize: 4},
	SafetensorsDTypeF32:     {TypeSize: 4, Float: true, Signed: true},
	SafetensorsDTypeF64:     {TypeSize: 8, Float: true, Signed: true},
	SafetensorsDTypeI64:     {TypeSize: 8, Signed: true},
	SafetensorsDTypeU64:     {TypeSize: 8},
}

// ParseSafetensorsDType parses the given dtype name,
// the name is case-sensitive, e.g. "BF16".
func ParseSafetensorsDType(s string) (SafetensorsDType, error) {
	for t := SafetensorsDType(0); t < _SafetensorsDTypeCount; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return _SafetensorsDTypeCount, fmt.Errorf("unknown dtype %q", s)
}

// Trait returns the SafetensorsDTypeTrait of the SafetensorsDType.
func (t SafetensorsDType) Trait() (SafetensorsDTypeTrait, bool) {
	tt, ok := _SafetensorsDTypeTraits[t]
	return tt, ok
}

// IsValid returns whether the SafetensorsDType is one of the known dtypes.
func (t SafetensorsDType) IsValid() bool {
	return t < _SafetensorsDTypeCount
}

// SizeOf returns the size in bytes of a tensor with the given shape,
// or 0 if the SafetensorsDType is unknown.
// A size beyond the uint64 range saturates at math.MaxUint64.
func (t SafetensorsDType) SizeOf(shape []uint64) uint64 {
	s, ok := t.sizeOf(shape)
	if !ok {
		return math.MaxUint64
	}
	return s
}

// sizeOf is similar to SizeOf,
// but reports false if the size overflows uint64.
func (t SafetensorsDType) sizeOf(shape []uint64) (uint64, bool) {
	tt, ok := t.Trait()
	if !ok {
		return 0, true
	}
	n, ok := checkedElementsOf(shape)
	if !ok {
		return 0, false
	}
	hi, lo := bits.Mul64(tt.TypeSize, n)
	return lo, hi == 0
}

func (t SafetensorsDType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid dtype: %d", t)
	}
	return []byte(t.String()), nil
}

func (t *SafetensorsDType) UnmarshalText(text []byte) error {
	v, err := ParseSafetensorsDType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// elementsOf returns the number of elements of the given shape,
// a scalar (empty shape) holds exactly one element.
// A count beyond the uint64 range saturates at math.MaxUint64.
func elementsOf(shape []uint64) uint64 {
	n, ok := checkedElementsOf(shape)
	if !ok {
		return math.MaxUint64
	}
	return n
}

// checkedElementsOf is similar to elementsOf,
// but reports false if the count overflows uint64.
func checkedElementsOf(shape []uint64) (uint64, bool) {
	for i := range shape {
		if shape[i] == 0 {
			return 0, true
		}
	}

	n := uint64(1)
	for i := range shape {
		hi, lo := bits.Mul64(n, shape[i])
		if hi != 0 {
			return 0, false
		}
		n = lo
	}
	return n, true
}

package safetensors_parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gpustack/safetensors-parser-go/util/json"
)

// decodeSafetensorsHeader decodes and validates the given raw header,
// no partial SafetensorsHeader is returned on failure.
func decodeSafetensorsHeader(rh SafetensorsRawHeader, o _SafetensorsReadOptions) (*SafetensorsHeader, error) {
	sh := SafetensorsHeader{
		Size: rh.Size,
	}

	idx := map[string]int{}
	err := json.ObjectEach(rh.JSON, func(key string, value json.RawMessage) error {
		if key == SafetensorsMetadataKey {
			md, err := decodeSafetensorsMetadata(value)
			if err != nil {
				return err
			}
			sh.Metadata = md
			return nil
		}

		ti, err := decodeSafetensorsTensorInfo(key, value, o)
		if err != nil {
			return err
		}
		// Duplicated keys take the last value at the first position.
		if i, ok := idx[key]; ok {
			sh.TensorInfos[i] = ti
			return nil
		}
		idx[key] = len(sh.TensorInfos)
		sh.TensorInfos = append(sh.TensorInfos, ti)
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, json.ErrNotObject):
			return nil, &SafetensorsValidationError{Reason: "header is not an object"}
		case errors.Is(err, json.ErrInvalidSyntax):
			return nil, fmt.Errorf("%w: %w", ErrSafetensorsHeaderInvalidJSON, err)
		}
		return nil, err
	}

	if sh.TensorInfos == nil {
		sh.TensorInfos = SafetensorsTensorInfos{}
	}
	return &sh, nil
}

func decodeSafetensorsMetadata(data json.RawMessage) (SafetensorsMetadata, error) {
	if !json.IsObject(data) {
		return nil, &SafetensorsValidationError{
			Key:    SafetensorsMetadataKey,
			Reason: "metadata is not an object",
		}
	}

	md := SafetensorsMetadata{}
	err := json.ObjectEach(data, func(key string, value json.RawMessage) error {
		var v string
		if !json.IsString(value) || json.Unmarshal(value, &v) != nil {
			return &SafetensorsValidationError{
				Key:    SafetensorsMetadataKey,
				Reason: fmt.Sprintf("value of %q is not a string", key),
			}
		}
		md[key] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return md, nil
}

func decodeSafetensorsTensorInfo(name string, data json.RawMessage, o _SafetensorsReadOptions) (SafetensorsTensorInfo, error) {
	ti := SafetensorsTensorInfo{
		Name: name,
	}

	invalid := func(format string, args ...any) error {
		return &SafetensorsValidationError{
			Key:    name,
			Reason: fmt.Sprintf(format, args...),
		}
	}

	if !json.IsObject(data) {
		return ti, invalid("tensor descriptor is not an object")
	}

	var hasDType, hasShape, hasDataOffsets bool
	err := json.ObjectEach(data, func(key string, value json.RawMessage) error {
		switch key {
		case "dtype":
			var s string
			if !json.IsString(value) || json.Unmarshal(value, &s) != nil {
				return invalid(`"dtype" is not a string`)
			}
			dt, err := ParseSafetensorsDType(s)
			if err != nil {
				return invalid(`"dtype": %v`, err)
			}
			ti.DType, hasDType = dt, true
		case "shape":
			ns, err := decodeUints(value)
			if err != nil {
				return invalid(`"shape": %v`, err)
			}
			ti.Shape, hasShape = ns, true
		case "data_offsets":
			ns, err := decodeUints(value)
			if err != nil {
				return invalid(`"data_offsets": %v`, err)
			}
			if len(ns) != 2 {
				return invalid(`bad "data_offsets" length: expected 2, actual %d`, len(ns))
			}
			ti.DataOffsets, hasDataOffsets = [2]uint64{ns[0], ns[1]}, true
		}
		return nil
	})
	if err != nil {
		return ti, err
	}

	switch {
	case !hasDType:
		return ti, invalid(`"dtype" is missing`)
	case !hasShape:
		return ti, invalid(`"shape" is missing`)
	case !hasDataOffsets:
		return ti, invalid(`"data_offsets" is missing`)
	}

	if ti.DataOffsets[1] < ti.DataOffsets[0] {
		return ti, invalid(`"data_offsets" end %d is before start %d`, ti.DataOffsets[1], ti.DataOffsets[0])
	}
	if o.StrictDataOffsets {
		exp, ok := ti.DType.sizeOf(ti.Shape)
		if !ok {
			return ti, invalid(`%s%v overflows the size in bytes`, ti.DType, ti.Shape)
		}
		if act := ti.Bytes(); exp != act {
			return ti, invalid(`"data_offsets" spans %d bytes, but %s%v takes %d bytes`, act, ti.DType, ti.Shape, exp)
		}
	}

	return ti, nil
}

// decodeUints decodes the given JSON array of non-negative integers.
func decodeUints(data json.RawMessage) ([]uint64, error) {
	if !json.IsArray(data) {
		return nil, errors.New("not an array")
	}

	var rs []json.RawMessage
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, err
	}

	ns := make([]uint64, len(rs))
	for i := range rs {
		if !json.IsNumber(rs[i]) {
			return nil, fmt.Errorf("item %d is not a number", i)
		}
		r := strings.TrimSpace(string(rs[i]))
		n, err := strconv.ParseUint(r, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("item %d is not a non-negative integer: %s", i, r)
		}
		ns[i] = n
	}
	return ns, nil
}

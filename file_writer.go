package safetensors_parser

import (
	"bytes"
	"encoding/binary"

	"github.com/gpustack/safetensors-parser-go/util/json"
)

// EncodeJSON encodes the SafetensorsHeader back into the header JSON,
// the metadata entry goes first, then the tensors in order.
func (sh *SafetensorsHeader) EncodeJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	write := func(key string, value any) error {
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return err
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	if sh.Metadata != nil {
		if err := write(SafetensorsMetadataKey, map[string]string(sh.Metadata)); err != nil {
			return nil, err
		}
	}
	for i := range sh.TensorInfos {
		ti := &sh.TensorInfos[i]
		shape := ti.Shape
		if shape == nil {
			shape = []uint64{}
		}
		err := write(ti.Name, struct {
			DType       SafetensorsDType `json:"dtype"`
			Shape       []uint64         `json:"shape"`
			DataOffsets [2]uint64        `json:"data_offsets"`
		}{ti.DType, shape, ti.DataOffsets})
		if err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Encode encodes the SafetensorsHeader into the leading bytes of a safetensors file,
// that is the 8-byte little-endian size prefix followed by the header JSON.
//
// The Size of the SafetensorsHeader is not consulted,
// the prefix always declares the length of the encoded JSON.
func (sh *SafetensorsHeader) Encode() ([]byte, error) {
	j, err := sh.EncodeJSON()
	if err != nil {
		return nil, err
	}

	b := make([]byte, SafetensorsHeaderSizePrefixLength+len(j))
	binary.LittleEndian.PutUint64(b, uint64(len(j)))
	copy(b[SafetensorsHeaderSizePrefixLength:], j)
	return b, nil
}

//go:build stdjson

package json

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
	NewDecoder    = json.NewDecoder
	NewEncoder    = json.NewEncoder
)

// ObjectEach walks the members of the given JSON object in document order,
// and calls fn with each key and its raw value.
//
// ObjectEach returns ErrInvalidSyntax if the input is not a valid JSON text,
// ErrNotObject if the input is valid but not an object,
// or the first error returned by fn.
func ObjectEach(data []byte, fn func(key string, value RawMessage) error) error {
	if !json.Valid(data) {
		var v any
		err := json.Unmarshal(data, &v)
		return fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}
	if !IsObject(data) {
		return ErrNotObject
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}
	for dec.More() {
		tk, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
		}
		var v RawMessage
		if err = dec.Decode(&v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
		}
		if err = fn(tk.(string), v); err != nil {
			return err
		}
	}
	return nil
}

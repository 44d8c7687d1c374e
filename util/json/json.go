package json

import (
	"bytes"
	stdjson "encoding/json"
	"errors"
)

// RawMessage is a raw encoded JSON value.
type RawMessage = stdjson.RawMessage

var (
	// ErrInvalidSyntax is returned when the input is not a valid JSON text.
	ErrInvalidSyntax = errors.New("invalid json syntax")
	// ErrNotObject is returned when the input is valid JSON but not an object.
	ErrNotObject = errors.New("json value is not an object")
)

// Kind returns the first significant byte of the given JSON value,
// which is one of '{', '[', '"', 't', 'f', 'n', '-' or a digit,
// or 0 if the value is empty.
func Kind(data []byte) byte {
	d := bytes.TrimLeft(data, " \t\r\n")
	if len(d) == 0 {
		return 0
	}
	return d[0]
}

// IsObject returns true if the given JSON value is an object.
func IsObject(data []byte) bool {
	return Kind(data) == '{'
}

// IsArray returns true if the given JSON value is an array.
func IsArray(data []byte) bool {
	return Kind(data) == '['
}

// IsString returns true if the given JSON value is a string.
func IsString(data []byte) bool {
	return Kind(data) == '"'
}

// IsNumber returns true if the given JSON value is a number.
func IsNumber(data []byte) bool {
	k := Kind(data)
	return k == '-' || (k >= '0' && k <= '9')
}

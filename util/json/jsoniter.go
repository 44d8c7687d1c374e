//go:build !stdjson

package json

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"io"
	"strconv"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	// borrowed from https://github.com/json-iterator/go/issues/145#issuecomment-323483602
	decodeNumberAsInt64IfPossible := func(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
		switch iter.WhatIsNext() {
		case jsoniter.NumberValue:
			var number stdjson.Number

			iter.ReadVal(&number)
			i, err := strconv.ParseInt(string(number), 10, 64)

			if err == nil {
				*(*any)(ptr) = i
				return
			}

			f, err := strconv.ParseFloat(string(number), 64)
			if err == nil {
				*(*any)(ptr) = f
				return
			}
		default:
			*(*any)(ptr) = iter.Read()
		}
	}
	jsoniter.RegisterTypeDecoderFunc("interface {}", decodeNumberAsInt64IfPossible)
	jsoniter.RegisterTypeDecoderFunc("any", decodeNumberAsInt64IfPossible)
}

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
	if err := validate(data); err != nil {
		return err
	}

	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	var ferr error
	iter.ReadObjectCB(func(iter *jsoniter.Iterator, key string) bool {
		v := iter.SkipAndReturnBytes()
		if iter.Error != nil {
			return false
		}
		if ferr = fn(key, bytes.TrimLeft(v, " \t\r\n")); ferr != nil {
			return false
		}
		return true
	})
	if ferr != nil {
		return ferr
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return fmt.Errorf("%w: %v", ErrInvalidSyntax, iter.Error)
	}
	return nil
}

func validate(data []byte) error {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	vt := iter.WhatIsNext()
	if vt == jsoniter.InvalidValue {
		return fmt.Errorf("%w: unexpected token at offset 0", ErrInvalidSyntax)
	}

	v := iter.SkipAndReturnBytes()
	if err := iter.Error; err != nil && (err != io.EOF || vt != jsoniter.NumberValue) {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}
	lead := len(data) - len(bytes.TrimLeft(data, " \t\r\n"))
	if rest := bytes.TrimSpace(data[lead+len(v):]); len(rest) != 0 {
		return fmt.Errorf("%w: unexpected data after top-level value", ErrInvalidSyntax)
	}

	if vt != jsoniter.ObjectValue {
		return ErrNotObject
	}
	return nil
}

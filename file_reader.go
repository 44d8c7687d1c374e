package safetensors_parser

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// SafetensorsRangeReader is the capability to read an arbitrary byte range of a safetensors source.
//
// ReadRange returns fewer than length bytes only if the source ends before offset+length,
// any other failure must be reported as an error.
type SafetensorsRangeReader interface {
	ReadRange(ctx context.Context, offset, length int64) ([]byte, error)
}

// SafetensorsRangeReaderFunc is an adapter to allow the use of an ordinary function as SafetensorsRangeReader.
type SafetensorsRangeReaderFunc func(ctx context.Context, offset, length int64) ([]byte, error)

func (fn SafetensorsRangeReaderFunc) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	return fn(ctx, offset, length)
}

// NewSafetensorsBytesRangeReader returns a SafetensorsRangeReader over a fully-buffered input.
func NewSafetensorsBytesRangeReader(b []byte) SafetensorsRangeReader {
	return SafetensorsRangeReaderFunc(func(_ context.Context, offset, length int64) ([]byte, error) {
		start, end, err := clampRange(offset, length, int64(len(b)))
		if err != nil {
			return nil, err
		}
		return b[start:end], nil
	})
}

// NewSafetensorsReaderAtRangeReader returns a SafetensorsRangeReader over the given io.ReaderAt,
// which holds size bytes.
func NewSafetensorsReaderAtRangeReader(ra io.ReaderAt, size int64) SafetensorsRangeReader {
	return SafetensorsRangeReaderFunc(func(ctx context.Context, offset, length int64) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, end, err := clampRange(offset, length, size)
		if err != nil {
			return nil, err
		}
		b := make([]byte, end-start)
		if _, err = io.ReadFull(io.NewSectionReader(ra, start, end-start), b); err != nil {
			return nil, err
		}
		return b, nil
	})
}

func clampRange(offset, length, size int64) (start, end int64, err error) {
	if offset < 0 || length < 0 {
		return 0, 0, fmt.Errorf("invalid range: offset %d, length %d", offset, length)
	}
	start, end = offset, offset+length
	if start > size {
		start = size
	}
	if end > size || end < offset {
		end = size
	}
	return start, end, nil
}

// SafetensorsRawHeader is the undecoded header of a safetensors file.
type SafetensorsRawHeader struct {
	// Size is the declared length in bytes of JSON.
	Size uint64
	// JSON is the header text.
	JSON []byte
}

// ReadSafetensorsRawHeader reads the size prefix and the header text from the given buffer,
// which must hold at least the prefix and the declared header length.
func ReadSafetensorsRawHeader(b []byte) (SafetensorsRawHeader, error) {
	n, err := readSafetensorsHeaderSize(b)
	if err != nil {
		return SafetensorsRawHeader{}, err
	}
	if uint64(len(b)-SafetensorsHeaderSizePrefixLength) < n {
		return SafetensorsRawHeader{}, fmt.Errorf("%w: header declares %d bytes, but only %d bytes remain",
			ErrSafetensorsFileInvalidFormat, n, len(b)-SafetensorsHeaderSizePrefixLength)
	}
	return SafetensorsRawHeader{
		Size: n,
		JSON: b[SafetensorsHeaderSizePrefixLength : SafetensorsHeaderSizePrefixLength+n],
	}, nil
}

// ReadSafetensorsRawHeaderFrom is similar to ReadSafetensorsRawHeader,
// but reads from the given SafetensorsRangeReader,
// the first read fetches the size prefix, the second read fetches exactly the header text.
func ReadSafetensorsRawHeaderFrom(ctx context.Context, rr SafetensorsRangeReader) (SafetensorsRawHeader, error) {
	if rr == nil {
		return SafetensorsRawHeader{}, errors.New("range reader is nil")
	}

	p, err := rr.ReadRange(ctx, 0, SafetensorsHeaderSizePrefixLength)
	if err != nil {
		return SafetensorsRawHeader{}, fmt.Errorf("read header size: %w", err)
	}
	n, err := readSafetensorsHeaderSize(p)
	if err != nil {
		return SafetensorsRawHeader{}, err
	}

	b, err := rr.ReadRange(ctx, SafetensorsHeaderSizePrefixLength, int64(n))
	if err != nil {
		return SafetensorsRawHeader{}, fmt.Errorf("read header: %w", err)
	}
	if uint64(len(b)) < n {
		return SafetensorsRawHeader{}, fmt.Errorf("%w: header declares %d bytes, but only %d bytes remain",
			ErrSafetensorsFileInvalidFormat, n, len(b))
	}
	return SafetensorsRawHeader{Size: n, JSON: b[:n]}, nil
}

func readSafetensorsHeaderSize(b []byte) (uint64, error) {
	if len(b) < SafetensorsHeaderSizePrefixLength {
		return 0, fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrSafetensorsFileInvalidFormat, SafetensorsHeaderSizePrefixLength, len(b))
	}
	n := binary.LittleEndian.Uint64(b[:SafetensorsHeaderSizePrefixLength])
	if n > SafetensorsHeaderSizeLimit {
		return 0, fmt.Errorf("%w: %d bytes exceeds the limit of %d bytes",
			ErrSafetensorsHeaderTooLarge, n, SafetensorsHeaderSizeLimit)
	}
	return n, nil
}

// ReadSafetensorsHeader reads the header from the given SafetensorsRangeReader,
// without touching the tensor data part,
// and returns the validated SafetensorsHeader, or an error if any.
func ReadSafetensorsHeader(ctx context.Context, rr SafetensorsRangeReader, opts ...SafetensorsReadOption) (*SafetensorsHeader, error) {
	var o _SafetensorsReadOptions
	for _, opt := range opts {
		opt(&o)
	}

	return readSafetensorsHeader(ctx, rr, o)
}

func readSafetensorsHeader(ctx context.Context, rr SafetensorsRangeReader, o _SafetensorsReadOptions) (*SafetensorsHeader, error) {
	rh, err := ReadSafetensorsRawHeaderFrom(ctx, rr)
	if err != nil {
		return nil, err
	}
	return decodeSafetensorsHeader(rh, o)
}

// ParseSafetensorsHeader parses the header from the given buffer,
// which holds the size prefix and the header text at least,
// and returns the validated SafetensorsHeader, or an error if any.
func ParseSafetensorsHeader(b []byte, opts ...SafetensorsReadOption) (*SafetensorsHeader, error) {
	var o _SafetensorsReadOptions
	for _, opt := range opts {
		opt(&o)
	}

	rh, err := ReadSafetensorsRawHeader(b)
	if err != nil {
		return nil, err
	}
	return decodeSafetensorsHeader(rh, o)
}

// ParseSafetensorsHeaderJSON parses the header from the given bare header JSON,
// e.g. a sidecar ".json" file, and returns the validated SafetensorsHeader, or an error if any.
func ParseSafetensorsHeaderJSON(b []byte, opts ...SafetensorsReadOption) (*SafetensorsHeader, error) {
	var o _SafetensorsReadOptions
	for _, opt := range opts {
		opt(&o)
	}

	if len(b) > SafetensorsHeaderSizeLimit {
		return nil, fmt.Errorf("%w: %d bytes exceeds the limit of %d bytes",
			ErrSafetensorsHeaderTooLarge, len(b), SafetensorsHeaderSizeLimit)
	}
	return decodeSafetensorsHeader(SafetensorsRawHeader{Size: uint64(len(b)), JSON: b}, o)
}

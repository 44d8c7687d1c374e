package safetensors_parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/gpustack/safetensors-parser-go/util/osx"
)

// SafetensorsFile represents a safetensors file,
// see https://github.com/huggingface/safetensors#format.
//
// Compared with the complete safetensors file,
// this structure lacks the tensor data part.
type SafetensorsFile struct {
	/* Basic */

	// Header is the header of the safetensors file.
	Header SafetensorsHeader `json:"header"`

	/* Appendix */

	// Size is the size in bytes of the whole file.
	Size SafetensorsBytesScalar `json:"size"`
	// TensorDataStartOffset is the offset in bytes of the tensor data in this file,
	// all DataOffsets of SafetensorsTensorInfo are relative to this offset.
	//
	// The offset is the start of the file.
	TensorDataStartOffset int64 `json:"tensorDataStartOffset"`
}

// SafetensorsHeader represents the header of a safetensors file.
type SafetensorsHeader struct {
	// Size is the length in bytes of the header JSON,
	// which is declared by the 8-byte little-endian prefix.
	Size uint64 `json:"size"`
	// Metadata holds the string pairs of the reserved "__metadata__" entry,
	// Metadata is nil if the entry is absent.
	Metadata SafetensorsMetadata `json:"metadata,omitempty"`
	// TensorInfos are the tensor descriptors of the header,
	// in the order of the header JSON.
	TensorInfos SafetensorsTensorInfos `json:"tensorInfos"`
}

// Types for SafetensorsTensorInfo.
type (
	// SafetensorsTensorInfo represents a tensor descriptor in the header of a safetensors file.
	SafetensorsTensorInfo struct {
		// Name is the name of the tensor.
		Name string `json:"name"`
		// DType is the element type of the tensor.
		DType SafetensorsDType `json:"dtype"`
		// Shape is the dimensions of the tensor,
		// a scalar has no dimensions.
		Shape []uint64 `json:"shape"`
		// DataOffsets is the [start, end) byte range of the tensor data,
		// relative to SafetensorsFile.TensorDataStartOffset.
		DataOffsets [2]uint64 `json:"dataOffsets"`
	}

	// SafetensorsTensorInfos is a list of SafetensorsTensorInfo.
	SafetensorsTensorInfos []SafetensorsTensorInfo
)

// SafetensorsMetadata is the free-form string pairs of the "__metadata__" header entry.
type SafetensorsMetadata map[string]string

// Safetensors header constants.
const (
	// SafetensorsHeaderSizePrefixLength is the length in bytes of the header size prefix.
	SafetensorsHeaderSizePrefixLength = 8
	// SafetensorsHeaderSizeLimit is the ceiling of the header JSON length,
	// a larger declared length is rejected before reading the header.
	SafetensorsHeaderSizeLimit = 100 * 1024 * 1024
	// SafetensorsMetadataKey is the reserved header key of the metadata entry.
	SafetensorsMetadataKey = "__metadata__"
)

var (
	ErrSafetensorsFileInvalidFormat = errors.New("invalid safetensors format")
	ErrSafetensorsHeaderTooLarge    = errors.New("safetensors header too large")
	ErrSafetensorsHeaderInvalidJSON = errors.New("invalid safetensors header json")
	ErrSafetensorsFileNotFound      = errors.New("safetensors file not found")
	ErrSafetensorsNetwork           = errors.New("safetensors network error")
)

// SafetensorsValidationError is returned when the header JSON is well-formed
// but violates the tensor/metadata schema.
type SafetensorsValidationError struct {
	// Key is the offending header key,
	// empty if the header itself is not an object.
	Key string
	// Reason describes the violation.
	Reason string
}

func (e *SafetensorsValidationError) Error() string {
	if e.Key == "" {
		return "invalid safetensors header: " + e.Reason
	}
	return fmt.Sprintf("invalid safetensors header: %q: %s", e.Key, e.Reason)
}

// ParseSafetensorsFile parses a safetensors file from the local given path,
// and returns the SafetensorsFile, or an error if any.
//
// Only the size prefix and the header are read,
// the tensor data part is never touched.
func ParseSafetensorsFile(path string, opts ...SafetensorsReadOption) (*SafetensorsFile, error) {
	var o _SafetensorsReadOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		f io.ReaderAt
		s int64
	)
	if o.MMap {
		mf, err := osx.OpenMmapFile(path)
		if err != nil {
			return nil, fmt.Errorf("open mmap file: %w", wrapSafetensorsFileError(err))
		}
		defer osx.Close(mf)
		f, s = mf, mf.Len()
	} else {
		ff, err := osx.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open file: %w", wrapSafetensorsFileError(err))
		}
		defer osx.Close(ff)
		fi, err := ff.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat file: %w", err)
		}
		if fi.IsDir() {
			return nil, fmt.Errorf("open file: %w: %s is a directory", ErrSafetensorsFileNotFound, path)
		}
		f, s = ff, fi.Size()
	}

	return parseSafetensorsFile(context.Background(), NewSafetensorsReaderAtRangeReader(f, s), s, o)
}

func wrapSafetensorsFileError(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrSafetensorsFileNotFound, err)
	}
	return err
}

func parseSafetensorsFile(ctx context.Context, rr SafetensorsRangeReader, size int64, o _SafetensorsReadOptions) (*SafetensorsFile, error) {
	sh, err := readSafetensorsHeader(ctx, rr, o)
	if err != nil {
		return nil, err
	}

	dataStart := int64(SafetensorsHeaderSizePrefixLength + sh.Size)
	if o.StrictDataOffsets {
		var dataSize uint64
		if size > dataStart {
			dataSize = uint64(size - dataStart)
		}
		for i := range sh.TensorInfos {
			if end := sh.TensorInfos[i].DataOffsets[1]; end > dataSize {
				return nil, &SafetensorsValidationError{
					Key:    sh.TensorInfos[i].Name,
					Reason: fmt.Sprintf("data_offsets end %d is beyond the %d bytes of tensor data", end, dataSize),
				}
			}
		}
	}

	return &SafetensorsFile{
		Header:                *sh,
		Size:                  SafetensorsBytesScalar(size),
		TensorDataStartOffset: dataStart,
	}, nil
}

// Analyze analyzes the SafetensorsFile,
// see SafetensorsHeader.Analyze for details.
func (sf *SafetensorsFile) Analyze(opts ...SafetensorsAnalyzeOption) *SafetensorsAnalysis {
	return sf.Header.Analyze(uint64(sf.Size), opts...)
}

// Names returns the names of the tensors,
// in the order of the header JSON.
func (tis SafetensorsTensorInfos) Names() []string {
	ns := make([]string, len(tis))
	for i := range tis {
		ns[i] = tis[i].Name
	}
	return ns
}

// Elements returns the number of elements of the tensor,
// which is the product of all dimensions, or 1 for a scalar.
func (ti SafetensorsTensorInfo) Elements() uint64 {
	return elementsOf(ti.Shape)
}

// Bytes returns the size in bytes of the tensor data,
// which is the length of the DataOffsets range.
func (ti SafetensorsTensorInfo) Bytes() uint64 {
	return ti.DataOffsets[1] - ti.DataOffsets[0]
}

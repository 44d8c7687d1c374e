package safetensors_parser

import (
	"math"
	"math/bits"
	"sort"
)

// SafetensorsFileStats represents the file-wide statistics of a safetensors file.
type SafetensorsFileStats struct {
	// FileSize is the size in bytes of the whole file,
	// zero if unknown.
	FileSize SafetensorsBytesScalar `json:"fileSize"`
	// HeaderSize is the length in bytes of the header JSON.
	HeaderSize SafetensorsBytesScalar `json:"headerSize"`
	// TensorCount is the number of tensors.
	TensorCount uint64 `json:"tensorCount"`
	// TotalParameters is the sum of the elements of all tensors.
	TotalParameters SafetensorsParametersScalar `json:"totalParameters"`
	// TotalTensorBytes is the sum of the data spans of all tensors.
	TotalTensorBytes SafetensorsBytesScalar `json:"totalTensorBytes"`
	// DTypes are the distinct dtypes,
	// ordered by descending occurrence, ties keep the first-seen order.
	DTypes []SafetensorsDType `json:"dtypes"`
	// DTypeCounts counts the tensors of each dtype.
	DTypeCounts map[SafetensorsDType]uint64 `json:"dtypeCounts"`
}

// Stats returns the SafetensorsFileStats of the SafetensorsTensorInfos,
// the file size and the header size are filled as given.
func (tis SafetensorsTensorInfos) Stats(fileSize, headerSize uint64) SafetensorsFileStats {
	fs := SafetensorsFileStats{
		FileSize:    SafetensorsBytesScalar(fileSize),
		HeaderSize:  SafetensorsBytesScalar(headerSize),
		TensorCount: uint64(len(tis)),
		DTypes:      []SafetensorsDType{},
		DTypeCounts: map[SafetensorsDType]uint64{},
	}

	for i := range tis {
		fs.TotalParameters = SafetensorsParametersScalar(addSaturating(uint64(fs.TotalParameters), tis[i].Elements()))
		fs.TotalTensorBytes = SafetensorsBytesScalar(addSaturating(uint64(fs.TotalTensorBytes), tis[i].Bytes()))
		if _, ok := fs.DTypeCounts[tis[i].DType]; !ok {
			fs.DTypes = append(fs.DTypes, tis[i].DType)
		}
		fs.DTypeCounts[tis[i].DType]++
	}

	sort.SliceStable(fs.DTypes, func(i, j int) bool {
		return fs.DTypeCounts[fs.DTypes[i]] > fs.DTypeCounts[fs.DTypes[j]]
	})

	return fs
}

// addSaturating returns a+b, or math.MaxUint64 if the sum overflows.
func addSaturating(a, b uint64) uint64 {
	s, c := bits.Add64(a, b, 0)
	if c != 0 {
		return math.MaxUint64
	}
	return s
}

package safetensors_parser

import (
	"fmt"
	"strings"
)

// SafetensorsAnalysis represents the analysis result of a safetensors file.
type SafetensorsAnalysis struct {
	/* Basic */

	// ModelType is the inferred model type.
	ModelType SafetensorsModelType `json:"modelType"`
	// FileStats is the file-wide statistics,
	// which always covers all tensors.
	FileStats SafetensorsFileStats `json:"fileStats"`
	// Tensors are the enriched tensor descriptors,
	// nil if skipped, and at most the limit of WithMaxTensors.
	Tensors []SafetensorsAnalysisTensor `json:"tensors,omitempty"`

	/* Metadata */

	// Metadata is the raw "__metadata__" string pairs.
	Metadata SafetensorsMetadata `json:"metadata,omitempty"`
	// ModelSpec is the typed "modelspec.*" projection of Metadata.
	ModelSpec SafetensorsModelSpecMetadata `json:"modelSpec"`
	// Training is the typed "ss_*" projection of Metadata.
	Training SafetensorsTrainingMetadata `json:"training"`
	// Hashes is the typed hash projection of Metadata.
	Hashes SafetensorsModelHashes `json:"hashes"`

	/* Appendix */

	// LoRA is present only if ModelType is SafetensorsModelTypeLoRA.
	LoRA *SafetensorsLoRAInfo `json:"lora,omitempty"`
	// Compatibility is the framework compatibility.
	Compatibility SafetensorsCompatibility `json:"compatibility"`
	// Warnings are the human-readable non-fatal notes.
	Warnings []string `json:"warnings"`
}

// SafetensorsAnalysisTensor is the enriched SafetensorsTensorInfo.
type SafetensorsAnalysisTensor struct {
	SafetensorsTensorInfo

	// Size is the size in bytes of the tensor data.
	Size SafetensorsBytesScalar `json:"size"`
	// Parameters is the number of elements of the tensor.
	Parameters SafetensorsParametersScalar `json:"parameters"`
}

// SafetensorsCompatibility holds the framework flags derived from the "format" metadata,
// the flags are independent.
type SafetensorsCompatibility struct {
	PyTorch    bool `json:"pytorch"`
	TensorFlow bool `json:"tensorflow"`
	JAX        bool `json:"jax"`
	NumPy      bool `json:"numpy"`
}

// Analyze analyzes the SafetensorsHeader with the given size in bytes of the whole file,
// and returns the SafetensorsAnalysis.
//
// Analyze never fails,
// a metadata value that cannot be coerced is left unset.
func (sh *SafetensorsHeader) Analyze(fileSize uint64, opts ...SafetensorsAnalyzeOption) *SafetensorsAnalysis {
	o := newSafetensorsAnalyzeOptions(opts)

	names := sh.TensorInfos.Names()

	a := &SafetensorsAnalysis{
		ModelType: DetectSafetensorsModelType(names, sh.Metadata),
		FileStats: sh.TensorInfos.Stats(fileSize, sh.Size),
		Metadata:  sh.Metadata,
		ModelSpec: sh.Metadata.ModelSpec(),
		Training:  sh.Metadata.Training(),
		Hashes:    sh.Metadata.Hashes(),
		Warnings:  []string{},
	}

	// Tensors.
	if !o.SkipTensors {
		tis := sh.TensorInfos
		if o.MaxTensors != nil && len(tis) > *o.MaxTensors {
			tis = tis[:*o.MaxTensors]
			a.Warnings = append(a.Warnings, fmt.Sprintf("Tensor list truncated to %d items", *o.MaxTensors))
		}
		a.Tensors = make([]SafetensorsAnalysisTensor, len(tis))
		for i := range tis {
			a.Tensors[i] = SafetensorsAnalysisTensor{
				SafetensorsTensorInfo: tis[i],
				Size:                  SafetensorsBytesScalar(tis[i].Bytes()),
				Parameters:            SafetensorsParametersScalar(tis[i].Elements()),
			}
		}
	}

	// LoRA.
	if a.ModelType == SafetensorsModelTypeLoRA {
		a.LoRA = extractSafetensorsLoRAInfo(names, sh.Metadata, a.Training, o)
	}

	// Compatibility.
	switch sh.Metadata.Format() {
	case "pt":
		a.Compatibility.PyTorch = true
	case "tf":
		a.Compatibility.TensorFlow = true
	case "jax":
		a.Compatibility.JAX = true
	case "numpy":
		a.Compatibility.NumPy = true
	}
	if !a.Compatibility.PyTorch {
		for _, n := range names {
			if strings.Contains(n, "weight") {
				a.Compatibility.PyTorch = true
				break
			}
		}
	}

	return a
}

// SafetensorsPartialAnalysis is the SafetensorsAnalysis of a header
// whose file size is not known yet.
//
// Only ModelType and FileStats are always present,
// FileStats.FileSize is zero.
type SafetensorsPartialAnalysis struct {
	ModelType     SafetensorsModelType          `json:"modelType"`
	FileStats     SafetensorsFileStats          `json:"fileStats"`
	Tensors       []SafetensorsAnalysisTensor   `json:"tensors,omitempty"`
	Metadata      SafetensorsMetadata           `json:"metadata,omitempty"`
	ModelSpec     *SafetensorsModelSpecMetadata `json:"modelSpec,omitempty"`
	Training      *SafetensorsTrainingMetadata  `json:"training,omitempty"`
	Hashes        *SafetensorsModelHashes       `json:"hashes,omitempty"`
	LoRA          *SafetensorsLoRAInfo          `json:"lora,omitempty"`
	Compatibility *SafetensorsCompatibility     `json:"compatibility,omitempty"`
	Warnings      []string                      `json:"warnings,omitempty"`
}

// AnalyzePartial analyzes the SafetensorsHeader without the file size,
// and returns the SafetensorsPartialAnalysis.
func (sh *SafetensorsHeader) AnalyzePartial(opts ...SafetensorsAnalyzeOption) *SafetensorsPartialAnalysis {
	a := sh.Analyze(0, opts...)

	pa := &SafetensorsPartialAnalysis{
		ModelType: a.ModelType,
		FileStats: a.FileStats,
		Tensors:   a.Tensors,
		Metadata:  a.Metadata,
		LoRA:      a.LoRA,
	}
	if a.ModelSpec != (SafetensorsModelSpecMetadata{}) {
		pa.ModelSpec = &a.ModelSpec
	}
	if len(sh.Metadata) != 0 {
		pa.Training = &a.Training
	}
	if a.Hashes != (SafetensorsModelHashes{}) {
		pa.Hashes = &a.Hashes
	}
	if a.Compatibility != (SafetensorsCompatibility{}) {
		pa.Compatibility = &a.Compatibility
	}
	if len(a.Warnings) != 0 {
		pa.Warnings = a.Warnings
	}
	return pa
}

// AnalyzeSafetensors parses the header at the beginning of the given bytes,
// and analyzes it with the length of the bytes as the file size.
//
// The given bytes can be the whole file or just its beginning,
// see ParseSafetensorsHeader for the returned errors.
func AnalyzeSafetensors(b []byte, opts ...SafetensorsAnalyzeOption) (*SafetensorsAnalysis, error) {
	sh, err := ParseSafetensorsHeader(b)
	if err != nil {
		return nil, err
	}
	return sh.Analyze(uint64(len(b)), opts...), nil
}

// AnalyzeSafetensorsHeaderJSON parses the given bare header JSON,
// e.g. a ".json" sidecar of a safetensors file,
// and analyzes it with the given file size.
func AnalyzeSafetensorsHeaderJSON(b []byte, fileSize uint64, opts ...SafetensorsAnalyzeOption) (*SafetensorsAnalysis, error) {
	sh, err := ParseSafetensorsHeaderJSON(b)
	if err != nil {
		return nil, err
	}
	return sh.Analyze(fileSize, opts...), nil
}

// SafetensorsFiles is a list of SafetensorsFile,
// which are the shards of one model in shard order.
type SafetensorsFiles []*SafetensorsFile

// Header merges the headers of the SafetensorsFiles into one SafetensorsHeader,
// the sizes are summed, the tensors are concatenated,
// and the metadata of an earlier shard takes precedence.
func (sfs SafetensorsFiles) Header() SafetensorsHeader {
	var sh SafetensorsHeader
	for _, sf := range sfs {
		sh.Size += sf.Header.Size
		sh.TensorInfos = append(sh.TensorInfos, sf.Header.TensorInfos...)
		for k, v := range sf.Header.Metadata {
			if sh.Metadata == nil {
				sh.Metadata = SafetensorsMetadata{}
			}
			if _, ok := sh.Metadata[k]; !ok {
				sh.Metadata[k] = v
			}
		}
	}
	if sh.TensorInfos == nil {
		sh.TensorInfos = SafetensorsTensorInfos{}
	}
	return sh
}

// Size returns the total size in bytes of the SafetensorsFiles.
func (sfs SafetensorsFiles) Size() SafetensorsBytesScalar {
	var s SafetensorsBytesScalar
	for _, sf := range sfs {
		s += sf.Size
	}
	return s
}

// Analyze analyzes the SafetensorsFiles as one model,
// see SafetensorsHeader.Analyze for details.
func (sfs SafetensorsFiles) Analyze(opts ...SafetensorsAnalyzeOption) *SafetensorsAnalysis {
	sh := sfs.Header()
	return sh.Analyze(uint64(sfs.Size()), opts...)
}

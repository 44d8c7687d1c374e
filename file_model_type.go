package safetensors_parser

import (
	"strings"
)

// SafetensorsModelType describes what kind of model a safetensors file holds.
type SafetensorsModelType string

// SafetensorsModelType constants.
const (
	SafetensorsModelTypeCheckpoint     SafetensorsModelType = "checkpoint"
	SafetensorsModelTypeLoRA           SafetensorsModelType = "lora"
	SafetensorsModelTypeVAE            SafetensorsModelType = "vae"
	SafetensorsModelTypeControlNet     SafetensorsModelType = "controlnet"
	SafetensorsModelTypeTextEncoder    SafetensorsModelType = "text_encoder"
	SafetensorsModelTypeEmbedding      SafetensorsModelType = "embedding"
	SafetensorsModelTypeDiffusionModel SafetensorsModelType = "diffusion_model"
	SafetensorsModelTypeUnknown        SafetensorsModelType = "unknown"
)

// _SafetensorsModelTypeFeatures holds the facts the classification rules look at.
type _SafetensorsModelTypeFeatures struct {
	Architecture string
	TensorCount  int

	HasLoRA        bool
	HasVAE         bool
	HasUNet        bool
	HasControlNet  bool
	HasTextModel   bool
	HasCondStage   bool
	HasFirstStage  bool
	HasEmbedding  bool
}

// _SafetensorsModelTypeRule yields Type if Match holds.
type _SafetensorsModelTypeRule struct {
	Name  string
	Match func(f _SafetensorsModelTypeFeatures) bool
	Type  SafetensorsModelType
}

// _SafetensorsModelTypeRules is evaluated top-down, the first match wins.
//
// Metadata hints go before any tensor name pattern,
// and the checkpoint rule must go before the embedding fallback.
var _SafetensorsModelTypeRules = []_SafetensorsModelTypeRule{
	{
		Name:  "architecture-lora",
		Match: func(f _SafetensorsModelTypeFeatures) bool { return strings.Contains(f.Architecture, "/lora") },
		Type:  SafetensorsModelTypeLoRA,
	},
	{
		Name:  "architecture-vae",
		Match: func(f _SafetensorsModelTypeFeatures) bool { return strings.Contains(f.Architecture, "vae") },
		Type:  SafetensorsModelTypeVAE,
	},
	{
		Name:  "architecture-controlnet",
		Match: func(f _SafetensorsModelTypeFeatures) bool { return strings.Contains(f.Architecture, "controlnet") },
		Type:  SafetensorsModelTypeControlNet,
	},
	{
		Name: "architecture-text-encoder",
		Match: func(f _SafetensorsModelTypeFeatures) bool {
			return strings.Contains(f.Architecture, "text_encoder") || strings.Contains(f.Architecture, "clip")
		},
		Type: SafetensorsModelTypeTextEncoder,
	},
	{
		Name:  "tensors-lora",
		Match: func(f _SafetensorsModelTypeFeatures) bool { return f.HasLoRA },
		Type:  SafetensorsModelTypeLoRA,
	},
	{
		Name:  "tensors-vae",
		Match: func(f _SafetensorsModelTypeFeatures) bool { return f.HasVAE && !f.HasUNet },
		Type:  SafetensorsModelTypeVAE,
	},
	{
		Name:  "tensors-controlnet",
		Match: func(f _SafetensorsModelTypeFeatures) bool { return f.HasControlNet },
		Type:  SafetensorsModelTypeControlNet,
	},
	{
		Name:  "tensors-text-encoder",
		Match: func(f _SafetensorsModelTypeFeatures) bool { return f.HasTextModel && !f.HasUNet },
		Type:  SafetensorsModelTypeTextEncoder,
	},
	{
		Name: "tensors-checkpoint",
		Match: func(f _SafetensorsModelTypeFeatures) bool {
			return f.HasUNet && (f.HasCondStage || f.HasFirstStage || f.HasTextModel)
		},
		Type: SafetensorsModelTypeCheckpoint,
	},
	{
		Name:  "tensors-embedding",
		Match: func(f _SafetensorsModelTypeFeatures) bool { return f.TensorCount <= 5 && f.HasEmbedding },
		Type:  SafetensorsModelTypeEmbedding,
	},
	{
		Name:  "tensors-diffusion-model",
		Match: func(f _SafetensorsModelTypeFeatures) bool { return f.HasUNet },
		Type:  SafetensorsModelTypeDiffusionModel,
	},
}

// DetectSafetensorsModelType infers the SafetensorsModelType from the given tensor names and metadata,
// the metadata can be nil.
//
// DetectSafetensorsModelType never fails, it returns SafetensorsModelTypeUnknown if no rule matches.
func DetectSafetensorsModelType(names []string, metadata SafetensorsMetadata) SafetensorsModelType {
	f := _SafetensorsModelTypeFeatures{
		Architecture: metadata.ModelSpec().Architecture,
		TensorCount:  len(names),
	}
	for _, n := range names {
		if strings.Contains(n, "lora_") &&
			(strings.Contains(n, ".alpha") || strings.Contains(n, ".lora_down") || strings.Contains(n, ".lora_up")) {
			f.HasLoRA = true
		}
		if strings.HasPrefix(n, "decoder.") || strings.HasPrefix(n, "encoder.") {
			f.HasVAE = true
		}
		if strings.Contains(n, "diffusion_model") || strings.Contains(n, "unet") {
			f.HasUNet = true
		}
		if strings.Contains(n, "control_") ||
			(strings.Contains(n, "input_blocks") && strings.Contains(n, "zero_convs")) {
			f.HasControlNet = true
		}
		if strings.Contains(n, "text_model") || strings.Contains(n, "text_encoder") {
			f.HasTextModel = true
		}
		if strings.Contains(n, "cond_stage_model") {
			f.HasCondStage = true
		}
		if strings.Contains(n, "first_stage_model") {
			f.HasFirstStage = true
		}
		if strings.Contains(n, "emb") || n == "weight" {
			f.HasEmbedding = true
		}
	}

	for _, r := range _SafetensorsModelTypeRules {
		if r.Match(f) {
			return r.Type
		}
	}
	return SafetensorsModelTypeUnknown
}

// ModelType returns the SafetensorsModelType of the SafetensorsHeader.
func (sh *SafetensorsHeader) ModelType() SafetensorsModelType {
	return DetectSafetensorsModelType(sh.TensorInfos.Names(), sh.Metadata)
}

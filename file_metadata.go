package safetensors_parser

import (
	"math"
	"strconv"
	"strings"

	"github.com/gpustack/safetensors-parser-go/util/json"
	"github.com/gpustack/safetensors-parser-go/util/ptr"
)

// SafetensorsModelSpecMetadata represents the "modelspec.*" metadata of a safetensors file,
// see https://github.com/Stability-AI/ModelSpec.
type SafetensorsModelSpecMetadata struct {
	// SaiModelSpec is the version of the ModelSpec.
	SaiModelSpec string `json:"saiModelSpec,omitempty"`
	// Architecture identifies the model architecture,
	// e.g. "stable-diffusion-xl-v1-base/lora".
	Architecture   string `json:"architecture,omitempty"`
	Implementation string `json:"implementation,omitempty"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
	Author         string `json:"author,omitempty"`
	Date           string `json:"date,omitempty"`
	// Resolution is the trained resolution, e.g. "1024x1024".
	Resolution     string `json:"resolution,omitempty"`
	PredictionType string `json:"predictionType,omitempty"`
	EncoderLayer   string `json:"encoderLayer,omitempty"`
}

// SafetensorsTrainingMetadata represents the "ss_*" metadata of a safetensors file,
// which is written by kohya-ss/sd-scripts.
//
// Numeric and boolean fields are nil if absent or unparsable.
type SafetensorsTrainingMetadata struct {
	BaseModelVersion string   `json:"baseModelVersion,omitempty"`
	NumTrainImages   *int64   `json:"numTrainImages,omitempty"`
	NumEpochs        *int64   `json:"numEpochs,omitempty"`
	LearningRate     *float64 `json:"learningRate,omitempty"`
	NetworkModule    string   `json:"networkModule,omitempty"`
	NetworkDim       *int64   `json:"networkDim,omitempty"`
	NetworkAlpha     *int64   `json:"networkAlpha,omitempty"`
	Optimizer        string   `json:"optimizer,omitempty"`
	LRScheduler      string   `json:"lrScheduler,omitempty"`
	// TrainingStartedAt and TrainingFinishedAt are copied verbatim,
	// usually a unix timestamp in seconds.
	TrainingStartedAt  string `json:"trainingStartedAt,omitempty"`
	TrainingFinishedAt string `json:"trainingFinishedAt,omitempty"`
	// DatasetDirs and TagFrequency are the decoded JSON values,
	// nil if the value is not valid JSON.
	DatasetDirs           any      `json:"datasetDirs,omitempty"`
	TagFrequency          any      `json:"tagFrequency,omitempty"`
	ClipSkip              *int64   `json:"clipSkip,omitempty"`
	MixedPrecision        string   `json:"mixedPrecision,omitempty"`
	GradientCheckpointing *bool    `json:"gradientCheckpointing,omitempty"`
	NoiseOffset           *float64 `json:"noiseOffset,omitempty"`
	CaptionDropoutRate    *float64 `json:"captionDropoutRate,omitempty"`
}

// SafetensorsModelHashes represents the hash metadata of a safetensors file.
type SafetensorsModelHashes struct {
	ModelHash      string `json:"modelHash,omitempty"`
	LegacyHash     string `json:"legacyHash,omitempty"`
	SDModelHash    string `json:"sdModelHash,omitempty"`
	NewSDModelHash string `json:"newSDModelHash,omitempty"`
}

// Metadata key prefixes.
const (
	_SafetensorsModelSpecKeyPrefix = "modelspec."
	_SafetensorsTrainingKeyPrefix  = "ss_"
)

// ModelSpec returns the SafetensorsModelSpecMetadata of the metadata,
// unknown "modelspec." keys are ignored.
func (sm SafetensorsMetadata) ModelSpec() (ms SafetensorsModelSpecMetadata) {
	const (
		saiModelSpecKey   = _SafetensorsModelSpecKeyPrefix + "sai_model_spec"
		architectureKey   = _SafetensorsModelSpecKeyPrefix + "architecture"
		implementationKey = _SafetensorsModelSpecKeyPrefix + "implementation"
		titleKey          = _SafetensorsModelSpecKeyPrefix + "title"
		descriptionKey    = _SafetensorsModelSpecKeyPrefix + "description"
		authorKey         = _SafetensorsModelSpecKeyPrefix + "author"
		dateKey           = _SafetensorsModelSpecKeyPrefix + "date"
		resolutionKey     = _SafetensorsModelSpecKeyPrefix + "resolution"
		predictionTypeKey = _SafetensorsModelSpecKeyPrefix + "prediction_type"
		encoderLayerKey   = _SafetensorsModelSpecKeyPrefix + "encoder_layer"
	)

	for k, p := range map[string]*string{
		saiModelSpecKey:   &ms.SaiModelSpec,
		architectureKey:   &ms.Architecture,
		implementationKey: &ms.Implementation,
		titleKey:          &ms.Title,
		descriptionKey:    &ms.Description,
		authorKey:         &ms.Author,
		dateKey:           &ms.Date,
		resolutionKey:     &ms.Resolution,
		predictionTypeKey: &ms.PredictionType,
		encoderLayerKey:   &ms.EncoderLayer,
	} {
		if v, ok := sm[k]; ok {
			*p = v
		}
	}

	return ms
}

// Training returns the SafetensorsTrainingMetadata of the metadata,
// unknown "ss_" keys and the hash keys are ignored.
func (sm SafetensorsMetadata) Training() (tm SafetensorsTrainingMetadata) {
	const (
		baseModelVersionKey      = _SafetensorsTrainingKeyPrefix + "base_model_version"
		numTrainImagesKey        = _SafetensorsTrainingKeyPrefix + "num_train_images"
		numEpochsKey             = _SafetensorsTrainingKeyPrefix + "num_epochs"
		learningRateKey          = _SafetensorsTrainingKeyPrefix + "learning_rate"
		networkModuleKey         = _SafetensorsTrainingKeyPrefix + "network_module"
		networkDimKey            = _SafetensorsTrainingKeyPrefix + "network_dim"
		networkAlphaKey          = _SafetensorsTrainingKeyPrefix + "network_alpha"
		optimizerKey             = _SafetensorsTrainingKeyPrefix + "optimizer"
		lrSchedulerKey           = _SafetensorsTrainingKeyPrefix + "lr_scheduler"
		trainingStartedAtKey     = _SafetensorsTrainingKeyPrefix + "training_started_at"
		trainingFinishedAtKey    = _SafetensorsTrainingKeyPrefix + "training_finished_at"
		datasetDirsKey           = _SafetensorsTrainingKeyPrefix + "dataset_dirs"
		tagFrequencyKey          = _SafetensorsTrainingKeyPrefix + "tag_frequency"
		clipSkipKey              = _SafetensorsTrainingKeyPrefix + "clip_skip"
		mixedPrecisionKey        = _SafetensorsTrainingKeyPrefix + "mixed_precision"
		gradientCheckpointingKey = _SafetensorsTrainingKeyPrefix + "gradient_checkpointing"
		noiseOffsetKey           = _SafetensorsTrainingKeyPrefix + "noise_offset"
		captionDropoutRateKey    = _SafetensorsTrainingKeyPrefix + "caption_dropout_rate"
	)

	for k, p := range map[string]*string{
		baseModelVersionKey:   &tm.BaseModelVersion,
		networkModuleKey:      &tm.NetworkModule,
		optimizerKey:          &tm.Optimizer,
		lrSchedulerKey:        &tm.LRScheduler,
		trainingStartedAtKey:  &tm.TrainingStartedAt,
		trainingFinishedAtKey: &tm.TrainingFinishedAt,
		mixedPrecisionKey:     &tm.MixedPrecision,
	} {
		if v, ok := sm[k]; ok {
			*p = v
		}
	}
	for k, p := range map[string]**int64{
		numTrainImagesKey: &tm.NumTrainImages,
		numEpochsKey:      &tm.NumEpochs,
		networkDimKey:     &tm.NetworkDim,
		networkAlphaKey:   &tm.NetworkAlpha,
		clipSkipKey:       &tm.ClipSkip,
	} {
		if v, ok := sm[k]; ok {
			*p = parseMetadataInt(v)
		}
	}
	for k, p := range map[string]**float64{
		learningRateKey:       &tm.LearningRate,
		noiseOffsetKey:        &tm.NoiseOffset,
		captionDropoutRateKey: &tm.CaptionDropoutRate,
	} {
		if v, ok := sm[k]; ok {
			*p = parseMetadataFloat(v)
		}
	}
	for k, p := range map[string]*any{
		datasetDirsKey:  &tm.DatasetDirs,
		tagFrequencyKey: &tm.TagFrequency,
	} {
		if v, ok := sm[k]; ok {
			*p = parseMetadataJSON(v)
		}
	}
	if v, ok := sm[gradientCheckpointingKey]; ok {
		// Only the Python literal is recognized.
		tm.GradientCheckpointing = ptr.To(v == "True")
	}

	return tm
}

// Hashes returns the SafetensorsModelHashes of the metadata.
func (sm SafetensorsMetadata) Hashes() (mh SafetensorsModelHashes) {
	const (
		modelHashKey      = "sshs_model_hash"
		legacyHashKey     = "sshs_legacy_hash"
		sdModelHashKey    = _SafetensorsTrainingKeyPrefix + "sd_model_hash"
		newSDModelHashKey = _SafetensorsTrainingKeyPrefix + "new_sd_model_hash"
	)

	for k, p := range map[string]*string{
		modelHashKey:      &mh.ModelHash,
		legacyHashKey:     &mh.LegacyHash,
		sdModelHashKey:    &mh.SDModelHash,
		newSDModelHashKey: &mh.NewSDModelHash,
	} {
		if v, ok := sm[k]; ok {
			*p = v
		}
	}

	return mh
}

// Format returns the "format" metadata, e.g. "pt".
func (sm SafetensorsMetadata) Format() string {
	return sm["format"]
}

// parseMetadataInt parses the given string as an integer,
// a decimal is truncated toward zero, nil if not a finite number.
func parseMetadataInt(s string) *int64 {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &i
	}
	f := parseMetadataFloat(s)
	if f == nil || *f >= math.MaxInt64 || *f < math.MinInt64 {
		return nil
	}
	return ptr.To(int64(*f))
}

// parseMetadataFloat parses the given string as a float,
// nil if not a finite number.
func parseMetadataFloat(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// parseMetadataJSON decodes the given JSON-encoded string,
// nil if not valid JSON.
func parseMetadataJSON(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

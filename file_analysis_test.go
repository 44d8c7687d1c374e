package safetensors_parser

import (
	"fmt"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpustack/safetensors-parser-go/util/json"
	"github.com/gpustack/safetensors-parser-go/util/ptr"
)

func newTestLoRAHeader() *SafetensorsHeader {
	return &SafetensorsHeader{
		Metadata: SafetensorsMetadata{
			"format":                "pt",
			"ss_base_model_version": "sdxl_base_v1-0",
			"ss_network_module":     "networks.lora",
			"ss_network_dim":        "16",
			"ss_network_alpha":      "8",
			"ss_tag_frequency":      `{"img":{"1girl":100,"blue_archive":120,"solo":95}}`,
			"sshs_model_hash":       "deadbeef",
		},
		TensorInfos: SafetensorsTensorInfos{
			{Name: "lora_te1_x.alpha", DType: SafetensorsDTypeF16, Shape: []uint64{}, DataOffsets: [2]uint64{0, 2}},
			{Name: "lora_te1_x.lora_down.weight", DType: SafetensorsDTypeF16, Shape: []uint64{16, 768}, DataOffsets: [2]uint64{2, 24578}},
			{Name: "lora_unet_y.lora_up.weight", DType: SafetensorsDTypeF32, Shape: []uint64{320, 16}, DataOffsets: [2]uint64{24578, 45058}},
		},
	}
}

func TestSafetensorsHeader_Analyze(t *testing.T) {
	sh := newTestLoRAHeader()

	a := sh.Analyze(1 << 20)
	assert.Equal(t, SafetensorsModelTypeLoRA, a.ModelType)
	assert.Equal(t, SafetensorsBytesScalar(1<<20), a.FileStats.FileSize)
	assert.Equal(t, uint64(3), a.FileStats.TensorCount)
	assert.Equal(t, SafetensorsParametersScalar(1+16*768+320*16), a.FileStats.TotalParameters)
	assert.Equal(t, []SafetensorsDType{SafetensorsDTypeF16, SafetensorsDTypeF32}, a.FileStats.DTypes)
	if assert.Len(t, a.Tensors, 3) {
		assert.Equal(t, "lora_te1_x.lora_down.weight", a.Tensors[1].Name)
		assert.Equal(t, SafetensorsBytesScalar(24576), a.Tensors[1].Size)
		assert.Equal(t, SafetensorsParametersScalar(12288), a.Tensors[1].Parameters)
		assert.Equal(t, SafetensorsParametersScalar(1), a.Tensors[0].Parameters)
	}
	assert.Equal(t, sh.Metadata, a.Metadata)
	assert.Equal(t, "deadbeef", a.Hashes.ModelHash)
	assert.Equal(t, ptr.To[int64](16), a.Training.NetworkDim)
	assert.Equal(t, &SafetensorsLoRAInfo{
		BaseModel:        "sdxl_base_v1-0",
		TargetComponents: []string{"CLIP-L", "UNet"},
		Rank:             ptr.To[int64](16),
		Alpha:            ptr.To[int64](8),
		TriggerWords:     []string{"blue_archive", "1girl", "solo"},
		Module:           "networks.lora",
	}, a.LoRA)
	assert.Equal(t, SafetensorsCompatibility{PyTorch: true}, a.Compatibility)
	assert.Equal(t, []string{}, a.Warnings)

	t.Log("\n", spew.Sdump(a), "\n")
}

func TestSafetensorsHeader_Analyze_Options(t *testing.T) {
	sh := newTestLoRAHeader()

	t.Run("max trigger words", func(t *testing.T) {
		a := sh.Analyze(0, WithMaxTriggerWords(2))
		assert.Equal(t, []string{"blue_archive", "1girl"}, a.LoRA.TriggerWords)
	})

	t.Run("skip trigger words", func(t *testing.T) {
		a := sh.Analyze(0, SkipTriggerWords())
		assert.Equal(t, []string{}, a.LoRA.TriggerWords)
		assert.Equal(t, []string{"CLIP-L", "UNet"}, a.LoRA.TargetComponents)
	})

	t.Run("skip tensors", func(t *testing.T) {
		a := sh.Analyze(0, SkipTensors(), WithMaxTensors(1))
		assert.Nil(t, a.Tensors)
		assert.Equal(t, []string{}, a.Warnings)
		assert.Equal(t, uint64(3), a.FileStats.TensorCount)
	})

	t.Run("negative max tensors lists all", func(t *testing.T) {
		a := sh.Analyze(0, WithMaxTensors(1), WithMaxTensors(-1))
		assert.Len(t, a.Tensors, 3)
		assert.Equal(t, []string{}, a.Warnings)
	})
}

func TestSafetensorsHeader_Analyze_MaxTensors(t *testing.T) {
	sh := newTestLoRAHeader()

	for _, n := range []int{0, 1, 2, 3, 10} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			a := sh.Analyze(0, WithMaxTensors(n))
			assert.Len(t, a.Tensors, min(n, 3))
			if n < 3 {
				assert.Equal(t, []string{fmt.Sprintf("Tensor list truncated to %d items", n)}, a.Warnings)
			} else {
				assert.Empty(t, a.Warnings)
			}
			// Statistics are not affected by the limit.
			assert.Equal(t, uint64(3), a.FileStats.TensorCount)
			assert.Equal(t, SafetensorsParametersScalar(1+16*768+320*16), a.FileStats.TotalParameters)
		})
	}
}

func TestSafetensorsHeader_Analyze_Compatibility(t *testing.T) {
	testCases := []struct {
		name     string
		format   string
		names    []string
		expected SafetensorsCompatibility
	}{
		{"pt", "pt", []string{"x"}, SafetensorsCompatibility{PyTorch: true}},
		{"tf", "tf", []string{"x"}, SafetensorsCompatibility{TensorFlow: true}},
		{"tf with weights", "tf", []string{"dense.weight"}, SafetensorsCompatibility{PyTorch: true, TensorFlow: true}},
		{"jax", "jax", []string{"x"}, SafetensorsCompatibility{JAX: true}},
		{"numpy", "numpy", []string{"x"}, SafetensorsCompatibility{NumPy: true}},
		{"weights without format", "", []string{"a.bias", "a.weight"}, SafetensorsCompatibility{PyTorch: true}},
		{"nothing", "", []string{"a.bias"}, SafetensorsCompatibility{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sh := &SafetensorsHeader{}
			if tc.format != "" {
				sh.Metadata = SafetensorsMetadata{"format": tc.format}
			}
			for _, n := range tc.names {
				sh.TensorInfos = append(sh.TensorInfos, SafetensorsTensorInfo{Name: n, DType: SafetensorsDTypeF32})
			}
			assert.Equal(t, tc.expected, sh.Analyze(0).Compatibility)
		})
	}
}

func TestSafetensorsHeader_Analyze_Empty(t *testing.T) {
	sh := &SafetensorsHeader{Size: 2, TensorInfos: SafetensorsTensorInfos{}}

	a := sh.Analyze(10)
	assert.Equal(t, SafetensorsModelTypeUnknown, a.ModelType)
	assert.Equal(t, uint64(0), a.FileStats.TensorCount)
	assert.Equal(t, SafetensorsParametersScalar(0), a.FileStats.TotalParameters)
	assert.Empty(t, a.FileStats.DTypes)
	assert.Nil(t, a.LoRA)
	assert.Equal(t, []SafetensorsAnalysisTensor{}, a.Tensors)
}

func TestSafetensorsHeader_AnalyzePartial(t *testing.T) {
	t.Run("lora", func(t *testing.T) {
		pa := newTestLoRAHeader().AnalyzePartial(SkipTensors())
		assert.Equal(t, SafetensorsModelTypeLoRA, pa.ModelType)
		assert.Equal(t, SafetensorsBytesScalar(0), pa.FileStats.FileSize)
		assert.Nil(t, pa.Tensors)
		assert.Nil(t, pa.ModelSpec)
		if assert.NotNil(t, pa.Training) {
			assert.Equal(t, "networks.lora", pa.Training.NetworkModule)
		}
		assert.NotNil(t, pa.Hashes)
		assert.NotNil(t, pa.LoRA)
		assert.Equal(t, &SafetensorsCompatibility{PyTorch: true}, pa.Compatibility)
		assert.Nil(t, pa.Warnings)
	})

	t.Run("bare", func(t *testing.T) {
		sh := &SafetensorsHeader{
			TensorInfos: SafetensorsTensorInfos{{Name: "decoder.x", DType: SafetensorsDTypeF32, Shape: []uint64{2}}},
		}
		pa := sh.AnalyzePartial()
		assert.Equal(t, SafetensorsModelTypeVAE, pa.ModelType)
		assert.Nil(t, pa.Training)
		assert.Nil(t, pa.Hashes)
		assert.Nil(t, pa.Compatibility)
	})
}

func TestAnalyzeSafetensors(t *testing.T) {
	b, err := newTestLoRAHeader().Encode()
	require.NoError(t, err)
	b = append(b, make([]byte, 45058)...)

	a, err := AnalyzeSafetensors(b, WithMaxTensors(2))
	require.NoError(t, err)
	assert.Equal(t, SafetensorsModelTypeLoRA, a.ModelType)
	assert.Equal(t, SafetensorsBytesScalar(len(b)), a.FileStats.FileSize)
	assert.Equal(t, SafetensorsBytesScalar(len(b)-8-45058), a.FileStats.HeaderSize)
	assert.Len(t, a.Tensors, 2)
	assert.Equal(t, []string{"Tensor list truncated to 2 items"}, a.Warnings)

	_, err = AnalyzeSafetensors([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrSafetensorsFileInvalidFormat)
}

func TestAnalyzeSafetensorsHeaderJSON(t *testing.T) {
	j, err := newTestLoRAHeader().EncodeJSON()
	require.NoError(t, err)

	a, err := AnalyzeSafetensorsHeaderJSON(j, 123456)
	require.NoError(t, err)
	assert.Equal(t, SafetensorsBytesScalar(123456), a.FileStats.FileSize)
	assert.Equal(t, SafetensorsBytesScalar(len(j)), a.FileStats.HeaderSize)
	assert.Equal(t, []string{"blue_archive", "1girl", "solo"}, a.LoRA.TriggerWords)

	_, err = AnalyzeSafetensorsHeaderJSON([]byte(`{"x":`), 0)
	assert.ErrorIs(t, err, ErrSafetensorsHeaderInvalidJSON)
}

func TestSafetensorsAnalysis_MarshalJSON(t *testing.T) {
	a := newTestLoRAHeader().Analyze(1024, WithMaxTensors(1))

	b, err := json.Marshal(a)
	require.NoError(t, err)

	var m struct {
		ModelType string `json:"modelType"`
		FileStats struct {
			DTypes      []string          `json:"dtypes"`
			DTypeCounts map[string]uint64 `json:"dtypeCounts"`
		} `json:"fileStats"`
		Tensors []struct {
			Name        string    `json:"name"`
			DType       string    `json:"dtype"`
			Shape       []uint64  `json:"shape"`
			DataOffsets [2]uint64 `json:"dataOffsets"`
			Size        uint64    `json:"size"`
		} `json:"tensors"`
	}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "lora", m.ModelType)
	assert.Equal(t, []string{"F16", "F32"}, m.FileStats.DTypes)
	assert.Equal(t, map[string]uint64{"F16": 2, "F32": 1}, m.FileStats.DTypeCounts)
	if assert.Len(t, m.Tensors, 1) {
		assert.Equal(t, "lora_te1_x.alpha", m.Tensors[0].Name)
		assert.Equal(t, "F16", m.Tensors[0].DType)
		assert.Empty(t, m.Tensors[0].Shape)
		assert.Equal(t, [2]uint64{0, 2}, m.Tensors[0].DataOffsets)
		assert.Equal(t, uint64(2), m.Tensors[0].Size)
	}
}

func TestSafetensorsFiles_Analyze(t *testing.T) {
	sfs := SafetensorsFiles{
		{
			Header: SafetensorsHeader{
				Size:     100,
				Metadata: SafetensorsMetadata{"format": "pt", "total_size": "10"},
				TensorInfos: SafetensorsTensorInfos{
					{Name: "model.diffusion_model.a", DType: SafetensorsDTypeBF16, Shape: []uint64{2, 2}, DataOffsets: [2]uint64{0, 8}},
				},
			},
			Size: 116,
		},
		{
			Header: SafetensorsHeader{
				Size:     200,
				Metadata: SafetensorsMetadata{"format": "tf"},
				TensorInfos: SafetensorsTensorInfos{
					{Name: "cond_stage_model.b", DType: SafetensorsDTypeBF16, Shape: []uint64{3}, DataOffsets: [2]uint64{0, 6}},
				},
			},
			Size: 214,
		},
	}

	a := sfs.Analyze()
	assert.Equal(t, SafetensorsModelTypeCheckpoint, a.ModelType)
	assert.Equal(t, SafetensorsBytesScalar(330), a.FileStats.FileSize)
	assert.Equal(t, SafetensorsBytesScalar(300), a.FileStats.HeaderSize)
	assert.Equal(t, uint64(2), a.FileStats.TensorCount)
	assert.Equal(t, SafetensorsParametersScalar(7), a.FileStats.TotalParameters)
	assert.Equal(t, SafetensorsMetadata{"format": "pt", "total_size": "10"}, a.Metadata)

	assert.Equal(t, SafetensorsHeader{TensorInfos: SafetensorsTensorInfos{}}, SafetensorsFiles(nil).Header())
}

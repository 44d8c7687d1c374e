package safetensors_parser

import (
	"sort"
	"strings"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/gpustack/safetensors-parser-go/util/anyx"
	"github.com/gpustack/safetensors-parser-go/util/json"
)

// SafetensorsLoRAInfo represents the LoRA specific information of a safetensors file.
type SafetensorsLoRAInfo struct {
	// BaseModel is the base model version the LoRA was trained on,
	// copied from "ss_base_model_version".
	BaseModel string `json:"baseModel,omitempty"`
	// TargetComponents are the components the LoRA adapts,
	// e.g. "CLIP-L", "CLIP-G", "UNet", in first-seen order.
	TargetComponents []string `json:"targetComponents"`
	// Rank is copied from "ss_network_dim".
	Rank *int64 `json:"rank,omitempty"`
	// Alpha is copied from "ss_network_alpha".
	Alpha *int64 `json:"alpha,omitempty"`
	// TriggerWords are the most frequent training tags,
	// in descending frequency.
	TriggerWords []string `json:"triggerWords"`
	// Module is the training network module, e.g. "networks.lora",
	// copied from "ss_network_module".
	Module string `json:"module,omitempty"`
}

// _SafetensorsLoRAComponentPrefixes maps the tensor name prefixes to the target components,
// in the order of kohya-ss naming.
var _SafetensorsLoRAComponentPrefixes = []struct {
	Prefix    string
	Component string
}{
	{"lora_te1_", "CLIP-L"},
	{"lora_te2_", "CLIP-G"},
	{"lora_unet_", "UNet"},
}

// DetectSafetensorsLoRATargetComponents returns the components adapted by the given LoRA tensor names,
// each component appears once, in the order of its first matching tensor.
func DetectSafetensorsLoRATargetComponents(names []string) []string {
	cs := make([]string, 0, len(_SafetensorsLoRAComponentPrefixes))
	seen := make(map[string]struct{}, len(_SafetensorsLoRAComponentPrefixes))
	for _, n := range names {
		for _, p := range _SafetensorsLoRAComponentPrefixes {
			if !strings.HasPrefix(n, p.Prefix) {
				continue
			}
			if _, ok := seen[p.Component]; !ok {
				seen[p.Component] = struct{}{}
				cs = append(cs, p.Component)
			}
			break
		}
	}
	return cs
}

// ExtractSafetensorsTriggerWords returns at most topK tags of the given "ss_tag_frequency" JSON,
// which is structured as {"<category>": {"<tag>": <count>}}.
//
// The categories are merged into one tag->count mapping,
// a tag repeated in a later category replaces the earlier count
// but keeps its first-seen position.
// Tags are ranked by descending count, ties keep the first-seen order.
//
// Only JSON numbers count,
// a quoted number like "100" is skipped as any other non-numeric count.
//
// ExtractSafetensorsTriggerWords never fails,
// malformed input and non-numeric counts are skipped,
// an empty list is returned if nothing is usable.
func ExtractSafetensorsTriggerWords(tagFrequency string, topK int) []string {
	type tagCount struct {
		Tag   string
		Count float64
	}

	m := linkedhashmap.New()
	_ = json.ObjectEach([]byte(tagFrequency), func(_ string, category json.RawMessage) error {
		if !json.IsObject(category) {
			return nil
		}
		return json.ObjectEach(category, func(tag string, count json.RawMessage) error {
			if !json.IsNumber(count) {
				return nil
			}
			var v any
			if err := json.Unmarshal(count, &v); err != nil {
				return nil
			}
			if c, ok := anyx.Number[float64](v); ok {
				m.Put(tag, c)
			}
			return nil
		})
	})

	tcs := make([]tagCount, 0, m.Size())
	for it := m.Iterator(); it.Next(); {
		tcs = append(tcs, tagCount{Tag: it.Key().(string), Count: it.Value().(float64)})
	}

	sort.SliceStable(tcs, func(i, j int) bool {
		return tcs[i].Count > tcs[j].Count
	})

	if topK < 0 {
		topK = 0
	}
	if topK > len(tcs) {
		topK = len(tcs)
	}
	tws := make([]string, topK)
	for i := range tws {
		tws[i] = tcs[i].Tag
	}
	return tws
}

// extractSafetensorsLoRAInfo assembles the SafetensorsLoRAInfo from the tensor names and the metadata.
func extractSafetensorsLoRAInfo(names []string, sm SafetensorsMetadata, tm SafetensorsTrainingMetadata, o _SafetensorsAnalyzeOptions) *SafetensorsLoRAInfo {
	li := &SafetensorsLoRAInfo{
		BaseModel:        tm.BaseModelVersion,
		TargetComponents: DetectSafetensorsLoRATargetComponents(names),
		Rank:             tm.NetworkDim,
		Alpha:            tm.NetworkAlpha,
		TriggerWords:     []string{},
		Module:           tm.NetworkModule,
	}
	if !o.SkipTriggerWords {
		if v, ok := sm[_SafetensorsTrainingKeyPrefix+"tag_frequency"]; ok {
			li.TriggerWords = ExtractSafetensorsTriggerWords(v, o.MaxTriggerWords)
		}
	}
	return li
}

package safetensors_parser

type (
	_SafetensorsAnalyzeOptions struct {
		// Tensors
		SkipTensors bool
		MaxTensors  *int

		// LoRA
		SkipTriggerWords bool
		MaxTriggerWords  int
	}
	SafetensorsAnalyzeOption func(o *_SafetensorsAnalyzeOptions)
)

// _SafetensorsDefaultMaxTriggerWords is the default limit of the trigger words.
const _SafetensorsDefaultMaxTriggerWords = 5

// SkipTensors skips the per-tensor list of the analysis,
// the statistics are still computed over all tensors.
func SkipTensors() SafetensorsAnalyzeOption {
	return func(o *_SafetensorsAnalyzeOptions) {
		o.SkipTensors = true
	}
}

// WithMaxTensors limits the per-tensor list of the analysis to the given size,
// a warning is recorded if the list is truncated.
//
// A negative size lists all tensors, which is the default.
func WithMaxTensors(n int) SafetensorsAnalyzeOption {
	return func(o *_SafetensorsAnalyzeOptions) {
		if n < 0 {
			o.MaxTensors = nil
			return
		}
		o.MaxTensors = &n
	}
}

// SkipTriggerWords skips extracting the LoRA trigger words.
func SkipTriggerWords() SafetensorsAnalyzeOption {
	return func(o *_SafetensorsAnalyzeOptions) {
		o.SkipTriggerWords = true
	}
}

// WithMaxTriggerWords limits the LoRA trigger words to the given size,
// default is 5.
func WithMaxTriggerWords(n int) SafetensorsAnalyzeOption {
	return func(o *_SafetensorsAnalyzeOptions) {
		if n < 0 {
			n = 0
		}
		o.MaxTriggerWords = n
	}
}

func newSafetensorsAnalyzeOptions(opts []SafetensorsAnalyzeOption) _SafetensorsAnalyzeOptions {
	o := _SafetensorsAnalyzeOptions{
		MaxTriggerWords: _SafetensorsDefaultMaxTriggerWords,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/gpustack/safetensors-parser-go/util/json"
	"github.com/gpustack/safetensors-parser-go/util/osx"
	"github.com/gpustack/safetensors-parser-go/util/signalx"

	. "github.com/gpustack/safetensors-parser-go" // nolint: stylecheck
)

var Version = "v0.0.0"

func main() {
	name := filepath.Base(os.Args[0])
	app := &cli.App{
		Name:            name,
		Usage:           "Review/Check safetensors files, classify the model and summarize the header.",
		UsageText:       name + " [GLOBAL OPTIONS]",
		Version:         Version,
		Reader:          os.Stdin,
		Writer:          os.Stdout,
		ErrWriter:       os.Stderr,
		HideHelpCommand: true,
		OnUsageError: func(c *cli.Context, _ error, _ bool) error {
			return cli.ShowAppHelp(c)
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Destination: &debug,
				Value:       debug,
				Name:        "debug",
				Usage:       "Enable debugging, verbosity.",
			},
			&cli.StringFlag{
				Destination: &path,
				Value:       path,
				Category:    "Model/Local",
				Name:        "path",
				Aliases: []string{
					"model",
					"m",
				},
				Usage: "Path where the safetensors file to load, e.g. \"~/.cache/huggingface/hub/" +
					"models--stabilityai--stable-diffusion-xl-base-1.0/snapshots/<sha>/sd_xl_base_1.0.safetensors\". " +
					"A \".json\" path is treated as the header JSON sidecar of a safetensors file.",
			},
			&cli.StringFlag{
				Destination: &fileSize,
				Value:       fileSize,
				Category:    "Model/Local",
				Name:        "file-size",
				Usage: "Size of the safetensors file described by the header JSON sidecar, e.g. \"6.5 GiB\", " +
					"works with a \".json\" --path.",
			},
			&cli.StringFlag{
				Destination: &url,
				Value:       url,
				Category:    "Model/Remote",
				Name:        "url",
				Aliases: []string{
					"model-url",
					"mu",
				},
				Usage: "Url where the safetensors file to load, e.g. " +
					"\"https://huggingface.co/stabilityai/stable-diffusion-xl-base-1.0" +
					"/resolve/main/sd_xl_base_1.0.safetensors\". " +
					"Note that safetensors-parser does not need to download the entire safetensors file.",
			},
			&cli.StringFlag{
				Destination: &token,
				Value:       token,
				Category:    "Model/Remote",
				Name:        "token",
				Usage: "Bearer auth token to load safetensors file, optional, " +
					"works with --url.",
			},
			&cli.StringFlag{
				Destination: &hfRepo,
				Value:       hfRepo,
				Category:    "Model/Remote/HuggingFace",
				Name:        "hf-repo",
				Aliases: []string{
					"hfr",
				},
				Usage: "Repository of HuggingFace which the safetensors file store, e.g. " +
					"\"stabilityai/stable-diffusion-xl-base-1.0\", works with --hf-file.",
			},
			&cli.StringFlag{
				Destination: &hfFile,
				Value:       hfFile,
				Category:    "Model/Remote/HuggingFace",
				Name:        "hf-file",
				Aliases: []string{
					"hff",
				},
				Usage: "Model file below the --hf-repo, e.g. " +
					"\"sd_xl_base_1.0.safetensors\".",
			},
			&cli.StringFlag{
				Destination: &hfToken,
				Value:       hfToken,
				Category:    "Model/Remote/HuggingFace",
				Name:        "hf-token",
				Aliases: []string{
					"hft",
				},
				EnvVars: []string{
					"HF_TOKEN",
				},
				Usage: "User access token of HuggingFace, optional, " +
					"works with --hf-repo/--hf-file pair. " +
					"See https://huggingface.co/settings/tokens.",
			},
			&cli.StringFlag{
				Destination: &msRepo,
				Value:       msRepo,
				Category:    "Model/Remote/ModelScope",
				Name:        "ms-repo",
				Usage: "Repository of ModelScope which the safetensors file store, e.g. " +
					"\"AI-ModelScope/stable-diffusion-xl-base-1.0\", works with --ms-file.",
			},
			&cli.StringFlag{
				Destination: &msFile,
				Value:       msFile,
				Category:    "Model/Remote/ModelScope",
				Name:        "ms-file",
				Usage: "Model file below the --ms-repo, e.g. " +
					"\"sd_xl_base_1.0.safetensors\".",
			},
			&cli.StringFlag{
				Destination: &msToken,
				Value:       msToken,
				Category:    "Model/Remote/ModelScope",
				Name:        "ms-token",
				EnvVars: []string{
					"MS_TOKEN",
				},
				Usage: "Git access token of ModelScope, optional, " +
					"works with --ms-repo/--ms-file pair. " +
					"See https://modelscope.cn/my/myaccesstoken.",
			},
			&cli.BoolFlag{
				Destination: &shards,
				Value:       shards,
				Category:    "Load",
				Name:        "shards",
				Usage: "Load all shards of a sharded checkpoint, " +
					"e.g. \"model-00001-of-00004.safetensors\", and analyze them as one model.",
			},
			&cli.BoolFlag{
				Destination: &skipProxy,
				Value:       skipProxy,
				Category:    "Load",
				Name:        "skip-proxy",
				Usage: "Skip proxy settings, " +
					"works with --url/--hf-*/--ms-*, " +
					"default is respecting the environment variables \"HTTP_PROXY/HTTPS_PROXY/NO_PROXY\".",
			},
			&cli.BoolFlag{
				Destination: &skipTLSVerify,
				Value:       skipTLSVerify,
				Category:    "Load",
				Name:        "skip-tls-verify",
				Usage: "Skip TLS verification, " +
					"works with --url/--hf-*/--ms-*, " +
					"default is verifying the TLS certificate on HTTPs request.",
			},
			&cli.BoolFlag{
				Destination: &skipDNSCache,
				Value:       skipDNSCache,
				Category:    "Load",
				Name:        "skip-dns-cache",
				Usage: "Skip DNS cache, " +
					"works with --url/--hf-*/--ms-*, " +
					"default is caching the DNS lookup result.",
			},
			&cli.BoolFlag{
				Destination: &skipRangDownloadDetect,
				Value:       skipRangDownloadDetect,
				Category:    "Load",
				Name:        "skip-range-download-detect",
				Usage: "Skip range download detect, " +
					"works with --url/--hf-*/--ms-*, " +
					"default is detecting the range download support.",
			},
			&cli.StringFlag{
				Destination: &bufferSize,
				Value:       bufferSize,
				Category:    "Load",
				Name:        "buffer-size",
				Usage: "Size of the buffer to read the remote file, e.g. \"4MiB\", " +
					"works with --url/--hf-*/--ms-*.",
			},
			&cli.IntFlag{
				Destination: &maxConcurrency,
				Value:       maxConcurrency,
				Category:    "Load",
				Name:        "max-concurrency",
				Usage:       "Maximum number of shards to load at the same time, works with --shards.",
			},
			&cli.BoolFlag{
				Destination: &cache,
				Value:       cache,
				Category:    "Load",
				Name:        "cache",
				Usage: "Cache the read result under the user cache directory, " +
					"works with --url/--hf-*/--ms-*.",
			},
			&cli.StringFlag{
				Destination: &cachePath,
				Value:       cachePath,
				Category:    "Load",
				Name:        "cache-path",
				Usage: "Cache the read result to the path, " +
					"works with --url/--hf-*/--ms-*.",
			},
			&cli.DurationFlag{
				Destination: &cacheExpiration,
				Value:       cacheExpiration,
				Category:    "Load",
				Name:        "cache-expiration",
				Usage: "Specify the expiration of the cache, " +
					"works with --cache/--cache-path.",
			},
			&cli.BoolFlag{
				Destination: &mmap,
				Value:       mmap,
				Category:    "Load",
				Name:        "mmap",
				Usage:       "Use mmap to read the local file, works with --path.",
			},
			&cli.BoolFlag{
				Destination: &strict,
				Value:       strict,
				Category:    "Load",
				Name:        "strict",
				Usage: "Reject a tensor whose \"data_offsets\" span mismatches its dtype and shape, " +
					"or exceeds the end of the file.",
			},
			&cli.BoolFlag{
				Destination: &skipTensors,
				Value:       skipTensors,
				Category:    "Analyze",
				Name:        "skip-tensors",
				Usage:       "Skip to list the tensors, the statistics still cover all tensors.",
			},
			&cli.IntFlag{
				Destination: &maxTensors,
				Value:       maxTensors,
				Category:    "Analyze",
				Name:        "max-tensors",
				Usage:       "Maximum number of tensors to list, negative lists all tensors.",
			},
			&cli.BoolFlag{
				Destination: &skipTriggerWords,
				Value:       skipTriggerWords,
				Category:    "Analyze",
				Name:        "skip-trigger-words",
				Usage:       "Skip to extract the trigger words of a LoRA model.",
			},
			&cli.IntFlag{
				Destination: &maxTriggerWords,
				Value:       maxTriggerWords,
				Category:    "Analyze",
				Name:        "max-trigger-words",
				Usage:       "Maximum number of trigger words to extract for a LoRA model.",
			},
			&cli.BoolFlag{
				Destination: &raw,
				Value:       raw,
				Category:    "Output",
				Name:        "raw",
				Usage:       "Output the parsed header in JSON only, skip the analysis.",
			},
			&cli.BoolFlag{
				Destination: &inJson,
				Value:       inJson,
				Category:    "Output",
				Name:        "json",
				Usage:       "Output as JSON.",
			},
			&cli.BoolFlag{
				Destination: &inPrettyJson,
				Value:       inPrettyJson,
				Category:    "Output",
				Name:        "json-pretty",
				Usage:       "Works with --json, to output pretty format JSON.",
			},
		},
		Action: mainAction,
	}

	if err := app.RunContext(signalx.Handler(context.Background()), os.Args); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

var (
	// model options
	path     string
	fileSize string
	url      string
	token    string
	hfRepo   string
	hfFile   string
	hfToken  string
	msRepo   string
	msFile   string
	msToken  string
	// load options
	debug                  bool
	shards                 bool
	skipProxy              bool
	skipTLSVerify          bool
	skipDNSCache           bool
	skipRangDownloadDetect bool
	bufferSize             string
	maxConcurrency         = 4
	cache                  bool
	cachePath              string
	cacheExpiration        = 24 * time.Hour
	mmap                   bool
	strict                 bool
	// analyze options
	skipTensors      bool
	maxTensors       = -1
	skipTriggerWords bool
	maxTriggerWords  = 5
	// output options
	raw          bool
	inJson       bool
	inPrettyJson = true
)

func mainAction(c *cli.Context) error {
	ctx := c.Context

	slog.SetDefault(newLogger(c.App.ErrWriter, debug))

	ropts := []SafetensorsReadOption{
		UseMaxConcurrency(maxConcurrency),
	}
	if debug {
		ropts = append(ropts, UseDebug())
	}
	if skipProxy {
		ropts = append(ropts, SkipProxy())
	}
	if skipTLSVerify {
		ropts = append(ropts, SkipTLSVerification())
	}
	if skipDNSCache {
		ropts = append(ropts, SkipDNSCache())
	}
	if skipRangDownloadDetect {
		ropts = append(ropts, SkipRangeDownloadDetection())
	}
	if bufferSize != "" {
		bs, err := ParseSafetensorsBytesScalar(bufferSize)
		if err != nil {
			return fmt.Errorf("failed to parse buffer size: %w", err)
		}
		ropts = append(ropts, UseBufferSize(int(bs)))
	}
	switch {
	case cachePath != "":
		ropts = append(ropts, UseCachePath(cachePath), UseCacheExpiration(cacheExpiration))
	case cache:
		ropts = append(ropts, UseCache(), UseCacheExpiration(cacheExpiration))
	}
	if mmap {
		ropts = append(ropts, UseMMap())
	}
	if strict {
		ropts = append(ropts, UseStrictDataOffsets())
	}

	aopts := []SafetensorsAnalyzeOption{
		WithMaxTensors(maxTensors),
		WithMaxTriggerWords(maxTriggerWords),
	}
	if skipTensors {
		aopts = append(aopts, SkipTensors())
	}
	if skipTriggerWords {
		aopts = append(aopts, SkipTriggerWords())
	}

	// Sidecar.

	if path != "" && strings.HasSuffix(path, ".json") {
		var fs SafetensorsBytesScalar
		if fileSize != "" {
			s, err := ParseSafetensorsBytesScalar(fileSize)
			if err != nil {
				return fmt.Errorf("failed to parse file size: %w", err)
			}
			fs = s
		}
		b, err := os.ReadFile(osx.InlineTilde(path))
		if err != nil {
			return fmt.Errorf("failed to read header json: %w", err)
		}
		if raw {
			sh, err := ParseSafetensorsHeaderJSON(b, ropts...)
			if err != nil {
				return fmt.Errorf("failed to parse header json: %w", err)
			}
			return jprint(c.App.Writer, sh)
		}
		a, err := AnalyzeSafetensorsHeaderJSON(b, uint64(fs), aopts...)
		if err != nil {
			return fmt.Errorf("failed to parse header json: %w", err)
		}
		return output(c.App.Writer, a)
	}

	// Safetensors file.

	var (
		sfs SafetensorsFiles
		err error
	)
	{
		start := time.Now()
		switch {
		case path != "":
			p := osx.InlineTilde(path)
			slog.Debug("loading", "path", p, "shards", shards)
			if shards {
				sfs, err = ParseSafetensorsShards(p, ropts...)
			} else {
				var sf *SafetensorsFile
				if sf, err = ParseSafetensorsFile(p, ropts...); err == nil {
					sfs = SafetensorsFiles{sf}
				}
			}
		case url != "" || hfRepo != "" && hfFile != "" || msRepo != "" && msFile != "":
			u, tk := url, token
			switch {
			case url != "":
			case hfRepo != "" && hfFile != "":
				u, tk = HuggingFaceURL(hfRepo, hfFile), hfToken
			default:
				u, tk = ModelScopeURL(msRepo, msFile), msToken
				ropts = append(ropts, SkipRangeDownloadDetection())
			}
			if tk != "" {
				ropts = append(ropts, UseBearerAuth(tk))
			}
			slog.Debug("loading", "url", u, "shards", shards)
			if shards {
				sfs, err = ParseSafetensorsShardsRemote(ctx, u, ropts...)
			} else {
				var sf *SafetensorsFile
				if sf, err = ParseSafetensorsFileRemote(ctx, u, ropts...); err == nil {
					sfs = SafetensorsFiles{sf}
				}
			}
		default:
			return errors.New("no model specified, " +
				"use --path, --url, --hf-repo/--hf-file or --ms-repo/--ms-file")
		}
		if err != nil {
			return fmt.Errorf("failed to parse safetensors file: %w", err)
		}
		slog.Debug("loaded", "files", len(sfs), "elapsed", time.Since(start))
	}

	if raw {
		if len(sfs) == 1 {
			return jprint(c.App.Writer, sfs[0])
		}
		return jprint(c.App.Writer, sfs)
	}

	return output(c.App.Writer, sfs.Analyze(aopts...))
}

func output(w io.Writer, a *SafetensorsAnalysis) error {
	if inJson {
		return jprint(w, a)
	}

	ms := a.FileStats
	tprint(w,
		"MODEL",
		[]string{"Type", "Format", "Tensors", "Parameters", "DTypes", "File Size", "Header Size", "Compatibility"},
		nil,
		[]string{
			sprintf(a.ModelType),
			sprintf(tenary(a.Metadata.Format() == "", "N/A", a.Metadata.Format())),
			sprintf(ms.TensorCount),
			sprintf(ms.TotalParameters),
			sprintf(func() string {
				ds := make([]string, len(ms.DTypes))
				for i, d := range ms.DTypes {
					ds[i] = fmt.Sprintf("%s(%d)", d, ms.DTypeCounts[d])
				}
				return strings.Join(ds, ", ")
			}()),
			sprintf(tenary(ms.FileSize == 0, "N/A", ms.FileSize)),
			sprintf(ms.HeaderSize),
			sprintf(func() string {
				var fws []string
				for _, fw := range []struct {
					Name string
					Flag bool
				}{
					{"PyTorch", a.Compatibility.PyTorch},
					{"TensorFlow", a.Compatibility.TensorFlow},
					{"JAX", a.Compatibility.JAX},
					{"NumPy", a.Compatibility.NumPy},
				} {
					if fw.Flag {
						fws = append(fws, fw.Name)
					}
				}
				return tenary(len(fws) == 0, "N/A", strings.Join(fws, ", ")).(string)
			}()),
		})

	if ms := a.ModelSpec; ms != (SafetensorsModelSpecMetadata{}) {
		tprint(w,
			"MODELSPEC",
			[]string{"Architecture", "Implementation", "Title", "Author", "Resolution", "Prediction Type"},
			nil,
			[]string{
				sprintf(tenary(ms.Architecture == "", "N/A", ms.Architecture)),
				sprintf(tenary(ms.Implementation == "", "N/A", ms.Implementation)),
				sprintf(tenary(ms.Title == "", "N/A", ms.Title)),
				sprintf(tenary(ms.Author == "", "N/A", ms.Author)),
				sprintf(tenary(ms.Resolution == "", "N/A", ms.Resolution)),
				sprintf(tenary(ms.PredictionType == "", "N/A", ms.PredictionType)),
			})
	}

	if l := a.LoRA; l != nil {
		tprint(w,
			"LORA",
			[]string{"Base Model", "Module", "Rank", "Alpha", "Target Components", "Trigger Words"},
			nil,
			[]string{
				sprintf(tenary(l.BaseModel == "", "N/A", l.BaseModel)),
				sprintf(tenary(l.Module == "", "N/A", l.Module)),
				sprintf(orNA(l.Rank)),
				sprintf(orNA(l.Alpha)),
				sprintf(tenary(len(l.TargetComponents) == 0, "N/A", strings.Join(l.TargetComponents, ", "))),
				sprintf(tenary(len(l.TriggerWords) == 0, "N/A", strings.Join(l.TriggerWords, ", "))),
			})
	}

	if tm := a.Training; tm.BaseModelVersion != "" || tm.NumEpochs != nil || tm.Optimizer != "" {
		tprint(w,
			"TRAINING",
			[]string{"Base Model Version", "Images", "Epochs", "Learning Rate", "Optimizer", "LR Scheduler", "Mixed Precision", "Gradient Checkpointing"},
			nil,
			[]string{
				sprintf(tenary(tm.BaseModelVersion == "", "N/A", tm.BaseModelVersion)),
				sprintf(orNA(tm.NumTrainImages)),
				sprintf(orNA(tm.NumEpochs)),
				sprintf(orNA(tm.LearningRate)),
				sprintf(tenary(tm.Optimizer == "", "N/A", tm.Optimizer)),
				sprintf(tenary(tm.LRScheduler == "", "N/A", tm.LRScheduler)),
				sprintf(tenary(tm.MixedPrecision == "", "N/A", tm.MixedPrecision)),
				sprintf(orNA(tm.GradientCheckpointing)),
			})
	}

	if len(a.Tensors) != 0 {
		bds := make([][]string, len(a.Tensors))
		for i, t := range a.Tensors {
			bds[i] = []string{
				sprintf(t.Name),
				sprintf(t.DType),
				sprintf(t.Shape),
				sprintf(t.Parameters),
				sprintf(t.Size),
				sprintf("[%d, %d)", t.DataOffsets[0], t.DataOffsets[1]),
			}
		}
		tprint(w,
			"TENSORS",
			[]string{"Name", "DType", "Shape", "Parameters", "Size", "Data Offsets"},
			nil,
			bds...)
	}

	if len(a.Warnings) != 0 {
		bds := make([][]string, len(a.Warnings))
		for i := range a.Warnings {
			bds[i] = []string{a.Warnings[i]}
		}
		tprint(w,
			"WARNINGS",
			[]string{"Message"},
			nil,
			bds...)
	}

	return nil
}

func jprint(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if inPrettyJson {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

func sprintf(f any, a ...any) string {
	if v, ok := f.(string); ok {
		if len(a) != 0 {
			return fmt.Sprintf(v, a...)
		}
		return v
	}
	return fmt.Sprint(f)
}

func tprint(w io.Writer, title string, header []string, merges []int, body ...[]string) {
	title = strings.ToUpper(title)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.SeparateRows = true
	tw.Style().Format.Header = text.FormatDefault

	hr := make(table.Row, 0, len(header)+1)
	hr = append(hr, "\\")
	for i := range header {
		hr = append(hr, header[i])
	}
	tw.AppendHeader(hr)

	ccs := make([]table.ColumnConfig, 0, len(header)+1)
	ccs = append(ccs, table.ColumnConfig{
		Number:      1,
		AutoMerge:   true,
		Align:       text.AlignCenter,
		AlignHeader: text.AlignCenter,
		VAlign:      text.VAlignMiddle,
		WidthMin:    12,
	})
	for i := range header {
		cc := table.ColumnConfig{
			Number:      i + 2,
			Align:       text.AlignCenter,
			AlignHeader: text.AlignCenter,
		}
		for _, m := range merges {
			if m == i {
				cc.AutoMerge = true
			}
		}
		ccs = append(ccs, cc)
	}
	tw.SetColumnConfigs(ccs)

	for i := range body {
		r := make(table.Row, 0, len(body[i])+1)
		r = append(r, title)
		for j := range body[i] {
			r = append(r, body[i][j])
		}
		tw.AppendRow(r)
	}

	tw.Render()
	_, _ = fmt.Fprintln(w)
}

func tenary(c bool, t, f any) any {
	if c {
		return t
	}
	return f
}

func orNA[T any](p *T) any {
	if p == nil {
		return "N/A"
	}
	return *p
}

// newLogger returns a text logger writing to w,
// the source file is trimmed to its base name.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	lvl := slog.LevelInfo
	if debug {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: debug,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.SourceKey {
				if s, ok := attr.Value.Any().(*slog.Source); ok {
					s.File = filepath.Base(s.File)
				}
			}
			return attr
		},
	}))
}

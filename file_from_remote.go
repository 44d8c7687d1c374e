package safetensors_parser

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gpustack/safetensors-parser-go/util/httpx"
	"github.com/gpustack/safetensors-parser-go/util/osx"
)

// ParseSafetensorsFileFromHuggingFace parses a safetensors file from Hugging Face(https://huggingface.co/),
// and returns a SafetensorsFile, or an error if any.
func ParseSafetensorsFileFromHuggingFace(ctx context.Context, repo, file string, opts ...SafetensorsReadOption) (*SafetensorsFile, error) {
	return ParseSafetensorsFileRemote(ctx, HuggingFaceURL(repo, file), opts...)
}

// ParseSafetensorsFileFromModelScope parses a safetensors file from Model Scope(https://modelscope.cn/),
// and returns a SafetensorsFile, or an error if any.
func ParseSafetensorsFileFromModelScope(ctx context.Context, repo, file string, opts ...SafetensorsReadOption) (*SafetensorsFile, error) {
	opts = append(opts[:len(opts):len(opts)], SkipRangeDownloadDetection())
	return ParseSafetensorsFileRemote(ctx, ModelScopeURL(repo, file), opts...)
}

// HuggingFaceURL returns the download URL of the given file in the given Hugging Face repository,
// the endpoint can be overridden by the HF_ENDPOINT environment variable.
func HuggingFaceURL(repo, file string) string {
	ep := osx.Getenv("HF_ENDPOINT", "https://huggingface.co")
	return fmt.Sprintf("%s/%s/resolve/main/%s", ep, repo, file)
}

// ModelScopeURL returns the download URL of the given file in the given Model Scope repository,
// the endpoint can be overridden by the MS_ENDPOINT environment variable.
func ModelScopeURL(repo, file string) string {
	ep := osx.Getenv("MS_ENDPOINT", "https://modelscope.cn")
	return fmt.Sprintf("%s/models/%s/resolve/master/%s", ep, repo, file)
}

// ParseSafetensorsFileRemote parses a safetensors file from a remote URL,
// and returns a SafetensorsFile, or an error if any.
//
// Only the size prefix and the header are downloaded with HTTP Range requests,
// a transport failure is reported as ErrSafetensorsNetwork.
//
// With UseCache or UseCachePath,
// the result is cached by the URL.
func ParseSafetensorsFileRemote(ctx context.Context, url string, opts ...SafetensorsReadOption) (*SafetensorsFile, error) {
	var o _SafetensorsReadOptions
	for _, opt := range opts {
		opt(&o)
	}

	cli := newSafetensorsHTTPClient(url, o)
	return parseSafetensorsFileFromRemote(ctx, cli, url, o)
}

func newSafetensorsHTTPClient(url string, o _SafetensorsReadOptions) *http.Client {
	return httpx.Client(
		httpx.ClientOptions().
			WithUserAgent("safetensors-parser-go").
			If(o.Debug,
				func(x *httpx.ClientOption) *httpx.ClientOption {
					return x.WithDebug()
				},
			).
			If(o.BearerAuthToken != "",
				func(x *httpx.ClientOption) *httpx.ClientOption {
					return x.WithBearerAuth(o.BearerAuthToken)
				},
			).
			WithTimeout(0).
			WithTransport(
				httpx.TransportOptions().
					WithoutKeepalive().
					TimeoutForDial(5*time.Second).
					TimeoutForTLSHandshake(5*time.Second).
					TimeoutForResponseHeader(5*time.Second).
					If(o.SkipProxy,
						func(x *httpx.TransportOption) *httpx.TransportOption {
							return x.WithoutProxy()
						},
					).
					If(o.ProxyURL != nil,
						func(x *httpx.TransportOption) *httpx.TransportOption {
							return x.WithProxy(http.ProxyURL(o.ProxyURL))
						},
					).
					If(o.SkipTLSVerification || !strings.HasPrefix(url, "https://"),
						func(x *httpx.TransportOption) *httpx.TransportOption {
							return x.WithoutInsecureVerify()
						},
					).
					If(o.SkipDNSCache,
						func(x *httpx.TransportOption) *httpx.TransportOption {
							return x.WithoutDNSCache()
						},
					),
			),
	)
}

func parseSafetensorsFileFromRemote(ctx context.Context, cli *http.Client, url string, o _SafetensorsReadOptions) (sf *SafetensorsFile, err error) {
	// Cache.
	{
		if o.CachePath != "" {
			o.CachePath = filepath.Join(o.CachePath, "remote")
			if o.StrictDataOffsets {
				o.CachePath = filepath.Join(o.CachePath, "strict")
			}
		}
		c := SafetensorsFileCache(o.CachePath)

		// Get from cache.
		if sf, err = c.Get(url, o.CacheExpiration); err == nil {
			return sf, nil
		}

		// Put to cache.
		defer func() {
			if err == nil {
				_ = c.Put(url, sf)
			}
		}()
	}

	req, err := httpx.NewGetRequestWithContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	hf, err := httpx.OpenSeekerFile(cli, req,
		httpx.SeekerFileOptions().
			WithBufferSize(o.BufferSize).
			If(o.SkipRangeDownloadDetection,
				func(x *httpx.SeekerFileOption) *httpx.SeekerFileOption {
					return x.WithoutRangeDownloadDetect()
				},
			),
	)
	if err != nil {
		return nil, fmt.Errorf("open http file: %w: %w", ErrSafetensorsNetwork, err)
	}
	defer osx.Close(hf)

	rr := NewSafetensorsReaderAtRangeReader(hf, hf.Len())
	return parseSafetensorsFile(ctx, SafetensorsRangeReaderFunc(
		func(ctx context.Context, offset, length int64) ([]byte, error) {
			b, err := rr.ReadRange(ctx, offset, length)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrSafetensorsNetwork, err)
			}
			return b, nil
		}), hf.Len(), o)
}

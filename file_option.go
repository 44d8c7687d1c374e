package safetensors_parser

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gpustack/safetensors-parser-go/util/osx"
)

type (
	_SafetensorsReadOptions struct {
		Debug bool

		// Validation.
		StrictDataOffsets bool

		// Local.
		MMap bool

		// Remote.
		BearerAuthToken            string
		ProxyURL                   *url.URL
		SkipProxy                  bool
		SkipTLSVerification        bool
		SkipDNSCache               bool
		BufferSize                 int
		SkipRangeDownloadDetection bool
		MaxConcurrency             int

		// Cache.
		CachePath       string
		CacheExpiration time.Duration
	}
	SafetensorsReadOption func(o *_SafetensorsReadOptions)
)

// UseDebug uses debug mode to read the file.
func UseDebug() SafetensorsReadOption {
	return func(o *_SafetensorsReadOptions) {
		o.Debug = true
	}
}

// UseStrictDataOffsets cross-checks the "data_offsets" of each tensor,
// the byte span must equal to the size implied by the dtype and the shape,
// and must not exceed the end of the file.
//
// By default, a mismatched span is tolerated.
func UseStrictDataOffsets() SafetensorsReadOption {
	return func(o *_SafetensorsReadOptions) {
		o.StrictDataOffsets = true
	}
}

// UseMMap uses mmap to read the local file.
func UseMMap() SafetensorsReadOption {
	return func(o *_SafetensorsReadOptions) {
		o.MMap = true
	}
}

// UseBearerAuth uses the given token as a bearer auth when reading from a remote URL.
func UseBearerAuth(token string) SafetensorsReadOption {
	return func(o *_SafetensorsReadOptions) {
		o.BearerAuthToken = token
	}
}

// UseProxy uses the given url as a proxy when reading from a remote URL.
func UseProxy(url *url.URL) SafetensorsReadOption {
	return func(o *_SafetensorsReadOptions) {
		o.ProxyURL = url
	}
}

// SkipProxy skips the proxy when reading from a remote URL.
func SkipProxy() SafetensorsReadOption {
	return func(o *_SafetensorsReadOptions) {
		o.SkipProxy = true
	}
}

// SkipTLSVerification skips the TLS verification when reading from a remote URL.
func SkipTLSVerification() SafetensorsReadOption {
	return func(o *_SafetensorsReadOptions) {
		o.SkipTLSVerification = true
	}
}

// SkipDNSCache skips the DNS cache when reading from a remote URL.
func SkipDNSCache() SafetensorsReadOption {
	return func(o *_SafetensorsReadOptions) {
		o.SkipDNSCache = true
	}
}

// UseBufferSize sets the buffer size when reading from a remote URL.
func UseBufferSize(size int) SafetensorsReadOption {
	const minSize = 32 * 1024
	if size < minSize {
		size = minSize
	}
	return func(o *_SafetensorsReadOptions) {
		o.BufferSize = size
	}
}

// SkipRangeDownloadDetection skips the range download detection when reading from a remote URL.
func SkipRangeDownloadDetection() SafetensorsReadOption {
	return func(o *_SafetensorsReadOptions) {
		o.SkipRangeDownloadDetection = true
	}
}

// UseMaxConcurrency limits the number of shards read at the same time,
// default is 4.
func UseMaxConcurrency(n int) SafetensorsReadOption {
	return func(o *_SafetensorsReadOptions) {
		if n > 0 {
			o.MaxConcurrency = n
		}
	}
}

// UseCache caches the remote parsing result in the default directory,
// see UseCachePath.
func UseCache() SafetensorsReadOption {
	return UseCachePath(DefaultCachePath())
}

// UseCachePath caches the remote parsing result in the given directory,
// an empty path disables the cache.
func UseCachePath(path string) SafetensorsReadOption {
	path = osx.InlineTilde(path)
	return func(o *_SafetensorsReadOptions) {
		o.CachePath = path
	}
}

// UseCacheExpiration expires the cached parsing result after the given duration,
// default is never.
func UseCacheExpiration(exp time.Duration) SafetensorsReadOption {
	if exp < 0 {
		exp = 0
	}
	return func(o *_SafetensorsReadOptions) {
		o.CacheExpiration = exp
	}
}

// DefaultCachePath returns the default cache directory,
// which is "safetensors-parser" under the user cache directory.
func DefaultCachePath() string {
	d, err := os.UserCacheDir()
	if err != nil {
		d = os.TempDir()
	}
	return filepath.Join(d, "safetensors-parser")
}

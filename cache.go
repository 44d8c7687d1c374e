package safetensors_parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gpustack/safetensors-parser-go/util/json"
	"github.com/gpustack/safetensors-parser-go/util/osx"
	"github.com/gpustack/safetensors-parser-go/util/stringx"
)

var (
	ErrSafetensorsFileCacheDisabled  = errors.New("safetensors file cache disabled")
	ErrSafetensorsFileCacheMissed    = errors.New("safetensors file cache missed")
	ErrSafetensorsFileCacheCorrupted = errors.New("safetensors file cache corrupted")
)

// SafetensorsFileCache is a directory which stores the parsed SafetensorsFile in JSON,
// an empty SafetensorsFileCache is disabled.
type SafetensorsFileCache string

func (c SafetensorsFileCache) getKeyPath(key string) string {
	k := stringx.SumByFNV64a(key)
	p := filepath.Join(string(c), k[:1], k)
	return p
}

// Get returns the SafetensorsFile stored with the given key,
// a zero exp never expires the entry.
func (c SafetensorsFileCache) Get(key string, exp time.Duration) (*SafetensorsFile, error) {
	if c == "" {
		return nil, ErrSafetensorsFileCacheDisabled
	}

	if key == "" {
		return nil, ErrSafetensorsFileCacheMissed
	}

	p := c.getKeyPath(key)
	if !osx.Exists(p, func(stat os.FileInfo) bool {
		if !stat.Mode().IsRegular() {
			return false
		}
		return exp == 0 || time.Since(stat.ModTime()) < exp
	}) {
		return nil, ErrSafetensorsFileCacheMissed
	}

	var sf SafetensorsFile
	{
		bs, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("safetensors file cache get: %w", err)
		}
		if err = json.Unmarshal(bs, &sf); err != nil {
			_ = os.Remove(p)
			return nil, fmt.Errorf("safetensors file cache get: %w: %w", ErrSafetensorsFileCacheCorrupted, err)
		}
	}

	// The size prefix is 8 bytes, and the smallest header is "{}".
	if sf.Header.Size == 0 || uint64(sf.Size) < SafetensorsHeaderSizePrefixLength+sf.Header.Size {
		_ = os.Remove(p)
		return nil, ErrSafetensorsFileCacheCorrupted
	}
	if sf.Header.TensorInfos == nil {
		sf.Header.TensorInfos = SafetensorsTensorInfos{}
	}

	return &sf, nil
}

// Put stores the given SafetensorsFile with the given key.
func (c SafetensorsFileCache) Put(key string, sf *SafetensorsFile) error {
	if c == "" {
		return ErrSafetensorsFileCacheDisabled
	}

	if key == "" || sf == nil {
		return nil
	}

	bs, err := json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("safetensors file cache put: %w", err)
	}

	p := c.getKeyPath(key)
	if err = osx.WriteFile(p, bs, 0o600); err != nil {
		return fmt.Errorf("safetensors file cache put: %w", err)
	}
	return nil
}

// Delete removes the SafetensorsFile stored with the given key.
func (c SafetensorsFileCache) Delete(key string) error {
	if c == "" {
		return ErrSafetensorsFileCacheDisabled
	}

	if key == "" {
		return ErrSafetensorsFileCacheMissed
	}

	p := c.getKeyPath(key)
	if !osx.ExistsFile(p) {
		return ErrSafetensorsFileCacheMissed
	}

	if err := os.Remove(p); err != nil {
		return fmt.Errorf("safetensors file cache delete: %w", err)
	}
	return nil
}

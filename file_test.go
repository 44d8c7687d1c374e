package safetensors_parser

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSafetensors returns a whole safetensors file of the given header,
// the tensor data part is zero-filled up to the largest data offset.
func newTestSafetensors(t testing.TB, sh *SafetensorsHeader) []byte {
	t.Helper()

	b, err := sh.Encode()
	require.NoError(t, err)

	var end uint64
	for _, ti := range sh.TensorInfos {
		end = max(end, ti.DataOffsets[1])
	}
	return append(b, make([]byte, end)...)
}

// newTestSafetensorsFromJSON prefixes the given header JSON with its length.
func newTestSafetensorsFromJSON(j string) []byte {
	b := make([]byte, SafetensorsHeaderSizePrefixLength+len(j))
	binary.LittleEndian.PutUint64(b, uint64(len(j)))
	copy(b[SafetensorsHeaderSizePrefixLength:], j)
	return b
}

func TestParseSafetensorsHeader(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		expected := newTestLoRAHeader()
		b := newTestSafetensors(t, expected)

		actual, err := ParseSafetensorsHeader(b)
		require.NoError(t, err)

		j, err := expected.EncodeJSON()
		require.NoError(t, err)
		expected.Size = uint64(len(j))
		assert.Equal(t, expected, actual)
	})

	t.Run("too short", func(t *testing.T) {
		for _, b := range [][]byte{nil, {}, {1, 0, 0, 0, 0, 0, 0}} {
			_, err := ParseSafetensorsHeader(b)
			assert.ErrorIs(t, err, ErrSafetensorsFileInvalidFormat)
		}
	})

	t.Run("too large", func(t *testing.T) {
		b := make([]byte, SafetensorsHeaderSizePrefixLength)
		binary.LittleEndian.PutUint64(b, SafetensorsHeaderSizeLimit+1)
		_, err := ParseSafetensorsHeader(b)
		assert.ErrorIs(t, err, ErrSafetensorsHeaderTooLarge)

		binary.LittleEndian.PutUint64(b, 1<<63)
		_, err = ParseSafetensorsHeader(b)
		assert.ErrorIs(t, err, ErrSafetensorsHeaderTooLarge)
	})

	t.Run("truncated header", func(t *testing.T) {
		b := newTestSafetensorsFromJSON(`{"__metadata__":{}}`)
		_, err := ParseSafetensorsHeader(b[:len(b)-1])
		assert.ErrorIs(t, err, ErrSafetensorsFileInvalidFormat)
	})

	t.Run("padded header", func(t *testing.T) {
		sh, err := ParseSafetensorsHeader(newTestSafetensorsFromJSON(`{"a":{"dtype":"F32","shape":[1],"data_offsets":[0,4]}}    `))
		require.NoError(t, err)
		assert.Equal(t, SafetensorsTensorInfos{
			{Name: "a", DType: SafetensorsDTypeF32, Shape: []uint64{1}, DataOffsets: [2]uint64{0, 4}},
		}, sh.TensorInfos)
		assert.Nil(t, sh.Metadata)
	})

	t.Run("empty", func(t *testing.T) {
		sh, err := ParseSafetensorsHeader(newTestSafetensorsFromJSON(`{}`))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), sh.Size)
		assert.Equal(t, SafetensorsTensorInfos{}, sh.TensorInfos)
	})

	t.Run("order and duplicates", func(t *testing.T) {
		sh, err := ParseSafetensorsHeader(newTestSafetensorsFromJSON(`{
			"z": {"dtype": "U8", "shape": [1], "data_offsets": [0, 1]},
			"a": {"dtype": "U8", "shape": [1], "data_offsets": [1, 2]},
			"z": {"dtype": "I8", "shape": [1], "data_offsets": [2, 3]}
		}`))
		require.NoError(t, err)
		assert.Equal(t, []string{"z", "a"}, sh.TensorInfos.Names())
		assert.Equal(t, SafetensorsDTypeI8, sh.TensorInfos[0].DType)
	})

	t.Run("invalid json", func(t *testing.T) {
		for _, j := range []string{``, `{`, `{"a":}`, `{"a":{"dtype":"F32"}} x`, `nope`} {
			_, err := ParseSafetensorsHeader(newTestSafetensorsFromJSON(j))
			assert.ErrorIs(t, err, ErrSafetensorsHeaderInvalidJSON, j)
		}
	})
}

func TestParseSafetensorsHeader_Validation(t *testing.T) {
	testCases := []struct {
		name   string
		given  string
		key    string
		reason string
	}{
		{
			name:   "not an object",
			given:  `[1, 2]`,
			reason: "header is not an object",
		},
		{
			name:   "metadata is an array",
			given:  `{"__metadata__": ["pt"]}`,
			key:    "__metadata__",
			reason: "metadata is not an object",
		},
		{
			name:   "metadata value is not a string",
			given:  `{"__metadata__": {"format": 1}}`,
			key:    "__metadata__",
			reason: `value of "format" is not a string`,
		},
		{
			name:   "tensor is not an object",
			given:  `{"a": 1}`,
			key:    "a",
			reason: "tensor descriptor is not an object",
		},
		{
			name:   "unknown dtype",
			given:  `{"a": {"dtype": "F128", "shape": [1], "data_offsets": [0, 16]}}`,
			key:    "a",
			reason: `"dtype": unknown dtype "F128"`,
		},
		{
			name:   "dtype is not a string",
			given:  `{"a": {"dtype": 7, "shape": [1], "data_offsets": [0, 4]}}`,
			key:    "a",
			reason: `"dtype" is not a string`,
		},
		{
			name:   "missing dtype",
			given:  `{"a": {"shape": [1], "data_offsets": [0, 4]}}`,
			key:    "a",
			reason: `"dtype" is missing`,
		},
		{
			name:   "missing shape",
			given:  `{"a": {"dtype": "F32", "data_offsets": [0, 4]}}`,
			key:    "a",
			reason: `"shape" is missing`,
		},
		{
			name:   "missing data offsets",
			given:  `{"a": {"dtype": "F32", "shape": [1]}}`,
			key:    "a",
			reason: `"data_offsets" is missing`,
		},
		{
			name:   "negative dimension",
			given:  `{"a": {"dtype": "F32", "shape": [-1], "data_offsets": [0, 4]}}`,
			key:    "a",
			reason: `"shape": item 0 is not a non-negative integer: -1`,
		},
		{
			name:   "fractional dimension",
			given:  `{"a": {"dtype": "F32", "shape": [1.5], "data_offsets": [0, 4]}}`,
			key:    "a",
			reason: `"shape": item 0 is not a non-negative integer: 1.5`,
		},
		{
			name:   "shape is not an array",
			given:  `{"a": {"dtype": "F32", "shape": 1, "data_offsets": [0, 4]}}`,
			key:    "a",
			reason: `"shape": not an array`,
		},
		{
			name:   "bad data offsets length",
			given:  `{"a": {"dtype": "F32", "shape": [1], "data_offsets": [0, 4, 8]}}`,
			key:    "a",
			reason: `bad "data_offsets" length: expected 2, actual 3`,
		},
		{
			name:   "data offsets end before start",
			given:  `{"a": {"dtype": "F32", "shape": [1], "data_offsets": [8, 4]}}`,
			key:    "a",
			reason: `"data_offsets" end 4 is before start 8`,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSafetensorsHeader(newTestSafetensorsFromJSON(tc.given))
			var ve *SafetensorsValidationError
			if assert.True(t, errors.As(err, &ve), "%v", err) {
				assert.Equal(t, tc.key, ve.Key)
				assert.Equal(t, tc.reason, ve.Reason)
			}
		})
	}
}

func TestParseSafetensorsHeader_StrictDataOffsets(t *testing.T) {
	b := newTestSafetensorsFromJSON(`{"a": {"dtype": "BF16", "shape": [2, 3], "data_offsets": [0, 10]}}`)

	// Tolerated by default.
	_, err := ParseSafetensorsHeader(b)
	require.NoError(t, err)

	_, err = ParseSafetensorsHeader(b, UseStrictDataOffsets())
	var ve *SafetensorsValidationError
	if assert.ErrorAs(t, err, &ve) {
		assert.Equal(t, "a", ve.Key)
		assert.Equal(t, `"data_offsets" spans 10 bytes, but BF16[2 3] takes 12 bytes`, ve.Reason)
	}

	b = newTestSafetensorsFromJSON(`{"a": {"dtype": "BF16", "shape": [2, 3], "data_offsets": [0, 12]}}`)
	_, err = ParseSafetensorsHeader(b, UseStrictDataOffsets())
	assert.NoError(t, err)

	t.Run("overflowed shape", func(t *testing.T) {
		testCases := []struct {
			name   string
			header string
			reason string
		}{
			{
				name:   "elements wrap to zero",
				header: `{"a": {"dtype": "F32", "shape": [4611686018427387904, 4], "data_offsets": [0, 0]}}`,
				reason: `F32[4611686018427387904 4] overflows the size in bytes`,
			},
			{
				name:   "bytes wrap to zero",
				header: `{"a": {"dtype": "F32", "shape": [4611686018427387904], "data_offsets": [0, 0]}}`,
				reason: `F32[4611686018427387904] overflows the size in bytes`,
			},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				b := newTestSafetensorsFromJSON(tc.header)

				_, err := ParseSafetensorsHeader(b)
				require.NoError(t, err)

				_, err = ParseSafetensorsHeader(b, UseStrictDataOffsets())
				var ve *SafetensorsValidationError
				if assert.ErrorAs(t, err, &ve) {
					assert.Equal(t, "a", ve.Key)
					assert.Equal(t, tc.reason, ve.Reason)
				}
			})
		}

		// A zero dimension empties the tensor whatever the other dimensions are.
		b := newTestSafetensorsFromJSON(`{"a": {"dtype": "F32", "shape": [4611686018427387904, 4, 0], "data_offsets": [0, 0]}}`)
		_, err := ParseSafetensorsHeader(b, UseStrictDataOffsets())
		assert.NoError(t, err)
	})
}

func TestParseSafetensorsHeaderJSON(t *testing.T) {
	sh, err := ParseSafetensorsHeaderJSON([]byte(`{"__metadata__":{"format":"pt"},"w":{"dtype":"F16","shape":[],"data_offsets":[0,2]}}`))
	require.NoError(t, err)
	assert.Equal(t, SafetensorsMetadata{"format": "pt"}, sh.Metadata)
	assert.Equal(t, []string{"w"}, sh.TensorInfos.Names())

	_, err = ParseSafetensorsHeaderJSON(make([]byte, SafetensorsHeaderSizeLimit+1))
	assert.ErrorIs(t, err, ErrSafetensorsHeaderTooLarge)
}

func TestReadSafetensorsHeader(t *testing.T) {
	b := newTestSafetensors(t, newTestLoRAHeader())
	n := binary.LittleEndian.Uint64(b)

	var reads [][2]int64
	rr := SafetensorsRangeReaderFunc(func(ctx context.Context, offset, length int64) ([]byte, error) {
		reads = append(reads, [2]int64{offset, length})
		return NewSafetensorsBytesRangeReader(b).ReadRange(ctx, offset, length)
	})

	sh, err := ReadSafetensorsHeader(context.Background(), rr)
	require.NoError(t, err)
	assert.Len(t, sh.TensorInfos, 3)
	// Only the prefix and the header are read.
	assert.Equal(t, [][2]int64{{0, 8}, {8, int64(n)}}, reads)

	t.Run("short source", func(t *testing.T) {
		_, err := ReadSafetensorsHeader(context.Background(), NewSafetensorsBytesRangeReader(b[:20]))
		assert.ErrorIs(t, err, ErrSafetensorsFileInvalidFormat)
	})

	t.Run("source error", func(t *testing.T) {
		failure := errors.New("boom")
		_, err := ReadSafetensorsHeader(context.Background(), SafetensorsRangeReaderFunc(
			func(context.Context, int64, int64) ([]byte, error) {
				return nil, failure
			}))
		assert.ErrorIs(t, err, failure)
	})

	t.Run("reader at", func(t *testing.T) {
		sh, err := ReadSafetensorsHeader(context.Background(),
			NewSafetensorsReaderAtRangeReader(bytes.NewReader(b), int64(len(b))))
		require.NoError(t, err)
		assert.Len(t, sh.TensorInfos, 3)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ReadSafetensorsHeader(ctx,
			NewSafetensorsReaderAtRangeReader(bytes.NewReader(b), int64(len(b))))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestParseSafetensorsFile_Local(t *testing.T) {
	dir := t.TempDir()
	b := newTestSafetensors(t, newTestLoRAHeader())
	p := filepath.Join(dir, "lora.safetensors")
	require.NoError(t, os.WriteFile(p, b, 0o600))

	for _, opts := range [][]SafetensorsReadOption{nil, {UseMMap()}} {
		sf, err := ParseSafetensorsFile(p, opts...)
		require.NoError(t, err)
		assert.Equal(t, SafetensorsBytesScalar(len(b)), sf.Size)
		assert.Equal(t, int64(8+sf.Header.Size), sf.TensorDataStartOffset)
		assert.Equal(t, SafetensorsModelTypeLoRA, sf.Analyze().ModelType)
	}

	t.Run("not found", func(t *testing.T) {
		for _, opts := range [][]SafetensorsReadOption{nil, {UseMMap()}} {
			_, err := ParseSafetensorsFile(filepath.Join(dir, "missing.safetensors"), opts...)
			assert.ErrorIs(t, err, ErrSafetensorsFileNotFound)
		}
		_, err := ParseSafetensorsFile(dir)
		assert.ErrorIs(t, err, ErrSafetensorsFileNotFound)
	})

	t.Run("empty file", func(t *testing.T) {
		ep := filepath.Join(dir, "empty.safetensors")
		require.NoError(t, os.WriteFile(ep, nil, 0o600))
		for _, opts := range [][]SafetensorsReadOption{nil, {UseMMap()}} {
			_, err := ParseSafetensorsFile(ep, opts...)
			assert.ErrorIs(t, err, ErrSafetensorsFileInvalidFormat)
		}
	})

	t.Run("strict data beyond file", func(t *testing.T) {
		tp := filepath.Join(dir, "truncated.safetensors")
		require.NoError(t, os.WriteFile(tp, b[:len(b)-1], 0o600))

		_, err := ParseSafetensorsFile(tp)
		require.NoError(t, err)

		_, err = ParseSafetensorsFile(tp, UseStrictDataOffsets())
		var ve *SafetensorsValidationError
		if assert.ErrorAs(t, err, &ve) {
			assert.Equal(t, "lora_unet_y.lora_up.weight", ve.Key)
		}

		// Offsets beyond the int64 range.
		hp := filepath.Join(dir, "huge_offsets.safetensors")
		hb := newTestSafetensorsFromJSON(`{"a": {"dtype": "F32", "shape": [1], "data_offsets": [9223372036854775808, 9223372036854775812]}}`)
		require.NoError(t, os.WriteFile(hp, append(hb, make([]byte, 4)...), 0o600))

		_, err = ParseSafetensorsHeader(hb, UseStrictDataOffsets())
		require.NoError(t, err)

		_, err = ParseSafetensorsFile(hp, UseStrictDataOffsets())
		if assert.ErrorAs(t, err, &ve) {
			assert.Equal(t, "a", ve.Key)
			assert.Equal(t, "data_offsets end 9223372036854775812 is beyond the 4 bytes of tensor data", ve.Reason)
		}
	})
}

func newTestSafetensorsServer(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		b, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(rw, r)
			return
		}
		http.ServeContent(rw, r, filepath.Base(r.URL.Path), time.Time{}, bytes.NewReader(b))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseSafetensorsFileRemote(t *testing.T) {
	b := newTestSafetensors(t, newTestLoRAHeader())
	srv := newTestSafetensorsServer(t, map[string][]byte{
		"/lora.safetensors":                                b,
		"/org/repo/resolve/main/lora.safetensors":          b,
		"/models/org/repo/resolve/master/lora.safetensors": b,
	})
	ctx := context.Background()

	for _, opts := range [][]SafetensorsReadOption{
		nil,
		{SkipRangeDownloadDetection()},
		{SkipDNSCache(), UseBufferSize(0)},
		{UseDebug()},
	} {
		sf, err := ParseSafetensorsFileRemote(ctx, srv.URL+"/lora.safetensors", opts...)
		require.NoError(t, err)
		assert.Equal(t, SafetensorsBytesScalar(len(b)), sf.Size)
		assert.Len(t, sf.Header.TensorInfos, 3)
	}

	t.Run("hugging face", func(t *testing.T) {
		t.Setenv("HF_ENDPOINT", srv.URL)
		sf, err := ParseSafetensorsFileFromHuggingFace(ctx, "org/repo", "lora.safetensors")
		require.NoError(t, err)
		assert.Equal(t, SafetensorsModelTypeLoRA, sf.Analyze().ModelType)
	})

	t.Run("model scope", func(t *testing.T) {
		t.Setenv("MS_ENDPOINT", srv.URL)
		sf, err := ParseSafetensorsFileFromModelScope(ctx, "org/repo", "lora.safetensors")
		require.NoError(t, err)
		assert.Equal(t, SafetensorsModelTypeLoRA, sf.Analyze().ModelType)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := ParseSafetensorsFileRemote(ctx, srv.URL+"/missing.safetensors")
		assert.ErrorIs(t, err, ErrSafetensorsNetwork)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := ParseSafetensorsFileRemote(ctx, "http://127.0.0.1:1/lora.safetensors")
		assert.ErrorIs(t, err, ErrSafetensorsNetwork)
	})
}

func TestParseSafetensorsShards(t *testing.T) {
	shard := func(name string, offset uint64) *SafetensorsHeader {
		return &SafetensorsHeader{
			Metadata: SafetensorsMetadata{"format": "pt"},
			TensorInfos: SafetensorsTensorInfos{
				{Name: name, DType: SafetensorsDTypeF32, Shape: []uint64{4}, DataOffsets: [2]uint64{offset, offset + 16}},
			},
		}
	}
	files := map[string][]byte{
		"/model-00001-of-00003.safetensors": newTestSafetensors(t, shard("model.diffusion_model.a", 0)),
		"/model-00002-of-00003.safetensors": newTestSafetensors(t, shard("cond_stage_model.b", 0)),
		"/model-00003-of-00003.safetensors": newTestSafetensors(t, shard("first_stage_model.c", 0)),
	}

	assertShards := func(t *testing.T, sfs SafetensorsFiles) {
		t.Helper()
		if !assert.Len(t, sfs, 3) {
			return
		}
		assert.Equal(t, []string{"model.diffusion_model.a"}, sfs[0].Header.TensorInfos.Names())
		assert.Equal(t, []string{"first_stage_model.c"}, sfs[2].Header.TensorInfos.Names())

		a := sfs.Analyze()
		assert.Equal(t, SafetensorsModelTypeCheckpoint, a.ModelType)
		assert.Equal(t, uint64(3), a.FileStats.TensorCount)
		assert.Equal(t, SafetensorsParametersScalar(12), a.FileStats.TotalParameters)
	}

	t.Run("local", func(t *testing.T) {
		dir := t.TempDir()
		for n, b := range files {
			require.NoError(t, os.WriteFile(filepath.Join(dir, strings.TrimPrefix(n, "/")), b, 0o600))
		}

		sfs, err := ParseSafetensorsShards(filepath.Join(dir, "model-00002-of-00003.safetensors"), UseMaxConcurrency(2))
		require.NoError(t, err)
		assertShards(t, sfs)

		_, err = ParseSafetensorsShards(filepath.Join(dir, "model-00001-of-00004.safetensors"))
		assert.ErrorIs(t, err, ErrSafetensorsFileNotFound)
	})

	t.Run("remote", func(t *testing.T) {
		srv := newTestSafetensorsServer(t, files)

		sfs, err := ParseSafetensorsShardsRemote(context.Background(), srv.URL+"/model-00001-of-00003.safetensors")
		require.NoError(t, err)
		assertShards(t, sfs)
	})

	t.Run("single", func(t *testing.T) {
		srv := newTestSafetensorsServer(t, map[string][]byte{"/model.safetensors": files["/model-00001-of-00003.safetensors"]})

		sfs, err := ParseSafetensorsShardsRemote(context.Background(), srv.URL+"/model.safetensors")
		require.NoError(t, err)
		assert.Len(t, sfs, 1)
	})
}

func TestParseSafetensorsFile(t *testing.T) {
	mp, ok := os.LookupEnv("TEST_MODEL_PATH")
	if !ok {
		t.Skip("TEST_MODEL_PATH is not set")
		return
	}

	// Slow read.
	{
		f, err := ParseSafetensorsFile(mp)
		if err != nil {
			t.Fatal(err)
			return
		}
		s := spew.ConfigState{
			Indent:   "  ",
			MaxDepth: 3, // Avoid console overflow.
		}
		t.Log("\n", s.Sdump(f.Analyze(WithMaxTensors(10))), "\n")
	}

	// Fast read.
	{
		f, err := ParseSafetensorsFile(mp, UseMMap())
		if err != nil {
			t.Fatal(err)
			return
		}
		t.Log("\n", spew.Sdump(f.Analyze(SkipTensors())), "\n")
	}
}

func BenchmarkParseSafetensorsFileMMap(b *testing.B) {
	mp, ok := os.LookupEnv("TEST_MODEL_PATH")
	if !ok {
		b.Skip("TEST_MODEL_PATH is not set")
		return
	}

	b.ReportAllocs()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := ParseSafetensorsFile(mp, UseMMap())
		if err != nil {
			b.Fatal(err)
			return
		}
	}
}

func BenchmarkSafetensorsFile_Analyze(b *testing.B) {
	mp, ok := os.LookupEnv("TEST_MODEL_PATH")
	if !ok {
		b.Skip("TEST_MODEL_PATH is not set")
		return
	}

	f, err := ParseSafetensorsFile(mp, UseMMap())
	if err != nil {
		b.Fatal(err)
		return
	}

	b.ReportAllocs()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = f.Analyze()
	}
}

package safetensors_parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gpustack/safetensors-parser-go/util/funcx"
	"github.com/gpustack/safetensors-parser-go/util/ptr"
	"github.com/gpustack/safetensors-parser-go/util/stringx"
)

// SafetensorsFileExt is the extension of a safetensors file.
const SafetensorsFileExt = ".safetensors"

// SafetensorsFilename represents a safetensors filename,
// a sharded checkpoint is named as "<BaseName>-<Shard>-of-<ShardTotal>.safetensors",
// e.g. "model-00001-of-00004.safetensors".
type SafetensorsFilename struct {
	BaseName   string `json:"baseName"`
	Shard      *int   `json:"shard,omitempty"`
	ShardTotal *int   `json:"shardTotal,omitempty"`
}

var ShardSafetensorsFilenameRegex = regexp.MustCompile(`^(?P<Prefix>.*)-(?:(?P<Shard>\d{5})-of-(?P<ShardTotal>\d{5}))\.safetensors$`)

// ParseSafetensorsFilename parses the given safetensors filename string,
// the leading directory or URL path is ignored,
// and returns the SafetensorsFilename, or nil if the filename is invalid.
func ParseSafetensorsFilename(name string) *SafetensorsFilename {
	_, n, ok := stringx.CutFromRight(name, "/")
	if !ok {
		n = name
	}
	if !strings.HasSuffix(n, SafetensorsFileExt) {
		n += SafetensorsFileExt
	}

	var sn SafetensorsFilename
	if m := matchShardSafetensorsFilename(n); m != nil {
		sn.BaseName = m["Prefix"]
		sn.Shard = ptr.To(parseInt(m["Shard"]))
		sn.ShardTotal = ptr.To(parseInt(m["ShardTotal"]))
	} else {
		sn.BaseName = strings.TrimSuffix(n, SafetensorsFileExt)
	}
	if sn.BaseName == "" {
		return nil
	}
	return &sn
}

func (sn SafetensorsFilename) String() string {
	if sn.BaseName == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(sn.BaseName)
	if sn.IsShard() {
		sb.WriteString(fmt.Sprintf("-%05d-of-%05d", *sn.Shard, *sn.ShardTotal))
	}
	sb.WriteString(SafetensorsFileExt)
	return sb.String()
}

// IsShard returns true if the safetensors filename is a shard.
func (sn SafetensorsFilename) IsShard() bool {
	return ptr.Deref(sn.Shard, 0) > 0 && ptr.Deref(sn.ShardTotal, 0) > 0
}

// IsShardSafetensorsFilename returns true if the given filename is a shard safetensors filename.
func IsShardSafetensorsFilename(name string) bool {
	n := name
	if !strings.HasSuffix(n, SafetensorsFileExt) {
		n += SafetensorsFileExt
	}

	return matchShardSafetensorsFilename(n) != nil
}

// CompleteShardSafetensorsFilename returns the list of shard safetensors filenames
// that are related to the given shard safetensors filename,
// the directory or URL prefix is kept.
//
// Only available if the given filename is a shard safetensors filename.
func CompleteShardSafetensorsFilename(name string) []string {
	n := name
	if !strings.HasSuffix(n, SafetensorsFileExt) {
		n += SafetensorsFileExt
	}

	m := matchShardSafetensorsFilename(n)
	if m == nil {
		return nil
	}

	shardTotal := parseInt(m["ShardTotal"])
	names := make([]string, 0, shardTotal)
	for i := 1; i <= shardTotal; i++ {
		names = append(names, fmt.Sprintf("%s-%05d-of-%05d%s", m["Prefix"], i, shardTotal, SafetensorsFileExt))
	}
	return names
}

// matchShardSafetensorsFilename returns the named groups of ShardSafetensorsFilenameRegex,
// or nil if the given name is not a valid shard.
func matchShardSafetensorsFilename(n string) map[string]string {
	r := ShardSafetensorsFilenameRegex.FindStringSubmatch(n)
	if r == nil {
		return nil
	}

	m := make(map[string]string)
	for i, ne := range ShardSafetensorsFilenameRegex.SubexpNames() {
		if i != 0 && i < len(r) {
			m[ne] = r[i]
		}
	}

	shard, shardTotal := parseInt(m["Shard"]), parseInt(m["ShardTotal"])
	if shard <= 0 || shardTotal <= 0 || shard > shardTotal {
		return nil
	}
	return m
}

func parseInt(v string) int {
	return int(funcx.MustNoError(strconv.ParseInt(v, 10, 64)))
}

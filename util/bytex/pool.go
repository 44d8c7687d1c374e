package bytex

import (
	"sync"
)

const defaultSize = 32 * 1024

// Bytes is the pooled byte slice.
type Bytes = []byte

var gp = sync.Pool{
	New: func() any {
		buf := make(Bytes, defaultSize)
		return &buf
	},
}

// GetBytes gets a bytes buffer from the pool,
// which can specify with a size,
// default is 32k.
func GetBytes(size ...uint64) Bytes {
	buf := *(gp.Get().(*Bytes))

	s := defaultSize
	if len(size) != 0 {
		s = int(size[0])
		if s == 0 {
			s = defaultSize
		}
	}
	if cap(buf) >= s {
		return buf[:s]
	}

	gp.Put(&buf)

	ns := s
	if ns < defaultSize {
		ns = defaultSize
	}
	buf = make(Bytes, ns)
	return buf[:s]
}

// Put puts the bytes buffer back to the pool.
func Put(buf Bytes) {
	buf = buf[:cap(buf)]
	gp.Put(&buf)
}

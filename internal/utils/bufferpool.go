package utils

import "sync"

// bufferPool recycles scratch buffers used by structure readers. Structures
// are read header-first into small fixed-size buffers, so pooling avoids
// per-read allocations on hot paths.
var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 512)
		return &b
	},
}

// GetBuffer returns a zeroed buffer of exactly size bytes.
func GetBuffer(size int) []byte {
	bp := bufferPool.Get().(*[]byte)
	b := *bp
	if cap(b) < size {
		return make([]byte, size)
	}
	b = b[:size]
	for i := range b {
		b[i] = 0
	}
	return b
}

// ReleaseBuffer returns a buffer obtained from GetBuffer to the pool.
func ReleaseBuffer(b []byte) {
	if cap(b) == 0 || cap(b) > 1<<16 {
		return
	}
	b = b[:0]
	bufferPool.Put(&b)
}

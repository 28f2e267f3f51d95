// Package pool provides memory pooling utilities for the sync client.
// It reduces GC pressure by reusing allocations for hot paths.
package pool

import (
	"bytes"
	"sync"
)

// BufferPool is a pool of bytes.Buffer for reducing allocations.
var BufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// GetBuffer retrieves a buffer from the pool, resetting it for use.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool.
// Buffers larger than 64KB are discarded to avoid holding too much memory.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	// Don't recycle buffers larger than 64KB to avoid memory bloat
	if buf.Cap() > 64*1024 {
		return
	}
	BufferPool.Put(buf)
}

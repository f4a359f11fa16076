// Package buffers pools the copy buffers used by streamed downloads so a
// batch of concurrent transfers does not allocate one per item.
package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/stashbox/stashbox/internal/constants"
)

var (
	allocations int64
	gets        int64
)

var copyPool = &sync.Pool{
	New: func() interface{} {
		atomic.AddInt64(&allocations, 1)
		buf := make([]byte, constants.DownloadBufferSize)
		return &buf
	},
}

// GetCopyBuffer retrieves a DownloadBufferSize buffer from the pool.
// Return it with PutCopyBuffer when done.
//
//	buf := buffers.GetCopyBuffer()
//	defer buffers.PutCopyBuffer(buf)
//	n, err := r.Read(*buf)
func GetCopyBuffer() *[]byte {
	atomic.AddInt64(&gets, 1)
	return copyPool.Get().(*[]byte)
}

// PutCopyBuffer returns a buffer to the pool. Buffers of the wrong size
// are dropped.
func PutCopyBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.DownloadBufferSize {
		copyPool.Put(buf)
	}
}

// Stats reports pool usage.
type Stats struct {
	BufferSize  int
	Allocations int64
	Gets        int64
}

// GetStats returns current pool statistics.
func GetStats() Stats {
	return Stats{
		BufferSize:  constants.DownloadBufferSize,
		Allocations: atomic.LoadInt64(&allocations),
		Gets:        atomic.LoadInt64(&gets),
	}
}

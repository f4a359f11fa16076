package buffers

import (
	"testing"

	"github.com/stashbox/stashbox/internal/constants"
)

func TestCopyBufferPool(t *testing.T) {
	buf := GetCopyBuffer()
	if buf == nil {
		t.Fatal("GetCopyBuffer returned nil")
	}
	if len(*buf) != constants.DownloadBufferSize {
		t.Errorf("buffer size = %d, want %d", len(*buf), constants.DownloadBufferSize)
	}
	PutCopyBuffer(buf)

	buf2 := GetCopyBuffer()
	if buf2 == nil {
		t.Fatal("GetCopyBuffer returned nil on second call")
	}
	PutCopyBuffer(buf2)
}

func TestPutCopyBufferIgnoresWrongSize(t *testing.T) {
	small := make([]byte, 10)
	PutCopyBuffer(&small)
	PutCopyBuffer(nil)

	buf := GetCopyBuffer()
	defer PutCopyBuffer(buf)
	if len(*buf) != constants.DownloadBufferSize {
		t.Errorf("pool handed out a foreign buffer of %d bytes", len(*buf))
	}
}

func TestStats(t *testing.T) {
	before := GetStats()
	PutCopyBuffer(GetCopyBuffer())
	after := GetStats()

	if after.Gets != before.Gets+1 {
		t.Errorf("gets = %d, want %d", after.Gets, before.Gets+1)
	}
	if after.Allocations < 1 {
		t.Error("expected at least one allocation")
	}
	if after.BufferSize != constants.DownloadBufferSize {
		t.Errorf("BufferSize = %d", after.BufferSize)
	}
}

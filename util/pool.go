package util

import "sync"

// DefaultBufSize is the read chunk size used when draining channel
// streams.  It matches the largest packet payload most servers send.
const DefaultBufSize = 32 * 1024

// BufPool provides reusable read buffers for the channel reader pumps,
// so that a long-running command does not allocate per chunk.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.  Buffers that were
// resliced are restored to full length first.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) < DefaultBufSize {
		return
	}
	*buf = (*buf)[:DefaultBufSize]
	BufPool.Put(buf)
}

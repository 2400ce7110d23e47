// Package bufpool provides a size-bucketed []byte pool, grounded on the
// teacher's pool.GetBuf/Buffer.Bytes() call pattern (seen at
// pkg/cache/redis_cache/redis_cache.go's packRedisData): the stash path
// builds a merged xNAME bundle in a scratch buffer before copying it
// into the backend's Reserve buffer, and under steady insert load that
// scratch buffer is exactly the kind of short-lived allocation worth
// pooling.
package bufpool

import "sync"

// Buffer is a pooled byte slice. Truncate shrinks it to the amount a
// caller actually used, for callers that fill less than they asked for.
type Buffer struct {
	b []byte
}

// Bytes returns the buffer's current contents.
func (buf *Buffer) Bytes() []byte { return buf.b }

// Truncate shrinks the buffer's visible length to n, which must not
// exceed its capacity.
func (buf *Buffer) Truncate(n int) { buf.b = buf.b[:n] }

var pools = []sync.Pool{
	{New: func() any { return &Buffer{b: make([]byte, 0, 64)} }},
	{New: func() any { return &Buffer{b: make([]byte, 0, 512)} }},
	{New: func() any { return &Buffer{b: make([]byte, 0, 4096)} }},
}

func bucketFor(size int) int {
	switch {
	case size <= 64:
		return 0
	case size <= 512:
		return 1
	default:
		return 2
	}
}

// Get returns a Buffer whose Bytes() has length exactly size, drawn
// from the smallest size bucket that can hold it without a further
// allocation.
func Get(size int) *Buffer {
	idx := bucketFor(size)
	buf := pools[idx].Get().(*Buffer)
	if cap(buf.b) < size {
		buf.b = make([]byte, size)
	} else {
		buf.b = buf.b[:size]
	}
	return buf
}

// Release returns buf to its pool. After Release, the caller must not
// touch buf or any slice derived from its Bytes() again.
func Release(buf *Buffer) {
	idx := bucketFor(cap(buf.b))
	buf.b = buf.b[:0]
	pools[idx].Put(buf)
}

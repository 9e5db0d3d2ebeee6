package proxy

import (
	"io"
	"sync"
)

// bufferPool hands out relay buffers of a fixed size. Every chunk moved
// between client and remote goes through one of these buffers, so the pool
// size bounds the largest single transfer.
type bufferPool struct {
	size int
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	p := &bufferPool{size: size}
	p.pool.New = func() interface{} {
		buf := make([]byte, p.size)
		return &buf
	}
	return p
}

// get retrieves a buffer from the pool.
// The caller must return the buffer using put when done.
func (p *bufferPool) get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// put returns a buffer to the pool for reuse.
func (p *bufferPool) put(buf *[]byte) {
	if buf != nil && len(*buf) == p.size {
		p.pool.Put(buf)
	}
}

// copy moves src into dst one pooled buffer at a time.
func (p *bufferPool) copy(dst io.Writer, src io.Reader) (written int64, err error) {
	buf := p.get()
	defer p.put(buf)
	return io.CopyBuffer(dst, src, *buf)
}

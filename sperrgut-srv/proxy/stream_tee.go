package proxy

import (
	"io"
)

// teeReader wraps an io.Reader and calls cb with each chunk read.
// If cb returns an error, subsequent reads will propagate that error.
type teeReader struct {
	r   io.Reader
	cb  func([]byte) error
	err error
}

func newTeeReader(r io.Reader, cb func([]byte) error) io.Reader {
	return &teeReader{r: r, cb: cb}
}

func (t *teeReader) Read(p []byte) (int, error) {
	if t.err != nil {
		return 0, t.err
	}
	n, err := t.r.Read(p)
	if n > 0 && t.cb != nil {
		if cbErr := t.cb(p[:n]); cbErr != nil {
			t.err = cbErr
			return n, cbErr
		}
	}
	return n, err
}

// responseCapture accumulates a response for the cache until it grows past
// limit, after which it discards what it holds and ignores further chunks.
type responseCapture struct {
	limit    int
	data     []byte
	overflow bool
}

func newResponseCapture(limit int) *responseCapture {
	return &responseCapture{limit: limit}
}

func (c *responseCapture) write(chunk []byte) error {
	if c.overflow {
		return nil
	}
	if len(c.data)+len(chunk) >= c.limit {
		c.overflow = true
		c.data = nil
		return nil
	}
	c.data = append(c.data, chunk...)
	return nil
}

// bytes returns the captured response, or false if it outgrew the limit.
func (c *responseCapture) bytes() ([]byte, bool) {
	if c.overflow {
		return nil, false
	}
	return c.data, true
}

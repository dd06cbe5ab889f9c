package readerutils

import (
	"io"
	"sync/atomic"
)

type countingReader struct {
	r io.Reader
	n *atomic.Uint64
}

// NewCountingReader adds the number of bytes read from r to n.
func NewCountingReader(r io.Reader, n *atomic.Uint64) io.Reader {
	return &countingReader{r: r, n: n}
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n.Add(uint64(n))
	}
	return n, err
}

package readerutils

import (
	"bytes"
	"io"
	"sync/atomic"
	"testing"
)

func TestCountingReader(t *testing.T) {
	var n atomic.Uint64
	data := bytes.Repeat([]byte{1}, 3000)
	got, err := io.ReadAll(NewCountingReader(bytes.NewReader(data), &n))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("content changed while counting")
	}
	if n.Load() != 3000 {
		t.Errorf("counted %d bytes, want 3000", n.Load())
	}
	// readers sharing a counter add up
	_, _ = io.ReadAll(NewCountingReader(bytes.NewReader(data[:10]), &n))
	if n.Load() != 3010 {
		t.Errorf("counted %d bytes, want 3010", n.Load())
	}
}

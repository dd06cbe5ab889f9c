package writerutils

import (
	"errors"
	"io"
	"os"
)

// SafeFile writes to a file and flushes it to the disk on Close.
// Close is idempotent, later calls return the result of the first one.
type SafeFile struct {
	f        *os.File
	closed   bool
	closeErr error
}

func NewSafeFileWriter(f *os.File) io.WriteCloser {
	return &SafeFile{f: f}
}

func (s *SafeFile) Write(p []byte) (int, error) {
	if s.closed {
		return 0, os.ErrClosed
	}
	return s.f.Write(p)
}

func (s *SafeFile) Close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.closeErr = errors.Join(s.f.Sync(), s.f.Close())
	return s.closeErr
}

package firmware

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/doras-ota/internal/pkg/utils/fileutils"
	"github.com/unbasical/doras-ota/internal/pkg/utils/writerutils"
)

// FileSink writes the image next to Path and moves it over Path once the image is committed.
// It fits devices whose bootloader picks up an image file, e.g. an inactive slot mounted as a file.
type FileSink struct {
	Path string
	w    io.WriteCloser
}

// NewFileSink creates a FileSink for the image at path.
func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

func (f *FileSink) stagedPath() string {
	return f.Path + ".new"
}

func (f *FileSink) Begin() error {
	if f.w != nil {
		return fmt.Errorf("%w: begin called twice", ErrSinkState)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return err
	}
	fp, err := os.OpenFile(f.stagedPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	f.w = writerutils.NewSafeFileWriter(fp)
	return nil
}

func (f *FileSink) Write(p []byte) (int, error) {
	if f.w == nil {
		return 0, fmt.Errorf("%w: write before begin", ErrSinkState)
	}
	return f.w.Write(p)
}

func (f *FileSink) End(commit bool) error {
	if f.w == nil {
		return fmt.Errorf("%w: end before begin", ErrSinkState)
	}
	err := f.w.Close()
	f.w = nil
	if err != nil || !commit {
		log.Debugf("discarding firmware image %q", f.stagedPath())
		if errRm := fileutils.RemoveIfExists(f.stagedPath()); errRm != nil {
			log.WithError(errRm).Warn("failed to remove discarded firmware image")
		}
		return err
	}
	return fileutils.ReplaceFile(f.stagedPath(), f.Path)
}

package stager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/doras-ota/internal/pkg/utils/fileutils"
	"github.com/unbasical/doras-ota/internal/pkg/utils/funcutils"
	"github.com/unbasical/doras-ota/internal/pkg/utils/readerutils"
	"github.com/unbasical/doras-ota/internal/pkg/utils/writerutils"
	"github.com/unbasical/doras-ota/pkg/client/updater/backupmanager"
	"github.com/unbasical/doras-ota/pkg/client/updater/verifier"
)

// ErrDownload covers every I/O or transport failure while staging a file.
var ErrDownload = errors.New("download failed")

const DefaultChunkSize = 1024

// Fetcher opens the content behind a URL as a stream.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Stager downloads files next to their destination and verifies them.
// It never touches the destination itself.
type Stager struct {
	fetcher    Fetcher
	chunkSize  int
	downloaded atomic.Uint64
}

// New creates a Stager that reads in chunks of chunkSize bytes.
func New(fetcher Fetcher, chunkSize int) *Stager {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Stager{fetcher: fetcher, chunkSize: chunkSize}
}

// StagedPath returns the path a download for dstPath is written to.
func StagedPath(dstPath string) string {
	return dstPath + backupmanager.StagedSuffix
}

// BytesDownloaded returns the number of bytes received by all Stage calls so far.
func (s *Stager) BytesDownloaded() uint64 {
	return s.downloaded.Load()
}

// Stage downloads url to the staged path of dstPath and verifies it against expected.
// On a digest mismatch the staged file is kept for inspection and an error matching
// verifier.ErrHashMismatch is returned. Every other failure matches ErrDownload.
func (s *Stager) Stage(ctx context.Context, url, dstPath string, expected verifier.Digest) error {
	stagedPath := StagedPath(dstPath)
	if err := fileutils.RemoveIfExists(stagedPath); err != nil {
		return fmt.Errorf("%w: remove stale %s: %w", ErrDownload, stagedPath, err)
	}
	h, err := verifier.Start(expected.Algorithm)
	if err != nil {
		return err
	}
	if err := s.download(ctx, url, stagedPath, h); err != nil {
		return err
	}
	actual, err := h.Verify(expected)
	if err != nil {
		log.WithFields(log.Fields{"url": url, "dst": dstPath}).Warnf("staged file has digest %s, expected %s", actual, expected)
		return err
	}
	log.WithFields(log.Fields{"url": url, "dst": dstPath}).Debug("staged file verified")
	return nil
}

func (s *Stager) download(ctx context.Context, url, stagedPath string, h *verifier.Handle) (err error) {
	if err := os.MkdirAll(filepath.Dir(stagedPath), 0755); err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	fp, err := os.OpenFile(stagedPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	w := writerutils.NewSafeFileWriter(fp)
	defer func() {
		if errClose := w.Close(); errClose != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %w", ErrDownload, stagedPath, errClose)
		}
	}()

	rc, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	defer funcutils.LogOnErr(rc.Close, "failed to close download stream of %s", url)

	buf := make([]byte, s.chunkSize)
	r := readerutils.NewCountingReader(rc, &s.downloaded)
	for {
		n, errRead := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("%w: write %s: %w", ErrDownload, stagedPath, err)
			}
			if err := h.Update(buf[:n]); err != nil {
				return err
			}
		}
		if errors.Is(errRead, io.EOF) {
			return nil
		}
		if errRead != nil {
			return fmt.Errorf("%w: read %s: %w", ErrDownload, url, errRead)
		}
	}
}

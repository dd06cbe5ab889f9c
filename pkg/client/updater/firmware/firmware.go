// Package firmware streams firmware images into a Sink.
package firmware

import (
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/doras-ota/pkg/client/updater/verifier"
)

var ErrSinkState = errors.New("firmware sink used out of order")

const DefaultChunkSize = 1024

// Sink receives a firmware image.
// Begin is called exactly once before any Write, End exactly once afterwards.
// End(false) releases the sink without activating the image, it is used when the stream failed
// or the image did not match its digest.
type Sink interface {
	Begin() error
	Write(p []byte) (int, error)
	End(commit bool) error
}

// Apply streams r into sink in chunks of chunkSize bytes.
// If expected is not nil the image is only committed if its digest matches.
// It returns the number of bytes written to the sink.
func Apply(sink Sink, r io.Reader, expected *verifier.Digest, chunkSize int) (written int64, err error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var h *verifier.Handle
	if expected != nil {
		if h, err = verifier.Start(expected.Algorithm); err != nil {
			return 0, err
		}
	}
	if err := sink.Begin(); err != nil {
		return 0, fmt.Errorf("failed to begin firmware update: %w", err)
	}
	commit := false
	defer func() {
		if errEnd := sink.End(commit); errEnd != nil {
			err = errors.Join(err, fmt.Errorf("failed to end firmware update: %w", errEnd))
		}
	}()

	var w io.Writer = sink
	if h != nil {
		w = io.MultiWriter(sink, h)
	}
	buf := make([]byte, chunkSize)
	written, err = io.CopyBuffer(onlyWriter{w}, onlyReader{r}, buf)
	if err != nil {
		return written, err
	}
	if h != nil {
		actual, err := h.Verify(*expected)
		if err != nil {
			return written, err
		}
		log.Debugf("firmware digest %s verified", actual)
	}
	commit = true
	return written, nil
}

// onlyWriter and onlyReader hide ReaderFrom/WriterTo so io.CopyBuffer honours the chunk size.
type onlyWriter struct{ io.Writer }

type onlyReader struct{ io.Reader }

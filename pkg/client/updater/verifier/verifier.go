// Package verifier computes digests of streamed content and compares them against the digests
// announced in an update manifest.
//
// Bare hex digests are interpreted by length: 40 characters are SHA-1, which is what update servers
// publish by default, 64 characters are SHA-256. Digests of the form "algorithm:hex" are parsed with
// go-digest and support every algorithm it knows (sha256, sha384, sha512) in addition to "sha1".
package verifier

import (
	"crypto/sha1" //nolint:gosec // SHA-1 is the digest published by update servers.
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/opencontainers/go-digest"
)

var (
	ErrUnsupportedDigest = errors.New("unsupported digest")
	ErrHashMismatch      = errors.New("hash mismatch")
	ErrFinished          = errors.New("verification already finished")
)

// SHA1 is not registered with go-digest, it is handled by this package directly.
const SHA1 digest.Algorithm = "sha1"

// Digest is a hex encoded digest together with the algorithm that produced it.
type Digest struct {
	Algorithm digest.Algorithm
	Hex       string
}

// ParseDigest parses a digest as it appears in a manifest.
func ParseDigest(s string) (Digest, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Digest{}, fmt.Errorf("%w: empty digest", ErrUnsupportedDigest)
	}
	if alg, encoded, ok := strings.Cut(s, ":"); ok {
		if digest.Algorithm(alg) == SHA1 {
			return parseHex(SHA1, encoded, sha1.Size)
		}
		d, err := digest.Parse(s)
		if err != nil {
			return Digest{}, fmt.Errorf("%w: %q: %w", ErrUnsupportedDigest, s, err)
		}
		return Digest{Algorithm: d.Algorithm(), Hex: d.Encoded()}, nil
	}
	switch len(s) {
	case sha1.Size * 2:
		return parseHex(SHA1, s, sha1.Size)
	case digest.SHA256.Size() * 2:
		return parseHex(digest.SHA256, s, digest.SHA256.Size())
	default:
		return Digest{}, fmt.Errorf("%w: cannot infer algorithm of %q", ErrUnsupportedDigest, s)
	}
}

func parseHex(alg digest.Algorithm, s string, size int) (Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != size {
		return Digest{}, fmt.Errorf("%w: invalid %s digest %q", ErrUnsupportedDigest, alg, s)
	}
	return Digest{Algorithm: alg, Hex: s}, nil
}

// String returns the digest in "algorithm:hex" form.
func (d Digest) String() string {
	return fmt.Sprintf("%s:%s", d.Algorithm, d.Hex)
}

// Equal compares two digests, hex comparison is case-insensitive.
func (d Digest) Equal(o Digest) bool {
	return d.Algorithm == o.Algorithm && strings.EqualFold(d.Hex, o.Hex)
}

// MismatchError describes content whose digest differs from the expected one.
type MismatchError struct {
	Expected Digest
	Actual   Digest
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("hash mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrHashMismatch
}

// Compare returns a *MismatchError if actual differs from expected.
func Compare(expected, actual Digest) error {
	if expected.Equal(actual) {
		return nil
	}
	return &MismatchError{Expected: expected, Actual: actual}
}

// Handle accumulates a digest over chunks of arbitrary size.
// A Handle serves exactly one verification, it can not be reused after Finish.
type Handle struct {
	alg      digest.Algorithm
	h        hash.Hash
	finished bool
}

// Start creates a Handle for the given algorithm.
func Start(alg digest.Algorithm) (*Handle, error) {
	if alg == SHA1 {
		return &Handle{alg: alg, h: sha1.New()}, nil //nolint:gosec
	}
	if !alg.Available() {
		return nil, fmt.Errorf("%w: algorithm %q", ErrUnsupportedDigest, alg)
	}
	return &Handle{alg: alg, h: alg.Hash()}, nil
}

// Update feeds a chunk into the digest.
func (h *Handle) Update(p []byte) error {
	if h.finished {
		return ErrFinished
	}
	_, _ = h.h.Write(p) // hash.Hash never returns an error
	return nil
}

// Write makes the handle usable as an io.Writer.
func (h *Handle) Write(p []byte) (int, error) {
	if err := h.Update(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Finish finalizes the digest. Further calls return ErrFinished.
func (h *Handle) Finish() (Digest, error) {
	if h.finished {
		return Digest{}, ErrFinished
	}
	h.finished = true
	return Digest{Algorithm: h.alg, Hex: hex.EncodeToString(h.h.Sum(nil))}, nil
}

// Verify finalizes the digest and compares it against expected.
func (h *Handle) Verify(expected Digest) (Digest, error) {
	actual, err := h.Finish()
	if err != nil {
		return Digest{}, err
	}
	return actual, Compare(expected, actual)
}

// Package manifest contains the description of an update as it is served by the update server.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/samber/lo"

	"github.com/unbasical/doras-ota/pkg/client/updater/verifier"
)

var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest describes the difference between the installed version and Version.
type Manifest struct {
	Version  string         `json:"version"`
	New      []FileEntry    `json:"new"`
	Update   []FileEntry    `json:"update"`
	Delete   []string       `json:"delete"`
	Firmware *FirmwareEntry `json:"firmware,omitempty"`
}

// FileEntry identifies one file to create or replace.
type FileEntry struct {
	URL     string `json:"URL"`
	DstPath string `json:"dst_path"`
	Hash    string `json:"hash"`
}

func (f FileEntry) String() string {
	return f.URL
}

// Digest returns the parsed hash of the entry.
func (f FileEntry) Digest() (verifier.Digest, error) {
	return verifier.ParseDigest(f.Hash)
}

// FirmwareEntry identifies a firmware image.
type FirmwareEntry struct {
	URL  string `json:"URL"`
	Hash string `json:"hash,omitempty"`
}

// HasDigest reports whether the firmware image can be verified.
func (f FirmwareEntry) HasDigest() bool {
	return strings.TrimSpace(f.Hash) != ""
}

// Files returns the entries of New followed by the entries of Update.
func (m *Manifest) Files() []FileEntry {
	return append(append(make([]FileEntry, 0, len(m.New)+len(m.Update)), m.New...), m.Update...)
}

// ValidationOptions configures Validate.
type ValidationOptions struct {
	AllowUnverifiedFirmware bool
}

// Parse decodes a manifest. Unknown fields and trailing data are rejected.
// It returns nil without an error if the payload is empty or null, which is how servers signal
// that no update is available.
func Parse(data []byte, opts ValidationOptions) (*Manifest, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	var m Manifest
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing data after manifest", ErrInvalidManifest)
	}
	if err := m.Validate(opts); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest before anything is downloaded.
func (m *Manifest) Validate(opts ValidationOptions) error {
	var errs []error
	if strings.TrimSpace(m.Version) == "" {
		errs = append(errs, errors.New("missing version"))
	}
	for _, f := range m.Files() {
		if err := validateFileEntry(f); err != nil {
			errs = append(errs, err)
		}
	}
	dups := lo.FindDuplicates(lo.Map(m.Files(), func(f FileEntry, _ int) string {
		return path.Clean(f.DstPath)
	}))
	for _, d := range dups {
		errs = append(errs, fmt.Errorf("destination %q is listed more than once", d))
	}
	for _, d := range m.Delete {
		if err := validateLogicalPath(d); err != nil {
			errs = append(errs, fmt.Errorf("delete entry %q: %w", d, err))
		}
	}
	if m.Firmware != nil {
		switch {
		case strings.TrimSpace(m.Firmware.URL) == "":
			errs = append(errs, errors.New("firmware entry without URL"))
		case m.Firmware.HasDigest():
			if _, err := verifier.ParseDigest(m.Firmware.Hash); err != nil {
				errs = append(errs, fmt.Errorf("firmware: %w", err))
			}
		case !opts.AllowUnverifiedFirmware:
			errs = append(errs, errors.New("firmware entry without hash"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return nil
}

func validateFileEntry(f FileEntry) error {
	if strings.TrimSpace(f.URL) == "" {
		return fmt.Errorf("entry for %q has no URL", f.DstPath)
	}
	if !path.IsAbs(f.DstPath) {
		return fmt.Errorf("entry %s: destination %q is not absolute", f, f.DstPath)
	}
	if err := validateLogicalPath(f.DstPath); err != nil {
		return fmt.Errorf("entry %s: %w", f, err)
	}
	if _, err := f.Digest(); err != nil {
		return fmt.Errorf("entry %s: %w", f, err)
	}
	return nil
}

// validateLogicalPath rejects paths that do not name a file below the device root.
func validateLogicalPath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("empty path")
	}
	for _, elem := range strings.Split(p, "/") {
		if elem == ".." {
			return fmt.Errorf("path %q leaves the device root", p)
		}
	}
	if path.Clean("/"+p) == "/" {
		return fmt.Errorf("path %q names the device root", p)
	}
	return nil
}

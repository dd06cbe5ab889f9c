// Package versionrecord persists the version of the installed update.
//
// The record is a single assignment, e.g. `VERSION = '2.0'`. It is only written after every other
// step of an update succeeded, so a crash during an update leaves the previous version in place.
package versionrecord

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/doras-ota/internal/pkg/utils/fileutils"
	"github.com/unbasical/doras-ota/internal/pkg/utils/writerutils"
	"github.com/unbasical/doras-ota/pkg/client/updater/backupmanager"
)

// DefaultVersion is reported when no record exists.
const DefaultVersion = "1.0.0"

var (
	ErrMalformedRecord = errors.New("malformed version record")
	ErrInvalidVersion  = errors.New("invalid version")
	recordPattern      = regexp.MustCompile(`^\s*VERSION\s*=\s*(?:'([^'\n]*)'|"([^"\n]*)")\s*$`)
)

// Record reads and writes the version record at Path.
type Record struct {
	Path           string
	DefaultVersion string
	backup         backupmanager.BackupManager
}

// New creates a Record. An empty defaultVersion falls back to DefaultVersion.
func New(path, defaultVersion string, backup backupmanager.BackupManager) *Record {
	if defaultVersion == "" {
		defaultVersion = DefaultVersion
	}
	return &Record{Path: path, DefaultVersion: defaultVersion, backup: backup}
}

// Format renders the record for version.
func Format(version string) string {
	return fmt.Sprintf("VERSION = '%s'\n", version)
}

// Parse extracts the version from the content of a record.
func Parse(data []byte) (string, error) {
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := recordPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[1] != "" {
			return m[1], nil
		}
		return m[2], nil
	}
	return "", fmt.Errorf("%w: no VERSION assignment", ErrMalformedRecord)
}

// Read returns the installed version.
// If the record is missing but its backup exists, the update was interrupted while the record was
// being replaced and the backup still describes the installed version.
func (r *Record) Read() (string, error) {
	for _, p := range []string{r.Path, backupmanager.BackupPath(r.Path)} {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", err
		}
		if p != r.Path {
			log.Warnf("version record %q is missing, using its backup", r.Path)
		}
		return Parse(data)
	}
	log.Debugf("no version record at %q, assuming %s", r.Path, r.DefaultVersion)
	return r.DefaultVersion, nil
}

// Write backs up the current record and replaces it with one for version.
func (r *Record) Write(version string) error {
	if strings.TrimSpace(version) == "" || strings.ContainsAny(version, "'\"\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	if err := r.backup.Backup(r.Path); err != nil {
		if !errors.Is(err, backupmanager.ErrNoPriorFile) {
			return fmt.Errorf("failed to back up version record: %w", err)
		}
		log.Debug("no previous version record to back up")
	}
	if err := os.MkdirAll(filepath.Dir(r.Path), 0755); err != nil {
		return err
	}
	staged := r.Path + backupmanager.StagedSuffix
	fp, err := os.OpenFile(staged, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w := writerutils.NewSafeFileWriter(fp)
	_, err = w.Write([]byte(Format(version)))
	if err = errors.Join(err, w.Close()); err != nil {
		return err
	}
	return fileutils.ReplaceFile(staged, r.Path)
}

package updater

import (
	"errors"
	"fmt"

	"github.com/unbasical/doras-ota/pkg/client/updater/manifest"
)

// UpdaterError is the terminal error of an update attempt.
// It matches both its kind and its cause with errors.Is.
type UpdaterError struct {
	cause error
	kind  error
}

func (u UpdaterError) Error() string {
	if u.cause == nil {
		return u.kind.Error()
	}
	if errors.Is(u.cause, u.kind) {
		return u.cause.Error()
	}
	return fmt.Sprintf("%s: %s", u.kind, u.cause)
}

func (u UpdaterError) Unwrap() []error {
	if u.cause == nil {
		return []error{u.kind}
	}
	return []error{u.kind, u.cause}
}

// Kind returns the stage specific error, e.g. ErrCommitFailed.
func (u UpdaterError) Kind() error {
	return u.kind
}

func NewUpdaterError(kind error, cause error) error {
	return UpdaterError{
		cause: cause,
		kind:  kind,
	}
}

var (
	ErrReadVersionFailed       = errors.New("failed to read installed version")
	ErrManifestFetchFailed     = errors.New("failed to fetch manifest")
	ErrInvalidManifest         = manifest.ErrInvalidManifest
	ErrDownloadFailedExhausted = errors.New("failed to download")
	ErrFailedToCreateBackup    = errors.New("failed to create backup")
	ErrCommitFailed            = errors.New("failed to commit staged file")
	ErrFirmwareApply           = errors.New("failed to apply firmware")
	ErrFirmwareHashMismatch    = errors.New("firmware hash mismatch")
	ErrPersistVersionFailed    = errors.New("failed to persist version")
	ErrUpdateInProgress        = errors.New("update already in progress")
)

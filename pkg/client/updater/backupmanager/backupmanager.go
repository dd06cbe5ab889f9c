package backupmanager

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/doras-ota/internal/pkg/utils/fileutils"
)

const (
	BackupSuffix       = ".bak"
	DeleteBackupSuffix = ".bak_del"
	StagedSuffix       = ".new"
)

var (
	// ErrNoPriorFile signals that there was nothing to back up. Callers treat it as benign.
	ErrNoPriorFile = errors.New("no prior file")
	ErrNoBackup    = errors.New("no backup")
)

// BackupManager keeps exactly one backup generation per path.
type BackupManager interface {
	// Backup moves path to path.bak, replacing an older backup.
	Backup(path string) error
	// DeleteWithBackup moves path to path.bak_del instead of deleting it.
	DeleteWithBackup(path string) error
	// Restore moves path.bak back to path.
	Restore(path string) error
	// RestoreDeleted moves path.bak_del back to path.
	RestoreDeleted(path string) error
}

type renameBackup struct{}

// New returns a BackupManager which creates backups by renaming files next to the original.
func New() BackupManager {
	return renameBackup{}
}

// BackupPath returns where Backup stores the previous content of path.
func BackupPath(path string) string {
	return path + BackupSuffix
}

// DeleteBackupPath returns where DeleteWithBackup stores the content of path.
func DeleteBackupPath(path string) string {
	return path + DeleteBackupSuffix
}

func (renameBackup) Backup(path string) error {
	return moveAside(path, BackupPath(path))
}

func (renameBackup) DeleteWithBackup(path string) error {
	return moveAside(path, DeleteBackupPath(path))
}

func (renameBackup) Restore(path string) error {
	return restore(BackupPath(path), path)
}

func (renameBackup) RestoreDeleted(path string) error {
	return restore(DeleteBackupPath(path), path)
}

func moveAside(path, backupPath string) error {
	exists, err := fileutils.Exists(path)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoPriorFile, path)
	}
	if err := fileutils.RemoveIfExists(backupPath); err != nil {
		return fmt.Errorf("failed to remove stale backup %s: %w", backupPath, err)
	}
	log.Debugf("moving %q to %q", path, backupPath)
	return fileutils.ReplaceFile(path, backupPath)
}

func restore(backupPath, path string) error {
	exists, err := fileutils.Exists(backupPath)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNoBackup, backupPath)
	}
	log.Debugf("restoring %q from %q", path, backupPath)
	return fileutils.ReplaceFile(backupPath, path)
}

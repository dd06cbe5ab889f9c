package fileutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
)

// ReplaceLockName is the single lock file in os.TempDir that serializes every ReplaceFile call.
const ReplaceLockName = "ota_replace.lock"

// ReplaceFile renames src onto dst and syncs the directory of dst, so the new entry
// survives a power loss. Replacements are serialized across processes.
func ReplaceFile(src, dst string) error {
	lock := flock.New(replaceLockPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock replacement of %q: %w", dst, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()
	if err := os.Rename(src, dst); err != nil {
		return err
	}
	return SyncDir(filepath.Dir(dst))
}

func replaceLockPath() string {
	return filepath.Join(os.TempDir(), ReplaceLockName)
}

// SyncDir flushes the entries of dir. Filesystems that cannot sync directories are ignored.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	syncErr := d.Sync()
	if errors.Is(syncErr, syscall.EINVAL) || errors.Is(syncErr, errors.ErrUnsupported) {
		syncErr = nil
	}
	return errors.Join(syncErr, d.Close())
}

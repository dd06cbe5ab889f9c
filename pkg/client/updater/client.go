// Package updater applies manifest driven updates to the files and the firmware of a device.
//
// An update is staged completely before anything on the device is touched. Existing files are
// only moved to their backup once every replacement has been downloaded and verified, and the
// version record is only written after all other steps succeeded.
package updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"github.com/unbasical/doras-ota/internal/pkg/metrics"
	"github.com/unbasical/doras-ota/internal/pkg/utils/buildurl"
	"github.com/unbasical/doras-ota/internal/pkg/utils/fileutils"
	"github.com/unbasical/doras-ota/internal/pkg/utils/funcutils"
	"github.com/unbasical/doras-ota/internal/pkg/utils/readerutils"
	"github.com/unbasical/doras-ota/pkg/backoff"
	"github.com/unbasical/doras-ota/pkg/client/transport"
	"github.com/unbasical/doras-ota/pkg/client/updater/backupmanager"
	"github.com/unbasical/doras-ota/pkg/client/updater/firmware"
	"github.com/unbasical/doras-ota/pkg/client/updater/manifest"
	"github.com/unbasical/doras-ota/pkg/client/updater/stager"
	"github.com/unbasical/doras-ota/pkg/client/updater/statemanager"
	"github.com/unbasical/doras-ota/pkg/client/updater/updaterstate"
	"github.com/unbasical/doras-ota/pkg/client/updater/verifier"
	"github.com/unbasical/doras-ota/pkg/client/updater/versionrecord"
)

const maxManifestSize = 1 << 20

// Transport is the part of *transport.Client the updater depends on.
type Transport interface {
	Get(ctx context.Context, rawURL string) (*transport.Response, error)
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Client applies the updates published by an update server.
type Client struct {
	opts      clientOpts
	server    *url.URL
	transport Transport
	backups   backupmanager.BackupManager
	record    *versionrecord.Record
	state     *statemanager.Manager[updaterstate.State]
	sink      firmware.Sink
}

// attempt is the working set of a single Update call, it is never persisted.
type attempt struct {
	manifest      *manifest.Manifest
	stager        *stager.Stager
	staged        []manifest.FileEntry
	firmwareBytes uint64
	result        *Result
}

// Update runs one update attempt to completion.
// If the server has no update the returned Result has State Done and Updated set to false.
// On failure the Result is returned together with an UpdaterError and has State Aborted.
// The device has to be restarted by the caller to activate an update.
func (c *Client) Update(ctx context.Context) (*Result, error) {
	unlock, err := c.lockUpdates()
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := time.Now()
	res, err := c.update(ctx)
	c.recordAttempt(started, res, err)
	return res, err
}

// lockUpdates prevents concurrent updates, also across processes.
func (c *Client) lockUpdates() (func(), error) {
	if err := os.MkdirAll(c.opts.InternalDirectory, 0755); err != nil {
		return nil, err
	}
	lockPath := filepath.Join(c.opts.InternalDirectory, updateLockName)
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %q: %w", lockPath, err)
	}
	if !locked {
		return nil, NewUpdaterError(ErrUpdateInProgress, fmt.Errorf("%q is held by another process", lockPath))
	}
	return func() {
		_ = lock.Unlock()
	}, nil
}

func (c *Client) update(ctx context.Context) (*Result, error) {
	res := &Result{State: Idle, Attempts: map[string]uint{}}
	current, err := c.record.Read()
	if err != nil {
		res.abort()
		return res, NewUpdaterError(ErrReadVersionFailed, err)
	}
	res.PreviousVersion, res.Version = current, current

	res.enter(FetchManifest)
	m, err := c.fetchManifest(ctx, current)
	if err != nil {
		res.abort()
		return res, err
	}
	if m == nil || m.Version == current {
		log.Infof("already on the latest version %s", current)
		res.enter(Done)
		return res, nil
	}
	res.TargetVersion = m.Version
	if m.Firmware != nil && c.sink == nil {
		res.abort()
		return res, NewUpdaterError(ErrFirmwareApply, errors.New("manifest contains firmware but no firmware sink is configured"))
	}
	log.Infof("updating from %s to %s", current, m.Version)

	a := &attempt{
		manifest: m,
		stager:   stager.New(c.transport, c.opts.ChunkSize),
		result:   res,
	}
	steps := []struct {
		state State
		run   func(context.Context, *attempt) error
	}{
		{StageFiles, c.stageFiles},
		{BackupExisting, c.backupExisting},
		{Commit, c.commit},
		{ApplyDeletes, c.applyDeletes},
		{ApplyFirmware, c.applyFirmware},
		{PersistVersion, c.persistVersion},
	}
	for _, step := range steps {
		res.enter(step.state)
		err := step.run(ctx, a)
		res.BytesDownloaded = a.stager.BytesDownloaded() + a.firmwareBytes
		if err != nil {
			log.WithError(err).Errorf("update to %s aborted in %s", m.Version, step.state)
			res.abort()
			return res, err
		}
	}
	res.Version = m.Version
	res.Updated = true
	res.enter(Done)
	log.Infof("updated from %s to %s, a restart is required to activate it", current, m.Version)
	return res, nil
}

func (c *Client) fetchManifest(ctx context.Context, current string) (*manifest.Manifest, error) {
	u := buildurl.New(
		buildurl.WithBasePath(c.opts.ServerURL),
		buildurl.WithPathElement(c.opts.ManifestPath),
		buildurl.WithQueryParam("current_ver", current),
	)
	log.Debugf("requesting manifest %s", u)
	resp, err := c.transport.Get(ctx, u)
	if err != nil {
		return nil, NewUpdaterError(ErrManifestFetchFailed, err)
	}
	if !resp.IsSuccess() {
		_ = resp.Close()
		return nil, NewUpdaterError(ErrManifestFetchFailed, fmt.Errorf("%w: %d %s", transport.ErrUnexpectedStatus, resp.StatusCode, resp.Reason))
	}
	data, err := resp.Content(maxManifestSize)
	if err != nil {
		return nil, NewUpdaterError(ErrManifestFetchFailed, err)
	}
	m, err := manifest.Parse(data, manifest.ValidationOptions{AllowUnverifiedFirmware: c.opts.AllowUnverifiedFirmware})
	if err != nil {
		return nil, NewUpdaterError(ErrInvalidManifest, err)
	}
	return m, nil
}

func (c *Client) stageFiles(ctx context.Context, a *attempt) error {
	for _, f := range a.manifest.Files() {
		if err := c.stageWithRetry(ctx, a, f); err != nil {
			return err
		}
		a.staged = append(a.staged, f)
	}
	return nil
}

func (c *Client) stageWithRetry(ctx context.Context, a *attempt, f manifest.FileEntry) error {
	exhausted := fmt.Errorf("%w %s", ErrDownloadFailedExhausted, f.URL)
	expected, err := f.Digest()
	if err != nil {
		return NewUpdaterError(exhausted, err)
	}
	src, err := c.entryURL(f.URL)
	if err != nil {
		return NewUpdaterError(exhausted, err)
	}
	dst := c.DevicePath(f.DstPath)
	logger := log.WithFields(log.Fields{"url": src, "dst": dst})
	err = backoff.Retry(c.opts.MaxAttempts, c.opts.NewBackoff(), func(n uint) error {
		a.result.Attempts[dst] = n
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := a.stager.Stage(ctx, src, dst, expected)
		if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
			return backoff.Permanent(fmt.Errorf("%w: %w", ctxErr, err))
		}
		switch {
		case err == nil:
			metrics.FileDownloadAttemptsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
		case errors.Is(err, verifier.ErrHashMismatch):
			metrics.FileDownloadAttemptsTotal.WithLabelValues(metrics.ResultHashMismatch).Inc()
			logger.WithError(err).Warnf("attempt %d/%d: downloaded file does not match its hash", n, c.opts.MaxAttempts)
		default:
			metrics.FileDownloadAttemptsTotal.WithLabelValues(metrics.ResultFailure).Inc()
			logger.WithError(err).Warnf("attempt %d/%d: error downloading", n, c.opts.MaxAttempts)
		}
		return err
	})
	if err != nil {
		return NewUpdaterError(exhausted, err)
	}
	logger.Debugf("staged after %d attempt(s)", a.result.Attempts[dst])
	return nil
}

// backupExisting runs only after every file was staged.
func (c *Client) backupExisting(_ context.Context, a *attempt) error {
	for _, f := range a.manifest.Update {
		dst := c.DevicePath(f.DstPath)
		err := c.backups.Backup(dst)
		switch {
		case err == nil:
			log.Debugf("backed up %q", dst)
		case errors.Is(err, backupmanager.ErrNoPriorFile):
			log.Debugf("no prior file at %q", dst)
		default:
			return NewUpdaterError(ErrFailedToCreateBackup, err)
		}
	}
	return nil
}

func (c *Client) commit(_ context.Context, a *attempt) error {
	for _, f := range a.staged {
		dst := c.DevicePath(f.DstPath)
		if err := fileutils.ReplaceFile(stager.StagedPath(dst), dst); err != nil {
			return NewUpdaterError(ErrCommitFailed, err)
		}
		a.result.Committed = append(a.result.Committed, dst)
	}
	return nil
}

// applyDeletes never fails, deletions that cannot be applied are only logged.
func (c *Client) applyDeletes(_ context.Context, a *attempt) error {
	for _, p := range a.manifest.Delete {
		target := c.DevicePath(p)
		if err := c.backups.DeleteWithBackup(target); err != nil {
			log.WithError(err).Warnf("failed to delete %q", target)
			continue
		}
		a.result.Deleted = append(a.result.Deleted, target)
	}
	return nil
}

func (c *Client) applyFirmware(ctx context.Context, a *attempt) error {
	fw := a.manifest.Firmware
	if fw == nil {
		return nil
	}
	src, err := c.entryURL(fw.URL)
	if err != nil {
		return NewUpdaterError(ErrFirmwareApply, err)
	}
	var expected *verifier.Digest
	if fw.HasDigest() {
		d, err := verifier.ParseDigest(fw.Hash)
		if err != nil {
			return NewUpdaterError(ErrFirmwareApply, err)
		}
		expected = &d
	} else {
		log.Warnf("firmware %s has no hash, applying it unverified", src)
	}
	body, err := c.transport.Fetch(ctx, src)
	if err != nil {
		return NewUpdaterError(ErrFirmwareApply, err)
	}
	defer funcutils.LogOnErr(body.Close, "failed to close firmware stream of %s", src)
	var received atomic.Uint64
	written, err := firmware.Apply(c.sink, readerutils.NewCountingReader(body, &received), expected, c.opts.ChunkSize)
	a.firmwareBytes = received.Load()
	if err != nil {
		if errors.Is(err, verifier.ErrHashMismatch) {
			return NewUpdaterError(ErrFirmwareHashMismatch, err)
		}
		return NewUpdaterError(ErrFirmwareApply, err)
	}
	log.Infof("applied firmware %s (%d bytes)", src, written)
	a.result.FirmwareApplied = true
	return nil
}

func (c *Client) persistVersion(_ context.Context, a *attempt) error {
	if err := c.record.Write(a.manifest.Version); err != nil {
		return NewUpdaterError(ErrPersistVersionFailed, err)
	}
	return nil
}

func (c *Client) recordAttempt(started time.Time, res *Result, err error) {
	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultFailure
	case !res.Updated:
		result = metrics.ResultNoUpdate
	}
	metrics.UpdateAttemptsTotal.WithLabelValues(result).Inc()
	metrics.UpdateDuration.WithLabelValues(result).Observe(time.Since(started).Seconds())
	metrics.DownloadedBytesTotal.Add(float64(res.BytesDownloaded))

	entry := updaterstate.Attempt{
		CurrentVersion: res.PreviousVersion,
		TargetVersion:  res.TargetVersion,
		State:          res.State.String(),
		Started:        started.UTC(),
		Finished:       time.Now().UTC(),
	}
	if err != nil {
		entry.State = fmt.Sprintf("%s in %s", res.State, res.FailedState)
		entry.Error = err.Error()
	}
	err = c.state.Modify(func(s *updaterstate.State) error {
		s.Record(entry)
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("failed to record update attempt")
	}
}

// CurrentVersion returns the installed version.
func (c *Client) CurrentVersion() (string, error) {
	return c.record.Read()
}

// Status describes the installed version and the recent update attempts.
type Status struct {
	InstalledVersion    string
	LastAttempt         *updaterstate.Attempt
	ConsecutiveFailures int
}

// Status reads the installed version and the attempt history.
func (c *Client) Status() (*Status, error) {
	v, err := c.record.Read()
	if err != nil {
		return nil, err
	}
	s, err := c.state.Load()
	if err != nil {
		return nil, err
	}
	status := &Status{InstalledVersion: v, ConsecutiveFailures: s.ConsecutiveFailures()}
	if last, ok := s.Last(); ok {
		status.LastAttempt = &last
	}
	return status, nil
}

// Restore moves the backup of the device path p back in place.
// If deleted is set the backup of a deleted file is restored instead.
func (c *Client) Restore(p string, deleted bool) error {
	unlock, err := c.lockUpdates()
	if err != nil {
		return err
	}
	defer unlock()
	target := c.DevicePath(p)
	if deleted {
		return c.backups.RestoreDeleted(target)
	}
	return c.backups.Restore(target)
}

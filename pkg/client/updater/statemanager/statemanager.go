// Package statemanager stores a JSON document on disk and serializes access to it with file locks.
package statemanager

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"github.com/unbasical/doras-ota/internal/pkg/utils/fileutils"
	"github.com/unbasical/doras-ota/internal/pkg/utils/writerutils"
)

// Manager is a generic wrapper around a state object T which is serialized to the storage as JSON.
// Unreadable or empty files are treated as absent, the in-memory default is used instead.
type Manager[T any] struct {
	state T
	path  string
}

// New creates a manager for the document at p, nothing is read or written.
func New[T any](defaultState T, p string) *Manager[T] {
	return &Manager[T]{state: defaultState, path: p}
}

// Path returns the location of the document.
func (m *Manager[T]) Path() string {
	return m.path
}

func (m *Manager[T]) lock(shared bool) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return nil, err
	}
	fileLock := flock.New(m.path + ".lock")
	lockFn := fileLock.Lock
	if shared {
		lockFn = fileLock.RLock
	}
	if err := lockFn(); err != nil {
		return nil, err
	}
	return func() {
		_ = fileLock.Unlock()
	}, nil
}

// Load acquires a shared lock, then reads and decodes the state from the file.
func (m *Manager[T]) Load() (T, error) {
	unlock, err := m.lock(true)
	if err != nil {
		var zero T
		return zero, err
	}
	defer unlock()
	if err := m.read(); err != nil {
		var zero T
		return zero, err
	}
	return m.state, nil
}

// Modify acquires an exclusive lock and loads the current state.
// The callback mutates it before it is written back. If the callback fails nothing is written.
func (m *Manager[T]) Modify(cb func(*T) error) error {
	unlock, err := m.lock(false)
	if err != nil {
		return err
	}
	defer unlock()
	if err := m.read(); err != nil {
		return err
	}
	next := m.state
	if err := cb(&next); err != nil {
		return err
	}
	if err := m.write(next); err != nil {
		return err
	}
	m.state = next
	return nil
}

func (m *Manager[T]) read() error {
	fp, err := os.Open(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() {
		_ = fp.Close()
	}()
	var loaded T
	err = json.NewDecoder(fp).Decode(&loaded)
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	switch {
	case err == nil:
		m.state = loaded
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &syntaxError), errors.As(err, &typeError):
		log.WithError(err).Warnf("ignoring unreadable state file %q", m.path)
	default:
		return err
	}
	return nil
}

// write replaces the document through a synced temporary file so readers never see partial JSON.
func (m *Manager[T]) write(state T) error {
	tmp := m.path + ".tmp"
	fp, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	w := writerutils.NewSafeFileWriter(fp)
	err = json.NewEncoder(w).Encode(state)
	if err = errors.Join(err, w.Close()); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return fileutils.ReplaceFile(tmp, m.path)
}

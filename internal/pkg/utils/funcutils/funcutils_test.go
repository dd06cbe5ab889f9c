package funcutils

import (
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogOnErr(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	LogOnErr(func() error { return nil }, "failed to close %q", "a.py.new")
	assert.Empty(t, hook.AllEntries())

	closeErr := errors.New("disk full")
	LogOnErr(func() error { return closeErr }, "failed to close %q", "a.py.new")
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, `failed to close "a.py.new"`, entry.Message)
	assert.Equal(t, closeErr, entry.Data[log.ErrorKey])
}

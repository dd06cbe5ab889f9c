package writerutils

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "main.py.new")
	fp, err := os.Create(p)
	require.NoError(t, err)

	w := NewSafeFileWriter(fp)
	n, err := w.Write([]byte("print('hi')\n"))
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())

	_, err = w.Write([]byte("late"))
	assert.True(t, errors.Is(err, os.ErrClosed))

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))
}

package versionrecord

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unbasical/doras-ota/pkg/client/updater/backupmanager"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{name: "single quotes", data: "VERSION = '2.0'", want: "2.0"},
		{name: "double quotes", data: `VERSION="1.2.3"`, want: "1.2.3"},
		{name: "surrounding lines", data: "# generated\n\nVERSION = 'v7'\n", want: "v7"},
		{name: "empty", data: "", wantErr: true},
		{name: "no assignment", data: "VERSION 2.0", wantErr: true},
		{name: "unquoted", data: "VERSION = 2.0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedRecord)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecord_ReadDefault(t *testing.T) {
	r := New(filepath.Join(t.TempDir(), "flash", "OTA_VERSION.py"), "", backupmanager.New())
	v, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, v)

	r = New(filepath.Join(t.TempDir(), "OTA_VERSION.py"), "0.0.1", backupmanager.New())
	v, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, "0.0.1", v)
}

func TestRecord_WriteAndRead(t *testing.T) {
	p := filepath.Join(t.TempDir(), "flash", "OTA_VERSION.py")
	r := New(p, "", backupmanager.New())

	require.NoError(t, r.Write("2.0"))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "VERSION = '2.0'\n", string(data))
	_, err = os.Stat(backupmanager.BackupPath(p))
	assert.True(t, os.IsNotExist(err), "first write has nothing to back up")

	require.NoError(t, r.Write("3.0"))
	v, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "3.0", v)
	bak, err := os.ReadFile(backupmanager.BackupPath(p))
	require.NoError(t, err)
	assert.Equal(t, "VERSION = '2.0'\n", string(bak))
	_, err = os.Stat(p + ".new")
	assert.True(t, os.IsNotExist(err))
}

func TestRecord_ReadFallsBackToBackup(t *testing.T) {
	p := filepath.Join(t.TempDir(), "OTA_VERSION.py")
	require.NoError(t, os.WriteFile(backupmanager.BackupPath(p), []byte(Format("1.5")), 0644))
	v, err := New(p, "", backupmanager.New()).Read()
	require.NoError(t, err)
	assert.Equal(t, "1.5", v)
}

func TestRecord_WriteRejectsInvalidVersions(t *testing.T) {
	p := filepath.Join(t.TempDir(), "OTA_VERSION.py")
	r := New(p, "", backupmanager.New())
	for _, v := range []string{"", "  ", "1'0", "a\nb"} {
		assert.ErrorIs(t, r.Write(v), ErrInvalidVersion, v)
	}
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

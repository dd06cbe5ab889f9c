package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCliArgs_LoadConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("server: http://from-file:8000\nroot: /mnt/device\nfirmware-path: /tmp/fw.bin\n"), 0600))

	args := cliArgs{ConfigFile: p, Root: "/override"}
	require.NoError(t, args.loadConfig())
	assert.Equal(t, "http://from-file:8000", args.cfg.Server)
	assert.Equal(t, "/override", args.cfg.Root)
	assert.Equal(t, uint(5), args.cfg.MaxAttempts)

	client, err := args.newClient()
	require.NoError(t, err)
	assert.Equal(t, "/override/flash/main.py", client.DevicePath("/flash/main.py"))

	assert.Error(t, (&cliArgs{}).loadConfig(), "server is required")
	assert.NoError(t, (&cliArgs{Server: "https://updates.example.org"}).loadConfig())
}

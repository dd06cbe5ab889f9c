package configs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/unbasical/doras-ota/examples"
)

func Test_OTAClientConfigExample(t *testing.T) {
	var cfg OTAClientConfig
	decoder := yaml.NewDecoder(strings.NewReader(examples.OTAClientExampleConfig()))
	decoder.KnownFields(true)
	require.NoError(t, decoder.Decode(&cfg))
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"systemctl", "reboot"}, cfg.RestartCommand)
}

func TestLoadOTAClientConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("server: http://10.0.0.1:8000\nmax-attempts: 3\n"), 0600))
	cfg, err := LoadOTAClientConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8000", cfg.Server)
	assert.Equal(t, uint(3), cfg.MaxAttempts)
	// defaults are kept for missing keys
	assert.Equal(t, "/flash/OTA_VERSION.py", cfg.VersionFile)
	assert.Equal(t, 1024, cfg.ChunkSize)

	require.NoError(t, os.WriteFile(p, []byte("server: http://10.0.0.1\nretries: 3\n"), 0600))
	_, err = LoadOTAClientConfig(p)
	assert.Error(t, err)
}

func TestOTAClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*OTAClientConfig)
		wantErr string
	}{
		{name: "valid", modify: func(c *OTAClientConfig) {}},
		{name: "missing server", modify: func(c *OTAClientConfig) { c.Server = "" }, wantErr: "server is required"},
		{name: "bad scheme", modify: func(c *OTAClientConfig) { c.Server = "ftp://x" }, wantErr: "not an http(s) URL"},
		{name: "zero attempts", modify: func(c *OTAClientConfig) { c.MaxAttempts = 0 }, wantErr: "max-attempts"},
		{name: "zero chunk size", modify: func(c *OTAClientConfig) { c.ChunkSize = 0 }, wantErr: "chunk-size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultOTAClientConfig()
			cfg.Server = "https://updates.example.org"
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

package configs

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/unbasical/doras-ota/internal/pkg/utils/fileutils"
)

// OTAClientConfig is the configuration file of the update client.
// Zero values are replaced by the defaults of DefaultOTAClientConfig when loading.
type OTAClientConfig struct {
	Server                  string        `yaml:"server"`
	ManifestPath            string        `yaml:"manifest-path"`
	Root                    string        `yaml:"root"`
	InternalDir             string        `yaml:"internal-dir"`
	VersionFile             string        `yaml:"version-file"`
	DefaultVersion          string        `yaml:"default-version"`
	FirmwarePath            string        `yaml:"firmware-path"`
	Timeout                 time.Duration `yaml:"timeout"`
	MaxAttempts             uint          `yaml:"max-attempts"`
	MaxRedirects            int           `yaml:"max-redirects"`
	ChunkSize               int           `yaml:"chunk-size"`
	AllowUnverifiedFirmware bool          `yaml:"allow-unverified-firmware"`
	RestartCommand          []string      `yaml:"restart-command"`
	MetricsFile             string        `yaml:"metrics-file"`
}

func DefaultOTAClientConfig() OTAClientConfig {
	return OTAClientConfig{
		ManifestPath:   "manifest.json",
		Root:           "/",
		InternalDir:    "/var/lib/ota-client",
		VersionFile:    "/flash/OTA_VERSION.py",
		DefaultVersion: "1.0.0",
		Timeout:        30 * time.Second,
		MaxAttempts:    5,
		MaxRedirects:   5,
		ChunkSize:      1024,
	}
}

// LoadOTAClientConfig reads the file at path on top of the defaults.
func LoadOTAClientConfig(path string) (OTAClientConfig, error) {
	cfg := DefaultOTAClientConfig()
	if _, err := fileutils.SafeReadYAML(path, &cfg, 0600); err != nil {
		return OTAClientConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid value.
func (c *OTAClientConfig) Validate() error {
	var errs []error
	if c.Server == "" {
		errs = append(errs, errors.New("server is required"))
	} else if u, err := url.Parse(c.Server); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server %q is not an http(s) URL", c.Server))
	}
	if c.Root == "" {
		errs = append(errs, errors.New("root is required"))
	}
	if c.InternalDir == "" {
		errs = append(errs, errors.New("internal-dir is required"))
	}
	if c.MaxAttempts == 0 {
		errs = append(errs, errors.New("max-attempts must be positive"))
	}
	if c.MaxRedirects < 0 {
		errs = append(errs, errors.New("max-redirects must not be negative"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk-size must be positive"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	return errors.Join(errs...)
}

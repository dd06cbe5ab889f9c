package updater

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/unbasical/doras-ota/common"
	"github.com/unbasical/doras-ota/pkg/backoff"
	"github.com/unbasical/doras-ota/pkg/client/transport"
	"github.com/unbasical/doras-ota/pkg/client/updater/backupmanager"
	"github.com/unbasical/doras-ota/pkg/client/updater/firmware"
	"github.com/unbasical/doras-ota/pkg/client/updater/stager"
	"github.com/unbasical/doras-ota/pkg/client/updater/statemanager"
	"github.com/unbasical/doras-ota/pkg/client/updater/updaterstate"
	"github.com/unbasical/doras-ota/pkg/client/updater/versionrecord"
)

const (
	DefaultManifestPath = "manifest.json"
	DefaultVersionFile  = "/flash/OTA_VERSION.py"
	DefaultMaxAttempts  = 5
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRedirects = 5
	stateFileName       = "state.json"
	updateLockName      = "update.lock"
)

type clientOpts struct {
	ServerURL               string
	ManifestPath            string
	RootDirectory           string
	InternalDirectory       string
	VersionFile             string
	DefaultVersion          string
	MaxAttempts             uint
	ChunkSize               int
	Timeout                 time.Duration
	MaxRedirects            int
	AllowUnverifiedFirmware bool
	UserAgent               string
	NewBackoff              func() backoff.Strategy
}

// NewClient creates a new update client with the provided options.
func NewClient(options ...func(*Client)) (*Client, error) {
	client := &Client{
		opts: clientOpts{
			ManifestPath:      DefaultManifestPath,
			RootDirectory:     "/",
			InternalDirectory: filepath.Join(os.TempDir(), "ota-client"),
			VersionFile:       DefaultVersionFile,
			DefaultVersion:    versionrecord.DefaultVersion,
			MaxAttempts:       DefaultMaxAttempts,
			ChunkSize:         stager.DefaultChunkSize,
			Timeout:           DefaultTimeout,
			MaxRedirects:      DefaultMaxRedirects,
			UserAgent:         common.UserAgent(),
		},
		backups: backupmanager.New(),
	}
	for _, option := range options {
		option(client)
	}
	server, err := url.Parse(client.opts.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if (server.Scheme != "http" && server.Scheme != "https") || server.Host == "" {
		return nil, fmt.Errorf("invalid server url %q: expected http(s)://host[:port]", client.opts.ServerURL)
	}
	if client.opts.MaxAttempts == 0 {
		return nil, errors.New("at least one download attempt is required")
	}
	if client.opts.NewBackoff == nil {
		maxAttempts := client.opts.MaxAttempts
		client.opts.NewBackoff = func() backoff.Strategy {
			return backoff.DownloadBackoff(maxAttempts)
		}
	}
	if client.transport == nil {
		transportOpts := []transport.Option{
			transport.WithTimeout(client.opts.Timeout),
			transport.WithMaxRedirects(client.opts.MaxRedirects),
		}
		if client.opts.UserAgent != "" {
			transportOpts = append(transportOpts, transport.WithHeader("User-Agent", client.opts.UserAgent))
		}
		client.transport = transport.NewClient(transportOpts...)
	}
	client.server = server
	client.record = versionrecord.New(client.DevicePath(client.opts.VersionFile), client.opts.DefaultVersion, client.backups)
	client.state = statemanager.New(updaterstate.State{}, filepath.Join(client.opts.InternalDirectory, stateFileName))
	return client, nil
}

// DevicePath maps an absolute device path, e.g. /flash/main.py, below the root directory.
func (c *Client) DevicePath(p string) string {
	return filepath.Join(c.opts.RootDirectory, filepath.FromSlash(path.Clean("/"+p)))
}

// entryURL fetches every entry from the configured server, only path and query of url are kept.
func (c *Client) entryURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	requestURI := u.RequestURI()
	if !strings.HasPrefix(requestURI, "/") {
		requestURI = "/" + requestURI
	}
	return c.server.Scheme + "://" + c.server.Host + requestURI, nil
}

// WithServerURL sets the update server, e.g. https://updates.example.org:8000.
func WithServerURL(serverURL string) func(*Client) {
	return func(c *Client) {
		c.opts.ServerURL = serverURL
	}
}

// WithManifestPath sets the path of the manifest endpoint below the server URL.
func WithManifestPath(manifestPath string) func(*Client) {
	return func(c *Client) {
		c.opts.ManifestPath = manifestPath
	}
}

// WithRootDirectory sets the directory that device paths of manifests are resolved against.
func WithRootDirectory(root string) func(*Client) {
	return func(c *Client) {
		c.opts.RootDirectory = root
	}
}

// WithInternalDirectory sets the client configurations local working directory.
// It stores the attempt history and the update lock.
func WithInternalDirectory(internalDirectory string) func(*Client) {
	return func(c *Client) {
		c.opts.InternalDirectory = internalDirectory
	}
}

// WithVersionFile sets the device path of the version record.
func WithVersionFile(versionFile string) func(*Client) {
	return func(c *Client) {
		c.opts.VersionFile = versionFile
	}
}

// WithDefaultVersion sets the version reported while no version record exists.
func WithDefaultVersion(version string) func(*Client) {
	return func(c *Client) {
		c.opts.DefaultVersion = version
	}
}

// WithFirmwareSink sets the sink firmware images are written to.
// Manifests with a firmware entry are rejected if no sink is configured.
func WithFirmwareSink(sink firmware.Sink) func(*Client) {
	return func(c *Client) {
		c.sink = sink
	}
}

// WithTransport replaces the transport, WithTimeout and WithMaxRedirects are ignored then.
func WithTransport(t Transport) func(*Client) {
	return func(c *Client) {
		c.transport = t
	}
}

func WithTimeout(timeout time.Duration) func(*Client) {
	return func(c *Client) {
		c.opts.Timeout = timeout
	}
}

func WithMaxRedirects(n int) func(*Client) {
	return func(c *Client) {
		c.opts.MaxRedirects = n
	}
}

// WithMaxAttempts sets how often a single file download is attempted before the update is aborted.
func WithMaxAttempts(n uint) func(*Client) {
	return func(c *Client) {
		c.opts.MaxAttempts = n
	}
}

// WithBackoff sets the strategy used between download attempts. A new strategy is created for every file.
// By default the strategy allows a wait between each of the MaxAttempts attempts.
func WithBackoff(newStrategy func() backoff.Strategy) func(*Client) {
	return func(c *Client) {
		c.opts.NewBackoff = newStrategy
	}
}

// WithChunkSize sets the size of the chunks in which downloads are streamed to disk.
func WithChunkSize(size int) func(*Client) {
	return func(c *Client) {
		c.opts.ChunkSize = size
	}
}

// WithAllowUnverifiedFirmware accepts firmware entries without a hash.
func WithAllowUnverifiedFirmware(allow bool) func(*Client) {
	return func(c *Client) {
		c.opts.AllowUnverifiedFirmware = allow
	}
}

// WithUserAgent sets the User-Agent header of requests made by the default transport.
// An empty value omits the header.
func WithUserAgent(userAgent string) func(*Client) {
	return func(c *Client) {
		c.opts.UserAgent = userAgent
	}
}

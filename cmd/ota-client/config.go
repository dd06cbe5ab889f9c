package main

import (
	"github.com/unbasical/doras-ota/configs"
	"github.com/unbasical/doras-ota/pkg/client/updater"
	"github.com/unbasical/doras-ota/pkg/client/updater/firmware"
)

// loadConfig reads the configuration file if one was given and applies the flags on top.
func (args *cliArgs) loadConfig() error {
	cfg := configs.DefaultOTAClientConfig()
	if args.ConfigFile != "" {
		var err error
		if cfg, err = configs.LoadOTAClientConfig(args.ConfigFile); err != nil {
			return err
		}
	}
	if args.Server != "" {
		cfg.Server = args.Server
	}
	if args.Root != "" {
		cfg.Root = args.Root
	}
	if args.InternalDir != "" {
		cfg.InternalDir = args.InternalDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	args.cfg = cfg
	return nil
}

func (args *cliArgs) newClient() (*updater.Client, error) {
	cfg := args.cfg
	options := []func(*updater.Client){
		updater.WithServerURL(cfg.Server),
		updater.WithManifestPath(cfg.ManifestPath),
		updater.WithRootDirectory(cfg.Root),
		updater.WithInternalDirectory(cfg.InternalDir),
		updater.WithVersionFile(cfg.VersionFile),
		updater.WithDefaultVersion(cfg.DefaultVersion),
		updater.WithTimeout(cfg.Timeout),
		updater.WithMaxRedirects(cfg.MaxRedirects),
		updater.WithMaxAttempts(cfg.MaxAttempts),
		updater.WithChunkSize(cfg.ChunkSize),
		updater.WithAllowUnverifiedFirmware(cfg.AllowUnverifiedFirmware),
	}
	if cfg.FirmwarePath != "" {
		options = append(options, updater.WithFirmwareSink(firmware.NewFileSink(cfg.FirmwarePath)))
	}
	return updater.NewClient(options...)
}

package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/doras-ota/internal/pkg/metrics"
	"github.com/unbasical/doras-ota/pkg/client/updater"
	"github.com/unbasical/doras-ota/pkg/client/updater/restarter"
)

// update runs a single update attempt and restarts the device if something was installed.
func (args *cliArgs) update(ctx context.Context) error {
	client, err := args.newClient()
	if err != nil {
		return err
	}
	installed, err := args.install(ctx, client)
	if err != nil || !installed {
		return err
	}
	return args.restart(ctx)
}

// install runs one update attempt and reports whether a new version was installed.
func (args *cliArgs) install(ctx context.Context, client *updater.Client) (bool, error) {
	res, err := client.Update(ctx)
	args.writeMetrics()
	if err != nil {
		return false, err
	}
	if !res.Updated {
		log.Debugf("version %q is up to date", res.Version)
		return false, nil
	}
	log.WithFields(log.Fields{
		"from":      res.PreviousVersion,
		"to":        res.Version,
		"committed": len(res.Committed),
		"deleted":   len(res.Deleted),
		"firmware":  res.FirmwareApplied,
		"bytes":     res.BytesDownloaded,
	}).Info("update installed")
	return true, nil
}

func (args *cliArgs) restart(ctx context.Context) error {
	if args.NoRestart {
		log.Info("not restarting, the update is activated by the next restart")
		return nil
	}
	return restarter.NewShellRestarter(args.cfg.RestartCommand).Restart(ctx)
}

func (args *cliArgs) writeMetrics() {
	if args.cfg.MetricsFile == "" {
		return
	}
	if err := metrics.WriteToTextfile(args.cfg.MetricsFile); err != nil {
		log.WithError(err).Warnf("failed to write metrics to %q", args.cfg.MetricsFile)
	}
}

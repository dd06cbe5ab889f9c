package main

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/doras-ota/internal/pkg/utils/observer"
	"github.com/unbasical/doras-ota/pkg/client/updater"
)

// watch polls the server until an update was installed or the process is stopped.
// Failed attempts are logged and retried at the next interval.
func (args *cliArgs) watch(ctx context.Context) error {
	if args.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", args.Interval)
	}
	client, err := args.newClient()
	if err != nil {
		return err
	}
	installed := false
	o := &observer.IntervalObserver[*updater.Client]{
		Interval:   args.Interval,
		Observable: client,
		F: func(ctx context.Context, c *updater.Client) error {
			ok, err := args.install(ctx, c)
			switch {
			case errors.Is(err, updater.ErrUpdateInProgress):
				log.Info("another update is running, waiting for the next interval")
			case err != nil:
				log.WithError(err).Warn("update attempt failed")
			case ok:
				installed = true
				return observer.ErrStopObserving
			}
			return nil
		},
	}
	log.Infof("checking for updates every %s", args.Interval)
	if err := o.Observe(ctx); err != nil {
		return err
	}
	if !installed {
		return nil
	}
	return args.restart(ctx)
}

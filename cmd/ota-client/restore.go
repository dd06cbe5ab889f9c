package main

import (
	log "github.com/sirupsen/logrus"
)

func (args *cliArgs) restore() error {
	client, err := args.newClient()
	if err != nil {
		return err
	}
	if err := client.Restore(args.RestorePath, args.RestoreDeleted); err != nil {
		return err
	}
	log.Infof("restored %s", client.DevicePath(args.RestorePath))
	return nil
}

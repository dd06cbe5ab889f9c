package main

import (
	"fmt"
	"os"
	"time"
)

func (args *cliArgs) status() error {
	client, err := args.newClient()
	if err != nil {
		return err
	}
	s, err := client.Status()
	if err != nil {
		return err
	}
	// print to stdout so the output can be parsed
	_, _ = fmt.Fprintf(os.Stdout, "installed version: %s\n", s.InstalledVersion)
	if s.LastAttempt == nil {
		_, _ = fmt.Fprintln(os.Stdout, "no update attempts recorded")
		return nil
	}
	a := s.LastAttempt
	_, _ = fmt.Fprintf(os.Stdout, "last attempt: %s at %s\n", a.State, a.Finished.Format(time.RFC3339))
	if a.TargetVersion != "" {
		_, _ = fmt.Fprintf(os.Stdout, "target version: %s\n", a.TargetVersion)
	}
	if a.Error != "" {
		_, _ = fmt.Fprintf(os.Stdout, "error: %s\n", a.Error)
	}
	_, _ = fmt.Fprintf(os.Stdout, "consecutive failures: %d\n", s.ConsecutiveFailures)
	return nil
}

// Package restarter runs the command that restarts the device after an update was installed.
package restarter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

type Restarter interface {
	Restart(ctx context.Context) error
}

type shellRestarter struct {
	cmd []string
}

func (s *shellRestarter) Restart(ctx context.Context) error {
	if len(s.cmd) == 0 {
		log.Info("no restart command configured, a manual restart is required to activate the update")
		return nil
	}
	log.Infof("restarting with %q", strings.Join(s.cmd, " "))
	out, err := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("restart command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	log.Debugf("restart command output: %s", out)
	return nil
}

// NewShellRestarter returns a Restarter that executes cmd. An empty cmd only logs.
func NewShellRestarter(cmd []string) Restarter {
	return &shellRestarter{
		cmd: cmd,
	}
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/sirupsen/logrus"

	"github.com/unbasical/doras-ota/common"
	"github.com/unbasical/doras-ota/configs"
	"github.com/unbasical/doras-ota/internal/pkg/utils/logutils"
)

type cliArgs struct {
	ConfigFile     string
	Server         string
	Root           string
	InternalDir    string
	NoRestart      bool
	RestorePath    string
	RestoreDeleted bool
	Interval       time.Duration

	cfg configs.OTAClientConfig
}

func main() {
	var args cliArgs
	app := kingpin.New("ota-client", "Over-the-air update client for embedded devices")
	app.Flag("config", "Path to the YAML configuration file").Envar("OTA_CONFIG").StringVar(&args.ConfigFile)
	app.Flag("server", "URL of the update server, overrides the configuration file").Envar("OTA_SERVER").StringVar(&args.Server)
	app.Flag("root", "Directory device paths are resolved against, overrides the configuration file").Envar("OTA_ROOT").StringVar(&args.Root)
	app.Flag("internal-dir", "Directory for the attempt history and the update lock, overrides the configuration file").Envar("OTA_INTERNAL_DIR").StringVar(&args.InternalDir)
	logLevel := app.Flag("log-level", "Log-Level, must be one of [DEBUG, INFO, WARN, ERROR]").Default("INFO").Envar("LOG_LEVEL").Enum("DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error")
	logFormat := app.Flag("log-format", "Log-Format, must be one of [TEXT, JSON]").Default("TEXT").Envar("LOG_FORMAT").Enum("TEXT", "JSON", "text", "json")

	updateCmd := app.Command("update", "Fetch and install the latest update, then restart the device")
	updateCmd.Flag("no-restart", "Do not run the restart command after an update was installed").BoolVar(&args.NoRestart)
	watchCmd := app.Command("watch", "Check for updates periodically and restart the device once one was installed")
	watchCmd.Flag("interval", "Time between two update checks").Default("1h").DurationVar(&args.Interval)
	watchCmd.Flag("no-restart", "Do not run the restart command after an update was installed").BoolVar(&args.NoRestart)
	statusCmd := app.Command("status", "Show the installed version and the last update attempt")
	restoreCmd := app.Command("restore", "Move the backup of a device path back in place")
	restoreCmd.Arg("path", "Device path, e.g. /flash/main.py").Required().StringVar(&args.RestorePath)
	restoreCmd.Flag("deleted", "Restore a file that was deleted by an update").BoolVar(&args.RestoreDeleted)
	app.Version(common.Version())
	app.HelpFlag.Short('h')

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))
	if err := logutils.SetLogLevel(*logLevel); err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	logutils.SetLogFormat(*logFormat)

	if err := args.loadConfig(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case updateCmd.FullCommand():
		err = args.update(ctx)
	case watchCmd.FullCommand():
		err = args.watch(ctx)
	case statusCmd.FullCommand():
		err = args.status()
	case restoreCmd.FullCommand():
		err = args.restore()
	}
	if err != nil {
		stop()
		log.WithError(err).Fatalf("%s failed", cmd)
	}
}

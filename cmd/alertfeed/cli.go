package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/rickgao/alert-feed/internal/config"
	"github.com/rickgao/alert-feed/internal/logging"
	"github.com/rickgao/alert-feed/internal/version"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (o *globalOptions) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the YAML config file (empty: environment only)",
			Sources:     cli.EnvVars("ALERTFEED_CONFIG"),
			Destination: &o.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "logging",
			Aliases:     []string{"l"},
			Usage:       "Override log level [debug|info|warn|error]",
			Destination: &o.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Category:    "logging",
			Aliases:     []string{"f"},
			Usage:       "Override log format [console|json]",
			Destination: &o.logFormat,
		},
	}
}

// setup loads the validated config and builds the process logger.
func (o *globalOptions) setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadAndValidate(o.configPath)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "load config", goerr.V("path", o.configPath))
	}

	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	logger.Info("starting alertfeed",
		"version", version.Version,
		"commit", version.Commit,
		"identity", cfg.Identity.ID,
		"config", o.configPath,
	)
	return cfg, logger, nil
}

func newApp() *cli.Command {
	opts := &globalOptions{}
	return &cli.Command{
		Name:    "alertfeed",
		Usage:   "Real-time alert delivery client",
		Version: version.String(),
		Flags:   opts.flags(),
		Commands: []*cli.Command{
			cmdRun(opts),
			cmdSend(opts),
			cmdVersion(),
		},
		ExitErrHandler: func(_ context.Context, _ *cli.Command, err error) {
			if err != nil {
				slog.Default().Error("alertfeed failed", logging.ErrAttr(err))
			}
		},
	}
}

func cmdVersion() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(_ context.Context, cmd *cli.Command) error {
			_, err := fmt.Fprintln(cmd.Root().Writer, version.String())
			return err
		},
	}
}

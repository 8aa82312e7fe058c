package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/karthikraju391/agent-dashboard/config"
)

// Flags holds global flag values and the config loaded in Before.
type Flags struct {
	ConfigPath string
	LogLevel   string
	LogFile    string

	Config config.Config
	Logger zerolog.Logger
}

func main() {
	if _, err := setupLogger("info", "console", ""); err != nil {
		panic(err)
	}

	flags := &Flags{}
	app := &cli.Command{
		Name:      "dashboard",
		Usage:     "Collect and serve agent dashboard messages",
		UsageText: "dashboard [global options] command [command options]",
		Version:   config.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file (optional)",
				Sources:     cli.EnvVars("DASHBOARD_CONFIG"),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error); overrides log.level",
				Sources:     cli.EnvVars("DASHBOARD_LOG_LEVEL"),
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (optional)",
				Sources:     cli.EnvVars("DASHBOARD_LOG_FILE"),
				Destination: &flags.LogFile,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			cfg, err := config.Load(flags.ConfigPath)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			if flags.LogLevel != "" {
				cfg.Log.Level = flags.LogLevel
			}
			if flags.LogFile != "" {
				cfg.Log.File = flags.LogFile
			}

			logger, err := setupLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
			if err != nil {
				return ctx, err
			}
			flags.Config = cfg
			flags.Logger = logger.With().Str("service", cfg.Server.ServiceName).Logger()
			return ctx, nil
		},
	}

	app = NewServeCmd(flags).Register(app)
	app = NewSendCmd(flags).Register(app)
	app = NewStatusCmd(flags).Register(app)
	app = NewDemoCmd(flags).Register(app)

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setupLogger(level, format, logFile string) (zerolog.Logger, error) {
	parsedLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("failed to parse log level: %w", err)
	}

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if format == "json" {
		output = os.Stderr
	}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file: %w", err)
		}
		// The file always gets JSON lines.
		output = io.MultiWriter(output, file)
	}

	log.Logger = zerolog.New(output).With().Timestamp().Logger().Level(parsedLevel)
	return log.Logger, nil
}

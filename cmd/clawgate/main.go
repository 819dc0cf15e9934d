package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v2"

	"clawgate/internal/config"
	"clawgate/internal/daemon"
	"clawgate/internal/logging"
	"clawgate/internal/session"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "clawgate",
		Usage:   "OpenAI-compatible gateway over a CLI coding agent",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to config file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the gateway daemon",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "address",
						Usage: "listen address, overrides the config file",
					},
				},
				Action: runServe,
			},
			{
				Name:   "config",
				Usage:  "print the effective configuration",
				Action: runConfig,
			},
			{
				Name:  "cleanup",
				Usage: "remove expired conversation session mappings",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "older-than",
						Usage: "expiry window in days, overrides the config file",
					},
				},
				Action: runCleanup,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	return config.Load(c.String("config"))
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel()))

	addr := cfg.Address()
	if override := c.String("address"); override != "" {
		addr = override
	}

	workspaceDir, err := cfg.WorkspaceDir()
	if err != nil {
		return err
	}
	subagentDir, err := cfg.SubagentDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{workspaceDir, subagentDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workspace dir: %w", err)
		}
	}

	sessionsPath, err := cfg.SessionsPath()
	if err != nil {
		return err
	}
	sessions, err := session.Open(sessionsPath, logger.With(logging.F("component", "sessions")))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessions.Close()

	var notifier daemon.Notifier = daemon.NopNotifier{}
	if command := cfg.NotifyCommand(); command != "" {
		notifier = daemon.NewScriptNotifier(command, cfg.NotifyTimeout(),
			logger.With(logging.F("component", "notify")))
	}

	registry := daemon.NewRequestRegistry()
	api := &daemon.API{
		Version:      version,
		Logger:       logger,
		Registry:     registry,
		Router:       daemon.NewSubagentRouter(registry, notifier, logger, cfg.BusyThreshold()),
		Sessions:     sessions,
		Launcher:     daemon.NewExecLauncher(cfg.BackendCommand(), logger.With(logging.F("component", "backend"))),
		Notifier:     notifier,
		Models:       cfg.Models(),
		DefaultModel: cfg.DefaultModel(),
		WorkspaceDir: workspaceDir,
		SubagentDir:  subagentDir,
		IdleTimeout:  cfg.IdleTimeout(),
		BackendEnv:   cfg.BackendEnv(),
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return daemon.New(addr, cfg.Token(), api, logger).Run(ctx)
}

func runConfig(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runCleanup(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel()))

	maxAge := cfg.SessionExpiry()
	if days := c.Int("older-than"); days > 0 {
		maxAge = time.Duration(days) * 24 * time.Hour
	}

	sessionsPath, err := cfg.SessionsPath()
	if err != nil {
		return err
	}
	sessions, err := session.Open(sessionsPath, logger)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer sessions.Close()

	removed := sessions.Cleanup(maxAge)
	fmt.Printf("removed %d expired session mapping(s)\n", removed)
	return nil
}

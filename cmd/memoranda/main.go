package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/memoranda/internal"
	pkgconfig "github.com/starford/memoranda/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if dir := cmd.String("dir"); dir != "" {
		cfg.Store.StartDir = dir
	}
	if cmd.Bool("watch") {
		cfg.Store.Watch = true
	}
	return cfg, nil
}

func serve(transport string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if transport != "" {
			cfg.App.Transport = transport
		}
		if port := cmd.Int("port"); port > 0 {
			cfg.App.HTTP.Port = int(port)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithVersion(version),
		}

		if err := internal.Run(ctx, opts...); err != nil {
			return fmt.Errorf("app run error: %w", err)
		}

		return nil
	}
}

func doctor(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	rep, err := internal.Diagnose(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("doctor: %w", err)
	}
	rep.Write(os.Stdout)
	if !rep.Healthy() {
		return cli.Exit("", 1)
	}
	return nil
}

func main() {
	portFlag := &cli.IntFlag{
		Name:    "port",
		Aliases: []string{"p"},
		Usage:   "HTTP port (overrides app.http.port)",
		Sources: cli.EnvVars("MEMORANDA_PORT"),
	}

	cmd := &cli.Command{
		Name:    "memoranda",
		Usage:   "Repository-scoped memo store for AI agents, served over MCP",
		Version: version,
		Action:  serve(""),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file; defaults apply when it does not exist",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"C"},
				Usage:   "Directory to start the repository search from (default: working directory)",
				Sources: cli.EnvVars("MEMORANDA_DIR"),
			},
			&cli.BoolFlag{
				Name:    "watch",
				Usage:   "Reindex memo files changed by other processes",
				Sources: cli.EnvVars("MEMORANDA_WATCH"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve MCP over stdin/stdout",
				Action: serve(internal.TransportStdio),
			},
			{
				Name:   "http",
				Usage:  "Serve the REST API, server-sent events and MCP over HTTP",
				Flags:  []cli.Flag{portFlag},
				Action: serve(internal.TransportHTTP),
			},
			{
				Name:   "doctor",
				Usage:  "Check that every file in the memo directories is a readable memo",
				Action: doctor,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

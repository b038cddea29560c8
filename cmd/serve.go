package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"llmgate/internal/config"
	"llmgate/internal/logging"
	"llmgate/internal/provider"
	providerfactory "llmgate/internal/provider/factory"
	"llmgate/internal/ratelimit"
	"llmgate/internal/router"
	"llmgate/internal/server"
)

type serveOptions struct {
	configPath string
	port       int
	provider   string
}

func parseServeFlags(args []string, out io.Writer) (serveOptions, error) {
	var opts serveOptions

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to YAML configuration file (optional)")
	fs.IntVarP(&opts.port, "port", "p", 0, "override server port from configuration")
	fs.StringVar(&opts.provider, "provider", "", "override the active backend")
	fs.Usage = func() {
		fmt.Fprintln(out, "Usage:\n  llmgate serve [--config <path>] [--port <port>] [--provider <name>]\n\nFlags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// loadConfig resolves the configuration and applies command line overrides.
func loadConfig(opts serveOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}

	if opts.port != 0 {
		if opts.port < 0 || opts.port > 65535 {
			return config.Config{}, fmt.Errorf("port override %d must be a valid TCP port", opts.port)
		}
		cfg.Server.Port = opts.port
	}
	if opts.provider != "" {
		cfg.Provider = opts.provider
	}
	return cfg, nil
}

func serve(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseServeFlags(args, out)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logging.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat)

	registry := provider.NewRegistry()
	if err := providerfactory.RegisterConfiguredProviders(cfg, registry); err != nil {
		return err
	}

	rt, err := router.New(registry, cfg.Provider)
	if err != nil {
		return err
	}

	active := rt.Provider().Name()
	if pc, ok := cfg.Providers.ByName()[active]; ok && pc.APIKey == "" {
		slog.Warn("no API key configured for the active provider; backend calls will fail authentication",
			"provider", active)
	}

	rl := cfg.Server.RateLimit
	limiter := ratelimit.New(rl.Requests, rl.Window, rl.MaxClients)

	srv, err := server.New(cfg, rt, limiter)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

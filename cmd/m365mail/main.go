// Package main is the entry point for the m365mail command line tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/shineum/m365-mail/internal/config"
	"github.com/shineum/m365-mail/internal/credential"
	"github.com/shineum/m365-mail/internal/provider"
	"github.com/shineum/m365-mail/internal/provider/graph"
	"github.com/shineum/m365-mail/internal/store"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := a.command().Run(ctx, os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// secretStore is the keyring surface used by the CLI.
type secretStore interface {
	config.SecretLookup
	SetClientSecret(tenantID, clientID, secret string) error
	DeleteClientSecret(tenantID, clientID string) error
}

// app holds the state shared by all commands. It is filled in by the root
// command's Before hook.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// openSecrets opens the credential store on first use.
	openSecrets func() (secretStore, error)

	cfg   *config.Config
	store *store.SQLiteStore
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:     in,
		out:    out,
		errOut: errOut,
		openSecrets: func() (secretStore, error) {
			s, err := credential.Open()
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

func (a *app) command() *cli.Command {
	return &cli.Command{
		Name:    "m365mail",
		Usage:   "Send and read Microsoft 365 mail through the Graph API",
		Version: version,
		Writer:  a.out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML configuration file",
				Sources: cli.EnvVars("M365MAIL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load environment variables from this file (default: .env when present)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides LOG_LEVEL)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "json or text (overrides LOG_FORMAT)",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, a.setup(cmd)
		},
		After: func(context.Context, *cli.Command) error {
			return a.close()
		},
		Commands: []*cli.Command{
			a.sendCommand(),
			a.readCommand(),
			a.foldersCommand(),
			a.indexCommand(),
			a.exportCommand(),
			a.tokenCommand(),
			a.secretCommand(),
		},
	}
}

// setup loads configuration, configures logging, fills the client secret
// from the keyring when needed and opens the local store.
func (a *app) setup(cmd *cli.Command) error {
	if err := loadEnvFile(cmd.String("env-file")); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v := cmd.String("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	setupLogger(a.errOut, cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Graph.ClientSecret == "" && cfg.Graph.TenantID != "" && cfg.Graph.ClientID != "" {
		if secrets, err := a.openSecrets(); err != nil {
			slog.Warn("keyring unavailable, client secret not loaded", "error", err)
		} else if err := cfg.ApplySecrets(secrets); err != nil {
			slog.Warn("client secret lookup failed", "error", err)
		}
	}

	if cfg.Store.Path != "" {
		s, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		a.store = s
		slog.Debug("opened store", "path", cfg.Store.Path)
	}

	a.cfg = cfg
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// providerOptions wires the local store in as the token cache when one is
// configured.
func (a *app) providerOptions() provider.Options {
	opts := provider.Options{Stdout: a.out}
	if a.store != nil {
		opts.TokenCache = a.store
	}
	return opts
}

// graphProvider builds a Graph client for commands that need more than the
// provider.Reader surface.
func (a *app) graphProvider() (*graph.GraphProvider, error) {
	if !a.cfg.GraphCredentialsSet() {
		return nil, errors.New("GRAPH_TENANT_ID, GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required")
	}
	return provider.NewGraph(a.cfg, a.providerOptions()), nil
}

// loadEnvFile loads an explicit env file, or .env when it exists.
func loadEnvFile(path string) error {
	if path != "" {
		return config.LoadEnvFile(path)
	}
	if err := config.LoadEnvFile(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with the specified level
// and output format.
func setupLogger(w io.Writer, level, format string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

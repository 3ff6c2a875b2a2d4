// Package cmd provides the CLI commands for treemount.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/fclairamb/treemount/internal/composite"
	"github.com/fclairamb/treemount/internal/config"
	"github.com/fclairamb/treemount/internal/mount"
	"github.com/fclairamb/treemount/internal/store"
	"github.com/fclairamb/treemount/internal/version"
)

const (
	// Exit codes of the compact command.
	exitFailure     = 1
	exitMissingArgs = -2

	logFormatEnv = config.EnvPrefix + "LOG_FORMAT"
)

// verboseFlag is the shared verbose flag for all commands.
var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable verbose logging",
}

// configFlag points the operator commands at their mount table.
var configFlag = &cli.StringFlag{
	Name:    "config",
	Usage:   "Path to the mount table file",
	Aliases: []string{"c"},
	Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
}

// LogFormat represents the log output format.
type LogFormat string

const (
	// LogFormatText is the human-readable text format (default).
	LogFormatText LogFormat = "text"
	// LogFormatJSON is the JSON-formatted structured logs.
	LogFormatJSON LogFormat = "json"
)

// getLogFormat returns the log format from TM_LOG_FORMAT, falling back to
// fallback when the variable is unset.
func getLogFormat(fallback string) (LogFormat, bool) {
	val := strings.ToLower(os.Getenv(logFormatEnv))
	if val == "" {
		val = fallback
	}
	switch val {
	case "json":
		return LogFormatJSON, true
	case "text", "":
		return LogFormatText, true
	default:
		return LogFormatText, false
	}
}

// setupLogging configures the global logger from the verbose flag,
// TM_LOG_FORMAT and the optional configuration.
func setupLogging(cmd *cli.Command, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	fallback := ""
	if cfg != nil {
		if l, err := cfg.Log.SlogLevel(); err == nil {
			level = l
		}
		fallback = cfg.Log.Format
	}
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	format, valid := getLogFormat(fallback)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(stderr(cmd), opts)
	case LogFormatText:
		handler = slog.NewTextHandler(stderr(cmd), opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	if !valid {
		slog.Warn("Invalid "+logFormatEnv+" value, using text format", "value", os.Getenv(logFormatEnv))
	}
	if level == slog.LevelDebug {
		slog.Debug("Verbose logging enabled")
	}
	return logger
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return &cli.Command{
		Name:    "treemount",
		Usage:   "Maintain and inspect a tree composed from mounted node stores",
		Version: version.String(),
		Flags: []cli.Flag{
			configFlag,
			verboseFlag,
		},
		// Exit codes are handled by main.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Commands: []*cli.Command{
			compactCommand(),
			mountsCommand(),
			resolveCommand(),
			treeCommand(),
			setCommand(),
			removeCommand(),
			pushCommand(),
		},
	}
}

// stdout returns the writer commands print their results to.
func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stderr(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

// loadConfig reads the file named by --config and sets up logging from it.
func loadConfig(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		setupLogging(cmd, nil)
		return nil, nil, err
	}
	return cfg, setupLogging(cmd, cfg), nil
}

// gitStore is an opened store with the remote it mirrors to.
type gitStore struct {
	name   string
	remote *store.RemoteConfig
	store  *store.GitStore
}

// openGitStores opens the global store followed by the store of every mount.
func openGitStores(cfg *config.Config, logger *slog.Logger) ([]*gitStore, error) {
	open := func(name, dir, remote string) (*gitStore, error) {
		s, err := store.OpenGitStore(dir,
			store.WithLogger(logger.With("store", name)),
			store.WithAuthor(cfg.Git.User, cfg.Git.Email),
		)
		if err != nil {
			return nil, fmt.Errorf("open store %s: %w", name, err)
		}
		return &gitStore{
			name:   name,
			remote: &store.RemoteConfig{URL: remote, Password: cfg.Git.Password},
			store:  s,
		}, nil
	}

	global, err := open(mount.DefaultName, cfg.Global.Dir, cfg.Global.Remote)
	if err != nil {
		return nil, err
	}
	stores := []*gitStore{global}
	for _, mc := range cfg.Mounts {
		gs, err := open(mc.Name, mc.Dir, mc.Remote)
		if err != nil {
			return nil, err
		}
		stores = append(stores, gs)
	}
	return stores, nil
}

// openStore opens the git store of every mount and composes them.
func openStore(cfg *config.Config, logger *slog.Logger) (*composite.Store, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	opened, err := openGitStores(cfg, logger)
	if err != nil {
		return nil, err
	}

	stores := make(map[string]store.NodeStore, len(opened)-1)
	for _, gs := range opened[1:] {
		stores[gs.name] = gs.store
	}
	c, err := composite.NewContext(registry, opened[0].store, stores)
	if err != nil {
		return nil, err
	}
	slog.Debug("stores opened", "mounts", len(stores))

	return composite.NewStore(c,
		composite.WithLogger(logger),
		composite.WithMaxRetries(cfg.Merge.MaxRetries),
		composite.WithRetryInterval(cfg.Merge.RetryInterval),
	), nil
}

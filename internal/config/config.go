// Package config loads the mount table and runtime settings: a YAML file
// overridden by TM_ environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/fclairamb/treemount/internal/apperrors"
	"github.com/fclairamb/treemount/internal/mount"
)

// EnvPrefix prefixes every environment override, e.g. TM_MERGE_MAXRETRIES.
const EnvPrefix = "TM_"

const (
	defaultMaxRetries    = 5
	defaultRetryInterval = 50 * time.Millisecond
	defaultGitUser       = "treemount"
	defaultGitEmail      = "treemount@localhost"
	defaultLogFormat     = "text"
	defaultLogLevel      = "info"
)

// Config is the whole configuration. Keys are matched case-insensitively.
type Config struct {
	Global GlobalConfig  `koanf:"global"`
	Mounts []MountConfig `koanf:"mounts"`
	Merge  MergeConfig   `koanf:"merge"`
	Log    LogConfig     `koanf:"log"`
	Git    GitConfig     `koanf:"git"`
}

// GlobalConfig configures the store owning every path no mount covers.
type GlobalConfig struct {
	Dir    string `koanf:"dir"`
	Remote string `koanf:"remote"`
}

// MountConfig declares one mount and the directory of its store.
type MountConfig struct {
	Name     string   `koanf:"name"`
	Paths    []string `koanf:"paths"`
	ReadOnly bool     `koanf:"readonly"`
	Dir      string   `koanf:"dir"`
	Remote   string   `koanf:"remote"`
}

// MergeConfig tunes conflict retries of composite commits.
type MergeConfig struct {
	MaxRetries    int           `koanf:"maxretries"`
	RetryInterval time.Duration `koanf:"retryinterval"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", apperrors.ErrInvalidConfig, l.Level)
	}
	return level, nil
}

// GitConfig sets the author of the commits written to git stores and the
// password of HTTPS remotes.
type GitConfig struct {
	User     string `koanf:"user"`
	Email    string `koanf:"email"`
	Password string `koanf:"password"`
}

// Load reads the configuration file at path, applies the environment
// overrides and the defaults, and validates the result. Relative store
// directories are resolved against the file's directory.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, apperrors.ErrConfigRequired
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolveDirs(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes a YAML document and applies the environment overrides and
// the defaults.
func Parse(data []byte) (*Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	doc, _ = lowerKeys(doc).(map[string]any)
	k := koanf.New(".")
	if err := k.Load(documentProvider(doc), nil); err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps TM_MERGE_MAXRETRIES to merge.maxretries.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
}

// lowerKeys lower-cases map keys recursively so that file keys and
// environment keys land on the same koanf paths.
func lowerKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, val := range t {
			out[strings.ToLower(key)] = lowerKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = lowerKeys(val)
		}
		return out
	default:
		return v
	}
}

func (c *Config) applyDefaults() {
	if c.Merge.MaxRetries <= 0 {
		c.Merge.MaxRetries = defaultMaxRetries
	}
	if c.Merge.RetryInterval <= 0 {
		c.Merge.RetryInterval = defaultRetryInterval
	}
	if c.Git.User == "" {
		c.Git.User = defaultGitUser
	}
	if c.Git.Email == "" {
		c.Git.Email = defaultGitEmail
	}
	if c.Log.Format == "" {
		c.Log.Format = defaultLogFormat
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.Log.Level = strings.ToLower(c.Log.Level)
}

func (c *Config) resolveDirs(base string) {
	resolve := func(dir string) string {
		if dir == "" || filepath.IsAbs(dir) {
			return dir
		}
		return filepath.Join(base, dir)
	}
	c.Global.Dir = resolve(c.Global.Dir)
	for i := range c.Mounts {
		c.Mounts[i].Dir = resolve(c.Mounts[i].Dir)
	}
}

// Validate checks that every store has a directory and that the mount table
// builds a valid registry.
func (c *Config) Validate() error {
	if c.Global.Dir == "" {
		return fmt.Errorf("%w: global", apperrors.ErrStoreDirRequired)
	}
	for _, m := range c.Mounts {
		if m.Dir == "" {
			return fmt.Errorf("%w: mount %s", apperrors.ErrStoreDirRequired, m.Name)
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", apperrors.ErrInvalidConfig, c.Log.Format)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

// Registry builds the mount registry described by the configuration.
func (c *Config) Registry() (*mount.Registry, error) {
	mounts := make([]*mount.Mount, 0, len(c.Mounts))
	for _, mc := range c.Mounts {
		m, err := mount.New(mc.Name, mc.ReadOnly, mc.Paths...)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, m)
	}
	return mount.NewRegistry(mounts...)
}

// documentProvider serves an already decoded document to koanf.
type documentProvider map[string]any

func (p documentProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("%w: document provider has no raw form", apperrors.ErrInvalidConfig)
}

func (p documentProvider) Read() (map[string]any, error) {
	return p, nil
}

// Package config loads application settings from a YAML file,
// environment variables, and command-line flags, in rising precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the resolved settings.
type Config struct {
	// ServerURL is the remote sync API base URL.
	ServerURL string `mapstructure:"server_url"`

	// DataDir is the root directory for per-identity databases and
	// cached credentials.
	DataDir string `mapstructure:"data_dir"`

	// Workspace is the default workspace id for commands that take one.
	Workspace string `mapstructure:"workspace"`

	// PollInterval is the delta-poll cadence.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// DrainInterval is the queue drain cadence.
	DrainInterval time.Duration `mapstructure:"drain_interval"`

	// PushEnabled controls the websocket transport.
	PushEnabled bool `mapstructure:"push_enabled"`

	// InboxDir, when set, is watched for dropped files that become
	// cards.
	InboxDir string `mapstructure:"inbox_dir"`

	// LogFile is where the daemon writes its rotating log. Empty means
	// stderr.
	LogFile string `mapstructure:"log_file"`
}

// Load resolves configuration from pawkit.yaml, PAWKIT_* environment
// variables, and the given flag set. Flags win over environment, which
// wins over the file.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetConfigName("pawkit")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "pawkit"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("PAWKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_url", "https://api.pawkit.app")
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("workspace", "")
	v.SetDefault("poll_interval", 30*time.Second)
	v.SetDefault("drain_interval", 5*time.Second)
	v.SetDefault("push_enabled", true)
	v.SetDefault("inbox_dir", "")
	v.SetDefault("log_file", "")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url cannot be empty")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir cannot be empty")
	}
	return &cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pawkit"
	}
	return filepath.Join(home, ".local", "share", "pawkit")
}

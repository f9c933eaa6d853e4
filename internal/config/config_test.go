package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// TestLoad_Defaults tests the built-in defaults
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ServerURL != "https://api.pawkit.app" {
		t.Errorf("ServerURL = %q, want default", cfg.ServerURL)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if !cfg.PushEnabled {
		t.Error("PushEnabled should default to true")
	}
	if cfg.DataDir == "" {
		t.Error("DataDir should have a default")
	}
}

// TestLoad_EnvOverridesDefaults tests PAWKIT_ environment variables
func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("PAWKIT_SERVER_URL", "https://staging.pawkit.app")
	t.Setenv("PAWKIT_POLL_INTERVAL", "5s")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ServerURL != "https://staging.pawkit.app" {
		t.Errorf("ServerURL = %q, want env override", cfg.ServerURL)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
}

// TestLoad_FlagsWinOverEnv tests precedence
func TestLoad_FlagsWinOverEnv(t *testing.T) {
	t.Setenv("PAWKIT_WORKSPACE", "env-ws")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("workspace", "", "")
	if err := flags.Set("workspace", "flag-ws"); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Workspace != "flag-ws" {
		t.Errorf("Workspace = %q, want the flag value", cfg.Workspace)
	}
}

// TestLoad_ConfigFile tests reading pawkit.yaml from the working
// directory
func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "server_url: https://selfhosted.example.com\nworkspace: home\n"
	if err := os.WriteFile(filepath.Join(dir, "pawkit.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() failed: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ServerURL != "https://selfhosted.example.com" {
		t.Errorf("ServerURL = %q, want the file value", cfg.ServerURL)
	}
	if cfg.Workspace != "home" {
		t.Errorf("Workspace = %q, want home", cfg.Workspace)
	}
}

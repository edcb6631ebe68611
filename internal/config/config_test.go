package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/credentials"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return dir
}

func TestDefaults(t *testing.T) {
	chdirTemp(t)
	cfg, err := FromFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Address != "localhost:4455" || cfg.Interval != 2*time.Second || cfg.ReconnectDelay != time.Second {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.AddressSet || cfg.PasswordSet {
		t.Fatal("defaults must not count as explicit credentials")
	}
}

func TestPrecedence(t *testing.T) {
	dir := chdirTemp(t)
	file := filepath.Join(dir, "obsmon.yaml")
	body := "address: file-host:4455\npassword: from-file\ninterval: 5s\nlog_level: debug\n"
	if err := os.WriteFile(file, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OBSMON_INTERVAL", "3s")
	t.Setenv("OBSMON_METRICS_ADDR", ":9100")

	cfg, err := FromFlags([]string{"-address", "flag-host:4455"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Address != "flag-host:4455" {
		t.Fatalf("address = %q, flag should win", cfg.Address)
	}
	if cfg.Interval != 3*time.Second {
		t.Fatalf("interval = %s, env should beat file", cfg.Interval)
	}
	if cfg.Password != "from-file" || cfg.LogLevel != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.MetricsAddr != ":9100" {
		t.Fatalf("metrics addr = %q", cfg.MetricsAddr)
	}
	if !cfg.AddressSet || !cfg.PasswordSet {
		t.Fatal("explicit credentials not flagged")
	}
}

func TestExplicitMissingConfigFile(t *testing.T) {
	chdirTemp(t)
	if _, err := FromFlags([]string{"-config", "does-not-exist.yaml"}); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	if _, err := FromFlags([]string{"-interval", "0s"}); err == nil {
		t.Fatal("zero interval accepted")
	}
	if _, err := FromFlags([]string{"-log-level", "loud"}); err == nil {
		t.Fatal("bad log level accepted")
	}
}

func TestStartupCredentials(t *testing.T) {
	stored := credentials.Credentials{Address: "studio:4455", Password: "remembered"}

	cfg := Default()
	if got := cfg.Credentials(stored); got != stored {
		t.Fatalf("remembered credentials not used: %+v", got)
	}

	cfg.Address, cfg.AddressSet = "other:4455", true
	if got := cfg.Credentials(stored); got.Address != "other:4455" || got.Password != "" {
		t.Fatalf("override leaked remembered password to another host: %+v", got)
	}

	cfg.Address = "studio:4455"
	if got := cfg.Credentials(stored); got.Password != "remembered" {
		t.Fatalf("same host should keep remembered password: %+v", got)
	}

	cfg.Password, cfg.PasswordSet = "typed", true
	if got := cfg.Credentials(stored); got.Password != "typed" {
		t.Fatalf("explicit password ignored: %+v", got)
	}

	if got := Default().Credentials(credentials.Credentials{}); got.Address != "localhost:4455" {
		t.Fatalf("default address = %q", got.Address)
	}
}

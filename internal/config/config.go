package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Dicklesworthstone/obs_stats_monitor/internal/credentials"
)

// Config carries runtime options for obsmon.
type Config struct {
	Address        string
	Password       string
	Interval       time.Duration
	ReconnectDelay time.Duration
	MetricsAddr    string
	StateFile      string
	JSONStream     bool
	LogFile        string
	LogLevel       string
	HostStats      bool

	// AddressSet and PasswordSet report whether the credentials came from
	// flags, env or a config file rather than the defaults.
	AddressSet  bool
	PasswordSet bool
}

func Default() Config {
	return Config{
		Address:        "localhost:4455",
		Interval:       2 * time.Second,
		ReconnectDelay: time.Second,
		StateFile:      defaultStateFile(),
		LogLevel:       "info",
		HostStats:      true,
	}
}

func defaultStateFile() string {
	path, err := credentials.DefaultPath()
	if err != nil {
		return "obsmon-credentials.yaml"
	}
	return path
}

// FromFlags parses flags and layers them over OBSMON_* environment
// variables and an optional YAML config file. Flags win, then env, then
// the file, then defaults.
func FromFlags(args []string) (Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet("obsmon", flag.ContinueOnError)
	configFile := fs.String("config", "", "YAML config file (default: ./obsmon.yaml or <config dir>/obsmon/obsmon.yaml)")
	fs.StringVar(&cfg.Address, "address", cfg.Address, "obs-websocket address; ws:// is assumed when no scheme is given")
	fs.StringVar(&cfg.Password, "password", cfg.Password, "obs-websocket password")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "polling interval")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "wait before the single reconnect attempt after a drop")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address (empty disables)")
	fs.StringVar(&cfg.StateFile, "state-file", cfg.StateFile, "where the last used address and password are remembered")
	fs.BoolVar(&cfg.JSONStream, "json-stream", cfg.JSONStream, "stream NDJSON views until interrupted instead of the dashboard")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "write logs to this file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	fs.BoolVar(&cfg.HostStats, "host-stats", cfg.HostStats, "show CPU and memory of this machine")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	v, err := load(*configFile)
	if err != nil {
		return cfg, err
	}
	layer := func(flagName, key string, apply func()) {
		if !set[flagName] && v.IsSet(key) {
			apply()
		}
	}
	layer("address", "address", func() { cfg.Address = v.GetString("address") })
	layer("password", "password", func() { cfg.Password = v.GetString("password") })
	layer("interval", "interval", func() { cfg.Interval = v.GetDuration("interval") })
	layer("reconnect-delay", "reconnect_delay", func() { cfg.ReconnectDelay = v.GetDuration("reconnect_delay") })
	layer("metrics-addr", "metrics_addr", func() { cfg.MetricsAddr = v.GetString("metrics_addr") })
	layer("state-file", "state_file", func() { cfg.StateFile = v.GetString("state_file") })
	layer("json-stream", "json_stream", func() { cfg.JSONStream = v.GetBool("json_stream") })
	layer("log-file", "log_file", func() { cfg.LogFile = v.GetString("log_file") })
	layer("log-level", "log_level", func() { cfg.LogLevel = v.GetString("log_level") })
	layer("host-stats", "host_stats", func() { cfg.HostStats = v.GetBool("host_stats") })

	cfg.AddressSet = set["address"] || v.IsSet("address")
	cfg.PasswordSet = set["password"] || v.IsSet("password")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func load(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("OBSMON")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, key := range []string{
		"address", "password", "interval", "reconnect_delay", "metrics_addr",
		"state_file", "json_stream", "log_file", "log_level", "host_stats",
	} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("obsmon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "obsmon"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// Validate rejects settings the monitor cannot run with.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect delay must not be negative, got %s", c.ReconnectDelay)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// Credentials picks the address and password to connect with at startup:
// explicitly configured values override the remembered ones.
func (c Config) Credentials(stored credentials.Credentials) credentials.Credentials {
	out := credentials.Credentials{Address: c.Address, Password: c.Password}
	if !c.AddressSet && stored.Address != "" {
		out.Address = stored.Address
	}
	if !c.PasswordSet && (!c.AddressSet || out.Address == stored.Address) {
		out.Password = stored.Password
	}
	return out
}

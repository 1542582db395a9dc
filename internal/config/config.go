package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	Config struct {
		Discovery Discovery `toml:"discovery" yaml:"discovery"`
		Transfer  Transfer  `toml:"transfer" yaml:"transfer"`
		HTTPAddr  string    `toml:"http_addr" yaml:"http_addr" env:"LANSHARE_HTTP_ADDR"`
		LogLevel  string    `toml:"log_level" yaml:"log_level" env:"LANSHARE_LOG_LEVEL" env-default:"info"`
	}

	Discovery struct {
		Port             int           `toml:"port" yaml:"port" env:"LANSHARE_DISCOVERY_PORT" env-default:"55500"`
		BroadcastAddr    string        `toml:"broadcast_addr" yaml:"broadcast_addr" env:"LANSHARE_BROADCAST_ADDR"`
		MulticastGroup   string        `toml:"multicast_group" yaml:"multicast_group" env:"LANSHARE_MULTICAST_GROUP"`
		Interface        string        `toml:"interface" yaml:"interface" env:"LANSHARE_INTERFACE"`
		HostName         string        `toml:"host_name" yaml:"host_name" env:"LANSHARE_HOST_NAME"`
		AnnounceInterval time.Duration `toml:"announce_interval" yaml:"announce_interval" env:"LANSHARE_ANNOUNCE_INTERVAL" env-default:"3s"`
		PruneInterval    time.Duration `toml:"prune_interval" yaml:"prune_interval" env:"LANSHARE_PRUNE_INTERVAL" env-default:"5s"`
		PeerTimeout      time.Duration `toml:"peer_timeout" yaml:"peer_timeout" env:"LANSHARE_PEER_TIMEOUT" env-default:"10s"`
	}

	Transfer struct {
		Port              int           `toml:"port" yaml:"port" env:"LANSHARE_TRANSFER_PORT" env-default:"55510"`
		Connections       int           `toml:"connections" yaml:"connections" env:"LANSHARE_CONNECTIONS" env-default:"32"`
		LegacyConnections int           `toml:"legacy_connections" yaml:"legacy_connections" env:"LANSHARE_LEGACY_CONNECTIONS" env-default:"32"`
		BufferSize        int           `toml:"buffer_size" yaml:"buffer_size" env:"LANSHARE_BUFFER_SIZE" env-default:"1048576"`
		ReceiveDir        string        `toml:"receive_dir" yaml:"receive_dir" env:"LANSHARE_RECEIVE_DIR" env-default:"received"`
		WorkDir           string        `toml:"work_dir" yaml:"work_dir" env:"LANSHARE_WORK_DIR"`
		DialTimeout       time.Duration `toml:"dial_timeout" yaml:"dial_timeout" env:"LANSHARE_DIAL_TIMEOUT" env-default:"10s"`
		IdleTimeout       time.Duration `toml:"idle_timeout" yaml:"idle_timeout" env:"LANSHARE_IDLE_TIMEOUT"`
		StaleTimeout      time.Duration `toml:"stale_timeout" yaml:"stale_timeout" env:"LANSHARE_STALE_TIMEOUT" env-default:"10m"`
		ReapInterval      time.Duration `toml:"reap_interval" yaml:"reap_interval" env:"LANSHARE_REAP_INTERVAL" env-default:"1m"`
	}
)

// Load reads the configuration file at path, or only the environment when
// path is empty. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if path == "" {
		err = cleanenv.ReadEnv(cfg)
	} else {
		err = cleanenv.ReadConfig(path, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Transfer.Connections < 1 {
		return fmt.Errorf("transfer.connections must be at least 1, got %d", c.Transfer.Connections)
	}
	if c.Transfer.LegacyConnections < 1 {
		return fmt.Errorf("transfer.legacy_connections must be at least 1, got %d", c.Transfer.LegacyConnections)
	}
	if c.Transfer.BufferSize < 1 {
		return fmt.Errorf("transfer.buffer_size must be positive, got %d", c.Transfer.BufferSize)
	}
	if c.Discovery.AnnounceInterval <= 0 || c.Discovery.PruneInterval <= 0 {
		return fmt.Errorf("discovery intervals must be positive")
	}
	if c.Transfer.WorkDir == "" {
		c.Transfer.WorkDir = os.TempDir()
	}
	if c.Discovery.HostName == "" {
		c.Discovery.HostName, _ = os.Hostname()
	}
	return nil
}

// Level maps LogLevel onto a slog level, falling back to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

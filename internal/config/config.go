package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Tracking TrackingConfig `yaml:"tracking"`
	Storage  StorageConfig  `yaml:"storage"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
	MaxConnections int      `yaml:"max_connections"`
}

type TrackingConfig struct {
	// FlushInterval is how often live tracking time is persisted.
	// A rate/precision trade-off; 30s by default.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// SnapshotInterval is the cadence of full status snapshots pushed
	// to websocket clients.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// BroadcastThrottle coalesces status deltas before broadcasting.
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`

	// IdleDetectionSeconds is pushed to the host idle monitor.
	IdleDetectionSeconds int `yaml:"idle_detection_seconds"`

	// InitRetry is the delay before retrying failed initialization.
	InitRetry time.Duration `yaml:"init_retry"`
}

type StorageConfig struct {
	// Path is the bbolt database file holding configs, usage, settings,
	// and pending alarms.
	Path string `yaml:"path"`
}

func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStatePath()
	}

	return cfg, nil
}

// LoadOrDefault loads config from the given path, or returns default config if path doesn't exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8090,
			Host:           "127.0.0.1",
			MaxConnections: 100,
		},
		Tracking: TrackingConfig{
			FlushInterval:        30 * time.Second,
			SnapshotInterval:     5 * time.Second,
			BroadcastThrottle:    100 * time.Millisecond,
			IdleDetectionSeconds: 60,
			InitRetry:            5 * time.Second,
		},
		Storage: StorageConfig{
			Path: DefaultStatePath(),
		},
	}
}

func defaultStateDir() string {
	if value := os.Getenv("XDG_STATE_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "state")
}

// DefaultStatePath returns the default bbolt database location.
func DefaultStatePath() string {
	return filepath.Join(defaultStateDir(), "timewarden", "timewarden.db")
}

// Diff compares two configs and returns human-readable descriptions of what changed.
// Only the tracking timings are compared.
// Server and storage settings require a full restart.
func Diff(old, new *Config) []string {
	var changes []string

	if old.Tracking.FlushInterval != new.Tracking.FlushInterval {
		changes = append(changes, fmt.Sprintf("tracking.flush_interval: %s → %s", old.Tracking.FlushInterval, new.Tracking.FlushInterval))
	}
	if old.Tracking.SnapshotInterval != new.Tracking.SnapshotInterval {
		changes = append(changes, fmt.Sprintf("tracking.snapshot_interval: %s → %s", old.Tracking.SnapshotInterval, new.Tracking.SnapshotInterval))
	}
	if old.Tracking.BroadcastThrottle != new.Tracking.BroadcastThrottle {
		changes = append(changes, fmt.Sprintf("tracking.broadcast_throttle: %s → %s", old.Tracking.BroadcastThrottle, new.Tracking.BroadcastThrottle))
	}
	if old.Tracking.IdleDetectionSeconds != new.Tracking.IdleDetectionSeconds {
		changes = append(changes, fmt.Sprintf("tracking.idle_detection_seconds: %d → %d", old.Tracking.IdleDetectionSeconds, new.Tracking.IdleDetectionSeconds))
	}
	if old.Tracking.InitRetry != new.Tracking.InitRetry {
		changes = append(changes, fmt.Sprintf("tracking.init_retry: %s → %s", old.Tracking.InitRetry, new.Tracking.InitRetry))
	}

	return changes
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "timewarden", "config.yaml")
}

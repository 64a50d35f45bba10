package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const appDirName = "gemeinsam-einrichten"

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Presence     PresenceConfig     `yaml:"presence"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Storage      StorageConfig      `yaml:"storage"`
	State        StateConfig        `yaml:"state"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Port            int      `yaml:"port" env:"EINRICHTEN_PORT"`
	Host            string   `yaml:"host" env:"EINRICHTEN_HOST"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	CORSOrigin      string   `yaml:"cors_origin" env:"EINRICHTEN_CORS_ORIGIN"`
	MaxMessageBytes int64    `yaml:"max_message_bytes" env:"EINRICHTEN_MAX_MESSAGE_BYTES"`
}

type PresenceConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval" env:"EINRICHTEN_PRESENCE_SWEEP_INTERVAL"`
	Timeout       time.Duration `yaml:"timeout" env:"EINRICHTEN_PRESENCE_TIMEOUT"`
}

type RealtimeConfig struct {
	URL                  string        `yaml:"url" env:"EINRICHTEN_REALTIME_URL"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" env:"EINRICHTEN_HEARTBEAT_INTERVAL"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay" env:"EINRICHTEN_RECONNECT_BASE_DELAY"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay" env:"EINRICHTEN_RECONNECT_MAX_DELAY"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts" env:"EINRICHTEN_MAX_RECONNECT_ATTEMPTS"`
	DialTimeout          time.Duration `yaml:"dial_timeout" env:"EINRICHTEN_DIAL_TIMEOUT"`
}

type ConnectivityConfig struct {
	HealthURL       string        `yaml:"health_url" env:"EINRICHTEN_HEALTH_URL"`
	PollInterval    time.Duration `yaml:"poll_interval" env:"EINRICHTEN_POLL_INTERVAL"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout" env:"EINRICHTEN_PROBE_TIMEOUT"`
	StreakThreshold int           `yaml:"streak_threshold" env:"EINRICHTEN_STREAK_THRESHOLD"`
}

// StorageConfig selects the backend for the persisted client state. An empty
// RedisURL means the file store under Dir.
type StorageConfig struct {
	Dir      string `yaml:"dir" env:"EINRICHTEN_STORAGE_DIR"`
	RedisURL string `yaml:"redis_url" env:"EINRICHTEN_REDIS_URL"`
	Key      string `yaml:"key" env:"EINRICHTEN_STORAGE_KEY"`
}

type StateConfig struct {
	BroadcastDelay time.Duration `yaml:"broadcast_delay" env:"EINRICHTEN_BROADCAST_DELAY"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"EINRICHTEN_LOG_LEVEL"`
	Format string `yaml:"format" env:"EINRICHTEN_LOG_FORMAT"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			CORSOrigin:      "*",
			MaxMessageBytes: 1 << 20,
		},
		Presence: PresenceConfig{
			SweepInterval: 10 * time.Second,
			Timeout:       45 * time.Second,
		},
		Realtime: RealtimeConfig{
			URL:                  "ws://127.0.0.1:8080/realtime",
			HeartbeatInterval:    20 * time.Second,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			MaxReconnectAttempts: 5,
			DialTimeout:          10 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			HealthURL:       "http://127.0.0.1:8080/healthz",
			PollInterval:    5 * time.Second,
			ProbeTimeout:    3 * time.Second,
			StreakThreshold: 2,
		},
		Storage: StorageConfig{
			Dir: defaultStateDir(),
			Key: "wohnideen_app_state",
		},
		State: StateConfig{
			BroadcastDelay: 300 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns the defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

// ApplyEnv loads the given dotenv files (".env" when none are named) into
// the process environment and overlays every EINRICHTEN_* variable that is
// set. Missing dotenv files are not an error; variables already present in
// the environment win over dotenv values.
func (c *Config) ApplyEnv(envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}

	if err := envdecode.Decode(c); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decoding environment: %w", err)
	}
	return nil
}

// Validate rejects settings that would stall the timers or the hysteresis.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Presence.SweepInterval <= 0:
		return errors.New("presence.sweep_interval must be positive")
	case c.Presence.Timeout <= 0:
		return errors.New("presence.timeout must be positive")
	case c.Realtime.HeartbeatInterval <= 0:
		return errors.New("realtime.heartbeat_interval must be positive")
	case c.Realtime.HeartbeatInterval >= c.Presence.Timeout:
		return fmt.Errorf("realtime.heartbeat_interval %s must be shorter than presence.timeout %s",
			c.Realtime.HeartbeatInterval, c.Presence.Timeout)
	case c.Realtime.MaxReconnectAttempts < 0:
		return errors.New("realtime.max_reconnect_attempts must not be negative")
	case c.Connectivity.PollInterval <= 0:
		return errors.New("connectivity.poll_interval must be positive")
	case c.Connectivity.StreakThreshold < 1:
		return errors.New("connectivity.streak_threshold must be at least 1")
	case c.Storage.Key == "":
		return errors.New("storage.key must not be empty")
	}
	return nil
}

// defaultStateDir returns ~/.local/state/gemeinsam-einrichten, respecting
// XDG_STATE_HOME if set.
func defaultStateDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}

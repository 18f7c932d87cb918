// Package config loads broker settings from an optional YAML file named by
// CODESYNC_CONFIG, overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileEnv = "CODESYNC_CONFIG"

type Config struct {
	Port           string   `yaml:"port"`
	RedisAddr      string   `yaml:"redis_addr"`
	JWTSecret      string   `yaml:"jwt_secret"`
	RequireAuth    bool     `yaml:"require_auth"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Database DatabaseConfig `yaml:"database"`
	Presence PresenceConfig `yaml:"presence"`
}

type SandboxConfig struct {
	// Mode is "http" for a remote sandbox service or "docker" for a local daemon.
	Mode        string        `yaml:"mode"`
	URL         string        `yaml:"url"`
	WallTime    time.Duration `yaml:"wall_time"`
	MemoryBytes int64         `yaml:"memory_bytes"`
	NanoCPUs    int64         `yaml:"nano_cpus"`
}

type DatabaseConfig struct {
	// Driver is "postgres", "sqlite" or "none".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type PresenceConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	// PingPeriod is the websocket keepalive; each pong refreshes presence.
	PingPeriod time.Duration `yaml:"ping_period"`
}

func Default() *Config {
	return &Config{
		Port:           "8080",
		RedisAddr:      "redis:6379",
		AllowedOrigins: []string{"*"},
		Sandbox: SandboxConfig{
			Mode:        "http",
			URL:         "http://sandbox:8090",
			WallTime:    10 * time.Second,
			MemoryBytes: 512 * 1024 * 1024,
			NanoCPUs:    1_000_000_000,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:codesync.db?cache=shared",
		},
		Presence: PresenceConfig{
			TTL:           90 * time.Second,
			SweepSchedule: "@every 30s",
			PingPeriod:    30 * time.Second,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file, then the environment.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.RedisAddr = getEnvOrDefault("REDIS_ADDR", c.RedisAddr)
	c.JWTSecret = getEnvOrDefault("JWT_SECRET", c.JWTSecret)
	c.RequireAuth = getEnvBool("CODESYNC_REQUIRE_AUTH", c.RequireAuth)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}

	c.Sandbox.Mode = getEnvOrDefault("SANDBOX_MODE", c.Sandbox.Mode)
	c.Sandbox.URL = getEnvOrDefault("SANDBOX_URL", c.Sandbox.URL)
	c.Sandbox.WallTime = getEnvDuration("SANDBOX_WALL_TIME", c.Sandbox.WallTime)

	c.Database.Driver = getEnvOrDefault("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnvOrDefault("DATABASE_URL", c.Database.DSN)

	c.Presence.TTL = getEnvDuration("PRESENCE_TTL", c.Presence.TTL)
	c.Presence.SweepSchedule = getEnvOrDefault("PRESENCE_SWEEP_SCHEDULE", c.Presence.SweepSchedule)
	c.Presence.PingPeriod = getEnvDuration("PRESENCE_PING_PERIOD", c.Presence.PingPeriod)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("redis address is required"))
	}
	if c.RequireAuth && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required when auth is required"))
	}
	switch c.Sandbox.Mode {
	case "http":
		if c.Sandbox.URL == "" {
			errs = append(errs, errors.New("sandbox url is required in http mode"))
		}
	case "docker":
	default:
		errs = append(errs, fmt.Errorf("unsupported sandbox mode %q", c.Sandbox.Mode))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database dsn is required for %s", c.Database.Driver))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Presence.TTL <= 0 {
		errs = append(errs, errors.New("presence ttl must be positive"))
	}
	if c.Presence.PingPeriod <= 0 || c.Presence.PingPeriod >= c.Presence.TTL {
		errs = append(errs, errors.New("presence ping period must be positive and below the ttl"))
	}
	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

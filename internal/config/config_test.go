package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		FileEnv, "PORT", "REDIS_ADDR", "JWT_SECRET", "CODESYNC_REQUIRE_AUTH", "CORS_ALLOWED_ORIGINS",
		"SANDBOX_MODE", "SANDBOX_URL", "SANDBOX_WALL_TIME", "DB_DRIVER", "DATABASE_URL",
		"PRESENCE_TTL", "PRESENCE_SWEEP_SCHEDULE", "PRESENCE_PING_PERIOD",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "8080" || cfg.RedisAddr != "redis:6379" || cfg.Presence.TTL != 90*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "codesync.yaml")
	data := `
port: "9000"
redis_addr: "cache:6379"
allowed_origins: ["https://a.example", "https://b.example"]
sandbox:
  mode: docker
  wall_time: 3s
presence:
  ttl: 2m
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "9100" {
		t.Fatalf("env must override the file, got port %s", cfg.Port)
	}
	if cfg.RedisAddr != "cache:6379" || len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Sandbox.Mode != "docker" || cfg.Sandbox.WallTime != 3*time.Second || cfg.Presence.TTL != 2*time.Minute {
		t.Fatalf("nested values not applied: %+v", cfg)
	}
	if cfg.Sandbox.MemoryBytes != 512*1024*1024 {
		t.Fatalf("unset nested values keep their defaults, got %d", cfg.Sandbox.MemoryBytes)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(FileEnv, filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("port: [unclosed"), 0o600)
	t.Setenv(FileEnv, path)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODESYNC_REQUIRE_AUTH", "true")
	t.Setenv("SANDBOX_MODE", "lambda")
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"jwt secret", "sandbox mode", "database driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidatePingPeriodBelowTTL(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRESENCE_TTL", "20s")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "ping period") {
		t.Fatalf("expected ping period error, got %v", err)
	}

	t.Setenv("PRESENCE_PING_PERIOD", "5s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Presence.PingPeriod != 5*time.Second {
		t.Fatalf("expected 5s ping period, got %v", cfg.Presence.PingPeriod)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("UNIT_TEST_ENV", "value")
	if got := getEnvOrDefault("UNIT_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("expected env value, got %s", got)
	}
	t.Setenv("UNIT_TEST_ENV", "")
	if got := getEnvOrDefault("UNIT_TEST_ENV", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback value, got %s", got)
	}
	t.Setenv("UNIT_TEST_DUR", "nonsense")
	if got := getEnvDuration("UNIT_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("invalid durations fall back, got %v", got)
	}
	if got := splitList(" a, ,b "); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected split %v", got)
	}
}

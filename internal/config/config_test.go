package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Feed.Poll() != time.Second {
		t.Fatalf("poll interval = %v, want 1s", cfg.Feed.Poll())
	}
	if cfg.Feed.Heartbeat() != 30*time.Second {
		t.Fatalf("heartbeat interval = %v, want 30s", cfg.Feed.Heartbeat())
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandbox.toml")
	body := `
mode = "redis"

[feed]
poll_interval = "250ms"

[products]
ids = ["BTC-USD", "DOGE-USD"]

[products.seed_prices]
"DOGE-USD" = "0.15"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SANDBOX_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SANDBOX_FEED_HEARTBEAT_INTERVAL", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "redis" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Feed.Poll() != 250*time.Millisecond {
		t.Errorf("poll = %v", cfg.Feed.Poll())
	}
	if cfg.Feed.Heartbeat() != 5*time.Second {
		t.Errorf("heartbeat = %v", cfg.Feed.Heartbeat())
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if got := cfg.Products.SeedPrices["DOGE-USD"]; got != "0.15" {
		t.Errorf("seed price = %q", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "memory" {
		t.Fatalf("mode = %q, want memory", cfg.Mode)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.LogLevel = "loud"
	cfg.Feed.SendBuffer = 0
	cfg.Products.SeedPrices["XRP-USD"] = "-1"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		`unknown mode "turbo"`,
		`unknown log_level "loud"`,
		"feed: send_buffer",
		`seed price for unknown product "XRP-USD"`,
		"seed price for XRP-USD must be a positive decimal",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestValidateFullModeRequiresStorage(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.Postgres.Host = ""
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "postgres: host") || !strings.Contains(err.Error(), "s3: bucket") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateArchiveCron(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.Archive.Cron = "0 25 * * *"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "archive: cron") {
		t.Fatalf("expected cron error, got %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Password = "hunter2"
	cfg.Server.APIKey = "k"

	out := RedactedConfig(&cfg)
	if out.Redis.Password != "***" || out.Server.APIKey != "***" {
		t.Fatalf("secrets not redacted: %+v", out.Redis)
	}
	if out.S3.SecretKey != "" {
		t.Fatalf("empty secret should stay empty, got %q", out.S3.SecretKey)
	}
	out.Products.SeedPrices["BTC-USD"] = "1"
	if cfg.Products.SeedPrices["BTC-USD"] == "1" {
		t.Fatal("redacted copy shares seed price map with original")
	}
}

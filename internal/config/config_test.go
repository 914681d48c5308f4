package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.MaxTerminals != 50 {
		t.Errorf("expected default max terminals 50, got %d", cfg.MaxTerminals)
	}
	if cfg.BufferMaxBytes != 256*1024 {
		t.Errorf("expected default buffer max 256KB, got %d", cfg.BufferMaxBytes)
	}
	if cfg.RateLimitPerMinute != 300 {
		t.Errorf("expected default rate limit 300, got %d", cfg.RateLimitPerMinute)
	}
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("expected default ping interval 30s, got %s", cfg.PingInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BROKER_PORT", "9000")
	t.Setenv("BROKER_MAX_TERMINALS", "5")
	t.Setenv("BROKER_PING_INTERVAL_SEC", "10")
	t.Setenv("BROKER_SHELL", "/bin/zsh")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.MaxTerminals != 5 {
		t.Errorf("expected max terminals 5, got %d", cfg.MaxTerminals)
	}
	if cfg.PingInterval != 10*time.Second {
		t.Errorf("expected ping interval 10s, got %s", cfg.PingInterval)
	}
	if cfg.Shell != "/bin/zsh" {
		t.Errorf("expected shell /bin/zsh, got %q", cfg.Shell)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("BROKER_PORT", "not-a-port")

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid port")
	}
}

func TestLoadRejectsNonPositiveLimits(t *testing.T) {
	t.Setenv("BROKER_MAX_TERMINALS", "0")

	if _, err := Load(); err == nil {
		t.Error("expected error for zero terminal ceiling")
	}
}

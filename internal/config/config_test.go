package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("META_APP_ID", "meta-app")
	t.Setenv("SWEEP_INTERVAL", "30m")
	t.Setenv("PUBLIC_URL", "https://api.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Fatalf("unexpected grpc addr %q", cfg.GRPCAddr)
	}
	if cfg.SweepBatchSize != 50 {
		t.Fatalf("unexpected batch size %d", cfg.SweepBatchSize)
	}
	if cfg.SweepInterval != 30*time.Minute {
		t.Fatalf("unexpected sweep interval %s", cfg.SweepInterval)
	}
	if cfg.HTTPClientTimeout != 15*time.Second {
		t.Fatalf("unexpected client timeout %s", cfg.HTTPClientTimeout)
	}
	if cfg.Meta.AppID != "meta-app" {
		t.Fatalf("nested config not parsed: %+v", cfg.Meta)
	}
	if cfg.Meta.GraphURL != "https://graph.facebook.com/v21.0" {
		t.Fatalf("unexpected graph url %q", cfg.Meta.GraphURL)
	}
	if got := cfg.CallbackURL(); got != "https://api.example.com/v1/social/callback" {
		t.Fatalf("unexpected callback url %q", got)
	}
}

func TestLoadRejectsInvalidBatchSize(t *testing.T) {
	t.Setenv("SWEEP_BATCH_SIZE", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

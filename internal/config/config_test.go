package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("CLINIC_TIMEZONE", "")
	t.Setenv("MAX_TOOL_ROUNDS", "")
	t.Setenv("JOB_TIMEOUT", "")
	t.Setenv("DEFAULT_TENANT_ID", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.ClinicTimezone != "Europe/Madrid" {
		t.Fatalf("expected Europe/Madrid, got %s", cfg.ClinicTimezone)
	}
	if cfg.MaxToolRounds != 5 {
		t.Fatalf("expected 5 tool rounds, got %d", cfg.MaxToolRounds)
	}
	if cfg.JobTimeout != 5*time.Minute {
		t.Fatalf("expected 5m job timeout, got %s", cfg.JobTimeout)
	}
	if cfg.BusinessHoursStart != 9 || cfg.BusinessHoursEnd != 18 {
		t.Fatalf("unexpected business hours %d-%d", cfg.BusinessHoursStart, cfg.BusinessHoursEnd)
	}
	if cfg.DefaultTenantID != "" {
		t.Fatalf("default tenant must come from the environment, got %q", cfg.DefaultTenantID)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("DEFAULT_TENANT_ID", "tenant-default")
	t.Setenv("LEGACY_DST_OFFSETS", "true")
	t.Setenv("EMBEDDING_PROVIDER", " Bedrock ")
	t.Setenv("NEGOTIATION_LEASE_TIMEOUT", "45m")
	t.Setenv("NEGOTIATION_MAX_ATTEMPTS", "7")
	t.Setenv("MAX_TOOL_ROUNDS", "not-a-number")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.DefaultTenantID != "tenant-default" {
		t.Fatalf("expected default tenant override, got %s", cfg.DefaultTenantID)
	}
	if !cfg.LegacyDSTOffsets {
		t.Fatalf("expected legacy offsets enabled")
	}
	if cfg.EmbeddingProvider != "bedrock" {
		t.Fatalf("expected normalized provider, got %q", cfg.EmbeddingProvider)
	}
	if cfg.NegotiationLeaseTimeout != 45*time.Minute {
		t.Fatalf("expected lease override, got %s", cfg.NegotiationLeaseTimeout)
	}
	if cfg.NegotiationMaxAttempts != 7 {
		t.Fatalf("expected attempts override, got %d", cfg.NegotiationMaxAttempts)
	}
	if cfg.MaxToolRounds != 5 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.MaxToolRounds)
	}
}

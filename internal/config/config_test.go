package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SERVER_PORT")
	unsetEnvWithCleanup(t, "PORT")
	unsetEnvWithCleanup(t, "SPLIT_DISBURSEMENTS_ENABLED")
	unsetEnvWithCleanup(t, "RECONCILE_SWEEP_SCHEDULE")
	unsetEnvWithCleanup(t, "PROCESSING_DEADLINE_MINUTES")
	unsetEnvWithCleanup(t, "RECONCILE_BATCH_LIMIT")
	unsetEnvWithCleanup(t, "DWOLLA_API_BASE_URL")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8086" {
		t.Fatalf("expected default port 8086, got %q", cfg.ServerPort)
	}
	if !cfg.SplitDisbursementsEnabled {
		t.Fatal("expected split disbursements enabled by default")
	}
	if cfg.ReconcileSweepSchedule != "*/15 * * * *" {
		t.Fatalf("expected default sweep schedule, got %q", cfg.ReconcileSweepSchedule)
	}
	if cfg.ProcessingDeadlineMinutes != 30 {
		t.Fatalf("expected default processing deadline of 30 minutes, got %d", cfg.ProcessingDeadlineMinutes)
	}
	if cfg.ReconcileBatchLimit != 100 {
		t.Fatalf("expected default batch limit of 100, got %d", cfg.ReconcileBatchLimit)
	}
	if cfg.DwollaAPIBaseURL != "https://api-sandbox.dwolla.com" {
		t.Fatalf("expected sandbox Dwolla base URL by default, got %q", cfg.DwollaAPIBaseURL)
	}
}

func TestLoadConfig_UsesDisbursementServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "DISBURSEMENT_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "DISBURSEMENT_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8086")
	setEnvWithCleanup(t, "PORT", "9090")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("expected PORT to override SERVER_PORT, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_SplitDisbursementsCanBeDisabled(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SPLIT_DISBURSEMENTS_ENABLED", "false")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SplitDisbursementsEnabled {
		t.Fatal("expected split disbursements disabled")
	}
}

func TestLoadConfig_DwollaBaseURLTrailingSlashIsTrimmed(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DWOLLA_API_BASE_URL", "https://api.dwolla.com/")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DwollaAPIBaseURL != "https://api.dwolla.com" {
		t.Fatalf("expected trimmed base URL, got %q", cfg.DwollaAPIBaseURL)
	}
}

func TestLoadConfig_NonPositiveDeadlinesFallBackToDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "PROCESSING_DEADLINE_MINUTES", "-5")
	setEnvWithCleanup(t, "RECONCILE_BATCH_LIMIT", "0")
	setEnvWithCleanup(t, "EVENT_DEDUPE_TTL_MINUTES", "-1")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ProcessingDeadlineMinutes != 30 {
		t.Fatalf("expected deadline fallback of 30, got %d", cfg.ProcessingDeadlineMinutes)
	}
	if cfg.ReconcileBatchLimit != 100 {
		t.Fatalf("expected batch limit fallback of 100, got %d", cfg.ReconcileBatchLimit)
	}
	if cfg.EventDedupeTTLMinutes != 1440 {
		t.Fatalf("expected dedupe TTL fallback of 1440, got %d", cfg.EventDedupeTTLMinutes)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

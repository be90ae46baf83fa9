package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"tokoledger/backend/internal/ledger"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_CASHIER_PASSWORD", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.SeedAdminPassword != "" || cfg.SeedCashierPassword != "" {
		t.Fatalf("expected empty seed passwords when unset")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("TIMEZONE", "")
	t.Setenv("LOT_POLICY", "")
	t.Setenv("LOCK_WAIT_SECONDS", "-3")
	t.Setenv("REPORT_CACHE_TTL_SECONDS", "abc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.Location == nil || cfg.Location.String() != "Asia/Jakarta" {
		t.Fatalf("unexpected location %v", cfg.Location)
	}
	if cfg.LotPolicy != ledger.LIFO {
		t.Fatalf("expected lifo policy, got %s", cfg.LotPolicy)
	}
	if cfg.LockWait != 5*time.Second {
		t.Fatalf("expected fallback lock wait, got %s", cfg.LockWait)
	}
	if cfg.ReportCacheTTL != 30*time.Second {
		t.Fatalf("expected fallback cache ttl, got %s", cfg.ReportCacheTTL)
	}
}

func TestLoadRejectsUnknownPolicyAndTimezone(t *testing.T) {
	t.Setenv("LOT_POLICY", "fifo")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown lot policy")
	}

	t.Setenv("LOT_POLICY", "cost-pinned")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}

	t.Setenv("TIMEZONE", "UTC")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LotPolicy != ledger.CostPinned {
		t.Fatalf("expected cost-pinned policy, got %s", cfg.LotPolicy)
	}
}

func TestNewLoggerWritesJSONAtLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", &buf)

	logger.Info("hidden")
	logger.WithField("module", "config").Warn("shown")

	if logger.GetLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn level, got %s", logger.GetLevel())
	}
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"module":"config"`) || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected json warn line, got %s", out)
	}

	if NewLogger("nonsense", &buf).GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback for unknown level")
	}
}

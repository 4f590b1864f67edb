package config

import "testing"

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() err = %v", err)
	}
	if cfg.Port != 1316 {
		t.Fatalf("Port = %d, want 1316", cfg.Port)
	}
	if cfg.WorkerCount != 12 {
		t.Fatalf("WorkerCount = %d, want 12", cfg.WorkerCount)
	}
}

func TestParseRejectsOutOfRangePort(t *testing.T) {
	if _, err := Parse([]string{"-port=80"}); err == nil {
		t.Fatal("Parse() with port 80 should fail validation")
	}
}

func TestParseRejectsUnknownLogLevel(t *testing.T) {
	if _, err := Parse([]string{"-log_level=verbose"}); err == nil {
		t.Fatal("Parse() with unknown log_level should fail")
	}
}

func TestParseOverridesIdleTimeout(t *testing.T) {
	cfg, err := Parse([]string{"-idle_timeout_ms=5000"})
	if err != nil {
		t.Fatalf("Parse() err = %v", err)
	}
	if cfg.IdleTimeout.Milliseconds() != 5000 {
		t.Fatalf("IdleTimeout = %v, want 5s", cfg.IdleTimeout)
	}
}

package utils

import (
	"errors"
	"testing"
	"time"
)

func newTestConfigManager(t *testing.T, values map[string]string) *ConfigManager {
	t.Helper()
	cm, err := NewConfigManager(&ConfigManagerConfig{Source: NewMapSource(values)})
	if err != nil {
		t.Fatalf("failed to create config manager: %v", err)
	}
	return cm
}

func TestConfigManagerTypedGetters(t *testing.T) {
	cm := newTestConfigManager(t, map[string]string{
		"QUEUE":    " 64 ",
		"INTERVAL": "250ms",
		"SECONDS":  "3",
		"ENABLED":  "yes",
		"PEERS":    "a, b,,c",
		"HEIGHT":   "18446744073709551615",
	})

	if got := cm.GetInt("QUEUE", 1); got != 64 {
		t.Fatalf("expected 64, got %d", got)
	}
	if got := cm.GetDuration("INTERVAL", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
	if got := cm.GetDuration("SECONDS", time.Second); got != 3*time.Second {
		t.Fatalf("expected 3s, got %s", got)
	}
	if !cm.GetBool("ENABLED", false) {
		t.Fatalf("expected bool true")
	}
	if got := cm.GetStringSlice("PEERS", nil); len(got) != 3 || got[2] != "c" {
		t.Fatalf("unexpected slice %v", got)
	}
	if got := cm.GetUint64("HEIGHT", 0); got != ^uint64(0) {
		t.Fatalf("unexpected uint64 %d", got)
	}
}

func TestConfigManagerFallsBackToDefault(t *testing.T) {
	cm := newTestConfigManager(t, map[string]string{
		"BAD_INT":  "many",
		"TOO_BIG":  "5000",
		"BAD_BOOL": "perhaps",
	})

	if got := cm.GetInt("BAD_INT", 7); got != 7 {
		t.Fatalf("expected default for malformed int, got %d", got)
	}
	if got := cm.GetIntRange("TOO_BIG", 10, 1, 100); got != 10 {
		t.Fatalf("expected default for out-of-range value, got %d", got)
	}
	if got := cm.GetBool("BAD_BOOL", true); !got {
		t.Fatalf("expected default for malformed bool")
	}
	if got := cm.GetString("MISSING", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	if _, err := cm.GetStringRequired("MISSING"); !errors.Is(err, ErrConfigValueRequired) {
		t.Fatalf("expected ErrConfigValueRequired, got %v", err)
	}
	if cm.GetMetrics()["MISSING"] != 2 {
		t.Fatalf("expected access count of 2 for MISSING")
	}
}

func TestStructuredErrorMatchesByCode(t *testing.T) {
	sentinel := NewError(CodeQueueFull, "queue full")
	wrapped := WrapError(errors.New("boom"), CodeQueueFull, "peer queue")

	if !errors.Is(wrapped, sentinel) {
		t.Fatalf("expected wrapped error to match sentinel by code")
	}
	if GetErrorCategory(wrapped) != CategoryResource {
		t.Fatalf("unexpected category %s", GetErrorCategory(wrapped))
	}
	if !IsTemporary(wrapped) {
		t.Fatalf("queue full should be temporary")
	}
	if IsTemporary(NewError(CodeQueueClosed, "closed")) {
		t.Fatalf("queue closed should not be temporary")
	}
}

package utils

import (
	"context"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWithContextAddsPeer(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := NewLoggerFromCore(core)

	if got := base.WithContext(context.Background()); got != base {
		t.Fatal("expected logger without context fields to be returned unchanged")
	}

	ctx := ContextWithPeer(context.Background(), "10.0.0.1:4130")
	base.WithContext(ctx).Named("inbound").Info("pong received")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["peer"]; got != "10.0.0.1:4130" {
		t.Fatalf("expected peer field, got %v", got)
	}
	if entries[0].LoggerName != "inbound" {
		t.Fatalf("unexpected logger name %q", entries[0].LoggerName)
	}
}

func TestLoggerRedactsSensitiveFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLoggerFromCore(core)
	l.sanitize = true

	l.Info("identity loaded", ZapString("id_seed", "deadbeef"), ZapString("peer_id", "12D3Koo"))

	fields := logs.All()[0].ContextMap()
	if fields["id_seed"] != "[REDACTED]" {
		t.Fatalf("expected seed to be redacted, got %v", fields["id_seed"])
	}
	if fields["peer_id"] != "12D3Koo" {
		t.Fatalf("expected peer_id to pass through, got %v", fields["peer_id"])
	}
}

package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevel(t *testing.T) {
	logger, err := NewLogger(Options{Env: "prod", Level: "warn"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn should be enabled")
	}

	dev, err := NewLogger(Options{Env: "dev"})
	if err != nil {
		t.Fatalf("NewLogger dev: %v", err)
	}
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("dev logger should log debug by default")
	}
}

func TestContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := WithLogger(context.Background(), base)
	ctx = WithFields(ctx, zap.String("patient_cache", "patients"))
	L(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["patient_cache"] != "patients" {
		t.Fatalf("missing field: %v", entries[0].ContextMap())
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	prev := DefaultLogger()
	t.Cleanup(func() { SetDefault(prev) })

	custom := zap.NewNop()
	SetDefault(custom)

	if got := FromContext(context.Background()); got != custom {
		t.Fatalf("expected default logger")
	}
	var nilCtx context.Context
	if got := FromContext(nilCtx); got != custom {
		t.Fatalf("expected default logger for nil ctx")
	}
}

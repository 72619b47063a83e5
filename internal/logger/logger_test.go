package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/Additional-Code/bono/internal/config"
)

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	json := buildConfig(config.Observability{LogLevel: "debug", LogEncoding: "json"})
	if json.Encoding != "json" {
		t.Fatalf("expected json encoding, got %s", json.Encoding)
	}
	if json.Level.Level() != zapcore.DebugLevel {
		t.Fatalf("expected debug level, got %s", json.Level.Level())
	}

	console := buildConfig(config.Observability{LogLevel: "nonsense", LogEncoding: "console"})
	if console.Encoding != "console" {
		t.Fatalf("expected console encoding, got %s", console.Encoding)
	}
	if console.Level.Level() != zapcore.InfoLevel {
		t.Fatalf("expected unknown level to fall back to info, got %s", console.Level.Level())
	}
}

package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/PortNumber53/enrollment-checkout/backend/internal/config"
)

func TestNewHonoursLevel(t *testing.T) {
	logger, err := New(config.Log{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatal("expected error to be enabled at warn level")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(config.Log{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.Log{Level: "loud", Format: "console"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

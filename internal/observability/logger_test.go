package observability

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env    string
		expect zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"debug", zap.DebugLevel},
		{"  warn  ", zap.WarnLevel},
		{"WARNING", zap.WarnLevel},
		{"Error", zap.ErrorLevel},
		{"trace", zap.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.env).Level(); got != tt.expect {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.env, got, tt.expect)
		}
	}
}

func TestParseLogFormat(t *testing.T) {
	for in, want := range map[string]string{"": "json", "json": "json", " Console ": "console", "pretty": "json"} {
		if got := parseLogFormat(in); got != want {
			t.Errorf("parseLogFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewLogger_ConsoleFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "console")
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	logger.Info("console logger ready")
	_ = logger.Sync()
}

// TestNewLogger_HonoursLogLevel verifies LOG_LEVEL gates debug output, which
// carries the outside temperature lookup details.
func TestNewLogger_HonoursLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	logger, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug enabled at default level, want info")
	}

	t.Setenv("LOG_LEVEL", "DEBUG")
	logger, err = NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug disabled with LOG_LEVEL=DEBUG")
	}
	_ = logger.Sync()
}

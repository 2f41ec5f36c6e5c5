package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to be enabled")
	}
}

func TestNewWithConfig(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantLevel zerolog.Level
		wantJSON  bool
	}{
		{name: "defaults", cfg: Config{}, wantLevel: zerolog.InfoLevel},
		{name: "debug json", cfg: Config{Level: "DEBUG", Format: "json"}, wantLevel: zerolog.DebugLevel, wantJSON: true},
		{name: "unknown level", cfg: Config{Level: "loud", Format: "json"}, wantLevel: zerolog.InfoLevel, wantJSON: true},
		{name: "warn console", cfg: Config{Level: "warn", Format: "console"}, wantLevel: zerolog.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			log := NewWithConfig(tt.cfg, buf)
			if log.GetLevel() != tt.wantLevel {
				t.Errorf("level = %v, want %v", log.GetLevel(), tt.wantLevel)
			}

			log.Error().Str("file", "nov.pdf").Msg("extraction failed")
			out := buf.String()
			if !strings.Contains(out, "extraction failed") {
				t.Errorf("Expected message in output, got: %s", out)
			}
			if got := strings.HasPrefix(out, "{"); got != tt.wantJSON {
				t.Errorf("JSON output = %v, want %v: %s", got, tt.wantJSON, out)
			}
		})
	}
}

func TestNewWithConfig_FiltersBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithConfig(Config{Level: "warn", Format: "json"}, buf)

	log.Info().Msg("quiet")
	if buf.Len() != 0 {
		t.Errorf("Expected info to be filtered, got: %s", buf.String())
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	if !strings.Contains(buf.String(), "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog := NewWithWriter(buf)
	ctx := WithContext(context.Background(), testLog)

	retrievedLog := FromContext(ctx)
	retrievedLog.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())

	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithSession(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))
	ctx = WithSession(ctx, "abc")

	log := FromContext(ctx)
	log.Info().Int("row", 4).Msg("categorized")

	output := buf.String()
	if !strings.Contains(output, `"session_id":"abc"`) {
		t.Errorf("Expected session_id field, got: %s", output)
	}
	if !strings.Contains(output, `"row":4`) {
		t.Errorf("Expected row field, got: %s", output)
	}
}

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
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("level = %s, want info", log.GetLevel())
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	if !strings.Contains(buf.String(), `"message":"test message"`) {
		t.Errorf("Expected JSON output with message, got: %s", buf.String())
	}
}

func TestNewWithConfig(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantLevel zerolog.Level
		wantErr   bool
	}{
		{"defaults", "", "", zerolog.InfoLevel, false},
		{"debug json", "debug", "json", zerolog.DebugLevel, false},
		{"upper case", "WARN", "console", zerolog.WarnLevel, false},
		{"bad level", "loud", "json", zerolog.Disabled, true},
		{"bad format", "info", "xml", zerolog.Disabled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := NewWithConfig(&bytes.Buffer{}, tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && log.GetLevel() != tt.wantLevel {
				t.Errorf("level = %s, want %s", log.GetLevel(), tt.wantLevel)
			}
		})
	}
}

func TestNewWithConfig_FiltersBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithConfig(buf, "warn", "json")
	if err != nil {
		t.Fatal(err)
	}

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")

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

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"user_id":   "123",
		"import_id": "imp-1",
	})

	log.Info().Msg("test message")

	out := buf.String()
	if !strings.Contains(out, `"user_id":"123"`) || !strings.Contains(out, `"import_id":"imp-1"`) {
		t.Errorf("Expected fields in output, got: %s", out)
	}
}

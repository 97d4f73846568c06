package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New(Options{})
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %s", log.GetLevel())
	}
}

func TestNewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Level: "debug", Format: "json", Output: buf})

	log.Debug().Str("account_id", "acc-1").Msg("applied batch")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON output, got: %s", buf.String())
	}
	if entry["account_id"] != "acc-1" {
		t.Errorf("Expected account_id field, got: %v", entry)
	}
	if entry["level"] != "debug" {
		t.Errorf("Expected debug level, got: %v", entry["level"])
	}
}

func TestNewConsoleFiltersLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Level: "WARN", Output: buf})

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("Expected info message to be filtered, got: %s", output)
	}
	if !strings.Contains(output, "shown") {
		t.Errorf("Expected warn message, got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		"Error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	log := Component(NewWithWriter(buf), "syncer")
	log.Info().Msg("started")

	if !strings.Contains(buf.String(), `"component":"syncer"`) {
		t.Errorf("Expected component field, got: %s", buf.String())
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

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	logWithFields := WithFields(log, map[string]interface{}{
		"account_id": "123",
		"resource":   "balances",
	})
	logWithFields.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "account_id") || !strings.Contains(output, "123") {
		t.Errorf("Expected output to contain account_id field, got: %s", output)
	}
	if !strings.Contains(output, "resource") || !strings.Contains(output, "balances") {
		t.Errorf("Expected output to contain resource field, got: %s", output)
	}
}

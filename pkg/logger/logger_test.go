package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_WritesJSONAboveLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "warn", Output: &buf, Service: "identity"})

	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info entry should be filtered, got %s", buf.String())
	}

	log.Warn().Str("event", "reuse_detected").Msg("kept")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON entry: %v (%s)", err, buf.String())
	}
	if entry["service"] != "identity" || entry["event"] != "reuse_detected" || entry["level"] != "warn" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNew_IndependentInstances(t *testing.T) {
	var a, b bytes.Buffer
	la := New(Options{Level: "error", Output: &a})
	lb := New(Options{Level: "debug", Output: &b})

	la.Debug().Msg("a")
	lb.Debug().Msg("b")
	if a.Len() != 0 || b.Len() == 0 {
		t.Fatalf("loggers should not share level: a=%q b=%q", a.String(), b.String())
	}
}

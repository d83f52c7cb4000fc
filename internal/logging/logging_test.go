package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("layer", "Ebgp")).Debug(context.Background(), "rendered",
		Int("sessions", 4), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if rec["msg"] != "rendered" || rec["layer"] != "Ebgp" || rec["error"] != "boom" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["sessions"] != float64(4) {
		t.Fatalf("sessions = %v, want 4", rec["sessions"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	ctx := context.Background()

	log.Info(ctx, "dropped")
	log.Warn(ctx, "kept")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record passed a warn logger: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestFieldHelpers(t *testing.T) {
	if f := Err(nil); f.Key != "error" || f.Value != "" {
		t.Fatalf("Err(nil) = %+v", f)
	}
	if f := Duration("elapsed", 1500*time.Microsecond); f.Value != "1.5ms" {
		t.Fatalf("Duration = %+v", f)
	}
}

func TestBuildLoggerKeepsExistingID(t *testing.T) {
	ctx := ContextWithBuildID(context.Background(), "abc")
	ctx, _ = WithBuildLogger(ctx, nil)
	if got := BuildIDFromContext(ctx); got != "abc" {
		t.Fatalf("build id = %q, want abc", got)
	}

	fresh, id := EnsureBuildID(context.Background())
	if id == "" || BuildIDFromContext(fresh) != id {
		t.Fatalf("EnsureBuildID did not attach an id: %q", id)
	}
}

func TestContextLogger(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatal("empty context should carry no logger")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if _, ok := LoggerFromContext(ctx).(noopLogger); !ok {
		t.Fatalf("nil logger should be stored as noop, got %T", LoggerFromContext(ctx))
	}
}

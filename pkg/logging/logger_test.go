package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestNew_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: slog.LevelInfo, Writer: &buf, Component: "constellation"})

	log.Info("hello", slog.String("k", "v"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["component"] != "constellation" {
		t.Errorf("component = %v", lines[0]["component"])
	}
	if lines[0]["system"] != "constellation" {
		t.Errorf("system = %v", lines[0]["system"])
	}
	if lines[0]["k"] != "v" {
		t.Errorf("k = %v", lines[0]["k"])
	}
}

func TestNew_ErrorKeyNormalised(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: slog.LevelDebug, Writer: &buf})

	log.PipelineFaulted("p3", "c1", "TRANSPORT_BROKEN", errors.New("no responders"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if _, ok := lines[0]["error"]; ok {
		t.Error("expected error key to be renamed")
	}
	if lines[0]["err"] != "no responders" {
		t.Errorf("err = %v", lines[0]["err"])
	}
	if lines[0]["cause"] != "TRANSPORT_BROKEN" {
		t.Errorf("cause = %v", lines[0]["cause"])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: slog.LevelInfo, Writer: &buf})

	log.PipelineSpawned("p1", "c1", "https://a.test") // debug
	log.PipelineDiscarded("p1", "c1", "superseded")   // debug
	log.TraversalCommitted("c1", -1, 2)               // info

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected only the info line, got %d", len(lines))
	}
	if lines[0]["msg"] != "history traversal committed" {
		t.Errorf("msg = %v", lines[0]["msg"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: slog.LevelInfo, Format: FormatText, Writer: &buf})
	log.Info("plain")
	if !strings.Contains(buf.String(), "msg=plain") {
		t.Errorf("expected text handler output, got %q", buf.String())
	}
}

func TestWithContext_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: slog.LevelInfo, Writer: &buf})

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	log.WithContext(ctx).Info("traced")
	log.WithContext(context.Background()).Info("untraced")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["trace_id"] != spanCtx.TraceID().String() {
		t.Errorf("trace_id = %v", lines[0]["trace_id"])
	}
	if _, ok := lines[1]["trace_id"]; ok {
		t.Error("untraced line should not carry trace_id")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNop(t *testing.T) {
	log := Nop()
	log.PipelineActivated("p1", "c1", 1, 0)
	log.WithPipeline("p1", "c1").Info("discarded")
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/constellation/pkg/embedder"
	"github.com/odvcencio/constellation/pkg/embedder/journal"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "constellation "+version) {
		t.Errorf("version output = %q", out)
	}
}

func TestRunCommand_ScriptedSession(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	cfgPath := writeConfig(t, `
constellation:
  viewport:
    width: 300
    height: 100
compositor:
  tick: 10ms
content:
  slow_delay: 10ms
logging:
  level: error
journal:
  enabled: true
  path: `+journalPath+`
`)

	out, err := execute(t, "run", "--config", cfgPath, "--step", "50ms", "--back", "1", "--child=", "a.test", "b.test")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if !strings.Contains(out, "a.test") || !strings.Contains(out, "b.test") {
		t.Errorf("neither document was drawn:\n%s", out)
	}
	if !strings.Contains(out, "c1 [p") {
		t.Errorf("frame tree dump missing:\n%s", out)
	}

	j, err := journal.Open(journalPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	entries, err := j.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Fatalf("journal has %d entries, want history of both navigations", len(entries))
	}
	for _, e := range entries {
		if e.Type != embedder.EventHistoryChanged {
			t.Errorf("unexpected journal entry %+v", e)
		}
	}
	if entries[0].URL != "a.test" {
		t.Errorf("newest history entry is %q, want a.test after going back", entries[0].URL)
	}
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, "compositor:\n  frame_rate: -1\n")
	if _, err := execute(t, "run", "--config", cfgPath); err == nil {
		t.Fatal("expected invalid config to fail")
	}
}

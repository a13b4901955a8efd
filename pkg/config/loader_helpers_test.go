package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMergeConfigsPreservesBooleanDefaults(t *testing.T) {
	base := DefaultConfig()
	override := &Config{Logging: LoggingConfig{Level: "debug"}}
	raw := map[string]any{
		"logging": map[string]any{"level": "debug"},
	}

	mergeConfigs(base, override, raw)

	if !base.Content.Embedded {
		t.Fatalf("content.embedded should remain true when not overridden")
	}
	if base.Logging.Level != "debug" {
		t.Fatalf("expected level to be overridden")
	}
}

func TestMergeConfigsRespectsBooleanOverrides(t *testing.T) {
	base := DefaultConfig()
	override := &Config{}
	override.Content.Embedded = false
	override.Tracing.Enabled = true
	raw := map[string]any{
		"content": map[string]any{"embedded": false},
		"tracing": map[string]any{"enabled": true},
	}

	mergeConfigs(base, override, raw)

	if base.Content.Embedded {
		t.Fatalf("content.embedded override ignored")
	}
	if !base.Tracing.Enabled {
		t.Fatalf("tracing.enabled override ignored")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CONSTELLATION_LOAD_TIMEOUT", "750ms")
	t.Setenv("CONSTELLATION_MAX_PIPELINES", "not-a-number")
	t.Setenv("CONSTELLATION_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("CONSTELLATION_JOURNAL", "yes")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg, map[string]string{
		"CONSTELLATION_LOAD_TIMEOUT": "9s",
		"CONSTELLATION_LOG_LEVEL":    "debug",
	})

	if cfg.Constellation.LoadTimeout != 750*time.Millisecond {
		t.Fatalf("process env should win, got %s", cfg.Constellation.LoadTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("config.env value ignored, got %s", cfg.Logging.Level)
	}
	if cfg.Constellation.MaxPipelines != 256 {
		t.Fatalf("unparseable value should be ignored, got %d", cfg.Constellation.MaxPipelines)
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if !cfg.Journal.Enabled {
		t.Fatalf("journal flag ignored")
	}
}

func TestLoadConfigEnvVars(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".constellation")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	body := "# comment\nexport CONSTELLATION_LISTEN=\"127.0.0.1:9000\"\nBROKEN\nCONSTELLATION_LOG_FORMAT='text'\n"
	if err := os.WriteFile(filepath.Join(dir, "config.env"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	vars := loadConfigEnvVars()
	if vars["CONSTELLATION_LISTEN"] != "127.0.0.1:9000" || vars["CONSTELLATION_LOG_FORMAT"] != "text" {
		t.Fatalf("unexpected vars: %v", vars)
	}
	if len(vars) != 2 {
		t.Fatalf("malformed lines should be skipped: %v", vars)
	}
}

func TestIsLoopbackBindAddress(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:4480": true,
		"localhost:80":   true,
		"[::1]:4480":     true,
		"0.0.0.0:4480":   false,
		":4480":          false,
		"10.0.0.5:4480":  false,
		"":               false,
	}
	for addr, want := range tests {
		if got := isLoopbackBindAddress(addr); got != want {
			t.Errorf("%q: got %v, want %v", addr, got, want)
		}
	}
}

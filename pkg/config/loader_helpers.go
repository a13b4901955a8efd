package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs copies the fields set in override into base. Booleans are
// only copied when the file mentions them, so an absent key never resets a
// true default.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	k, o := &base.Constellation, override.Constellation
	if o.MaxPipelines != 0 || fieldSet(raw, "constellation", "max_pipelines") {
		k.MaxPipelines = o.MaxPipelines
	}
	if o.LoadTimeout != 0 {
		k.LoadTimeout = o.LoadTimeout
	}
	if o.HeartbeatInterval != 0 {
		k.HeartbeatInterval = o.HeartbeatInterval
	}
	if o.SpawnTimeout != 0 {
		k.SpawnTimeout = o.SpawnTimeout
	}
	if o.AckTimeout != 0 {
		k.AckTimeout = o.AckTimeout
	}
	if o.HistoryMaxEntries != 0 || fieldSet(raw, "constellation", "history_max_entries") {
		k.HistoryMaxEntries = o.HistoryMaxEntries
	}
	if o.Viewport.Width != 0 {
		k.Viewport.Width = o.Viewport.Width
	}
	if o.Viewport.Height != 0 {
		k.Viewport.Height = o.Viewport.Height
	}

	if override.Compositor.FrameRate != 0 {
		base.Compositor.FrameRate = override.Compositor.FrameRate
	}
	if override.Compositor.Tick != 0 {
		base.Compositor.Tick = override.Compositor.Tick
	}
	if override.Compositor.Retention != 0 {
		base.Compositor.Retention = override.Compositor.Retention
	}
	if override.Compositor.CellWidth != 0 {
		base.Compositor.CellWidth = override.Compositor.CellWidth
	}
	if override.Compositor.CellHeight != 0 {
		base.Compositor.CellHeight = override.Compositor.CellHeight
	}

	if override.Transport.Mode != "" {
		base.Transport.Mode = override.Transport.Mode
	}
	if override.Transport.NATS.URL != "" {
		base.Transport.NATS.URL = override.Transport.NATS.URL
	}
	if override.Transport.NATS.Name != "" {
		base.Transport.NATS.Name = override.Transport.NATS.Name
	}
	if override.Transport.NATS.RequestTimeout != 0 {
		base.Transport.NATS.RequestTimeout = override.Transport.NATS.RequestTimeout
	}

	if fieldSet(raw, "content", "embedded") {
		base.Content.Embedded = override.Content.Embedded
	}
	if override.Content.MaxWorkers != 0 || fieldSet(raw, "content", "max_workers") {
		base.Content.MaxWorkers = override.Content.MaxWorkers
	}
	if override.Content.SlowDelay != 0 {
		base.Content.SlowDelay = override.Content.SlowDelay
	}

	if override.Server.Listen != "" {
		base.Server.Listen = override.Server.Listen
	}
	if fieldSet(raw, "server", "allow_non_loopback") {
		base.Server.AllowNonLoopback = override.Server.AllowNonLoopback
	}
	if override.Server.ReadHeaderTimeout != 0 {
		base.Server.ReadHeaderTimeout = override.Server.ReadHeaderTimeout
	}
	if override.Server.ShutdownTimeout != 0 {
		base.Server.ShutdownTimeout = override.Server.ShutdownTimeout
	}
	if override.Server.EventBufferSize != 0 {
		base.Server.EventBufferSize = override.Server.EventBufferSize
	}
	if fieldSet(raw, "server", "allowed_origins") {
		base.Server.AllowedOrigins = override.Server.AllowedOrigins
	}
	if override.Server.RequestBodyMaxSize != 0 {
		base.Server.RequestBodyMaxSize = override.Server.RequestBodyMaxSize
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if fieldSet(raw, "tracing", "enabled") {
		base.Tracing.Enabled = override.Tracing.Enabled
	}
	if override.Tracing.ServiceName != "" {
		base.Tracing.ServiceName = override.Tracing.ServiceName
	}
	if fieldSet(raw, "tracing", "sample_ratio") {
		base.Tracing.SampleRatio = override.Tracing.SampleRatio
	}

	if fieldSet(raw, "journal", "enabled") {
		base.Journal.Enabled = override.Journal.Enabled
	}
	if override.Journal.Path != "" {
		base.Journal.Path = override.Journal.Path
	}
}

// fieldSet reports whether the YAML document contains path.
func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}

// applyEnvOverrides applies CONSTELLATION_* variables. Values from the
// process environment win over ~/.constellation/config.env.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	get := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return configEnv[key]
	}

	if v, ok := envInt(get("CONSTELLATION_MAX_PIPELINES")); ok {
		cfg.Constellation.MaxPipelines = v
	}
	if v, ok := envDuration(get("CONSTELLATION_LOAD_TIMEOUT")); ok {
		cfg.Constellation.LoadTimeout = v
	}
	if v, ok := envDuration(get("CONSTELLATION_HEARTBEAT_INTERVAL")); ok {
		cfg.Constellation.HeartbeatInterval = v
	}
	if v, ok := envInt(get("CONSTELLATION_HISTORY_MAX_ENTRIES")); ok {
		cfg.Constellation.HistoryMaxEntries = v
	}
	if v, ok := envFloat(get("CONSTELLATION_FRAME_RATE")); ok {
		cfg.Compositor.FrameRate = v
	}
	if v := get("CONSTELLATION_TRANSPORT"); v != "" {
		cfg.Transport.Mode = v
	}
	if v := get("CONSTELLATION_NATS_URL"); v != "" {
		cfg.Transport.NATS.URL = v
	}
	if v, ok := envBool(get("CONSTELLATION_CONTENT_EMBEDDED")); ok {
		cfg.Content.Embedded = v
	}
	if v, ok := envInt(get("CONSTELLATION_CONTENT_MAX_WORKERS")); ok {
		cfg.Content.MaxWorkers = v
	}
	if v := get("CONSTELLATION_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v, ok := envBool(get("CONSTELLATION_ALLOW_NON_LOOPBACK")); ok {
		cfg.Server.AllowNonLoopback = v
	}
	if v := get("CONSTELLATION_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}
	if v := get("CONSTELLATION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := get("CONSTELLATION_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v, ok := envBool(get("CONSTELLATION_TRACING")); ok {
		cfg.Tracing.Enabled = v
	}
	if v, ok := envBool(get("CONSTELLATION_JOURNAL")); ok {
		cfg.Journal.Enabled = v
	}
	if v := get("CONSTELLATION_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envBool(val string) (bool, bool) {
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func envInt(val string) (int, bool) {
	if val == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	return n, err == nil
}

func envFloat(val string) (float64, bool) {
	if val == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	return f, err == nil
}

func envDuration(val string) (time.Duration, bool) {
	if val == "" {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	return d, err == nil
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

// loadConfigEnvVars reads KEY=value lines from ~/.constellation/config.env.
func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(home, ".constellation", "config.env"))
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return vars
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

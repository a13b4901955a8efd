// Package config loads engine settings from YAML files and CONSTELLATION_*
// environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/odvcencio/constellation/pkg/errors"
	"github.com/odvcencio/constellation/pkg/protocol"
)

// Config is the complete engine configuration.
type Config struct {
	Constellation ConstellationConfig `yaml:"constellation"`
	Compositor    CompositorConfig    `yaml:"compositor"`
	Transport     TransportConfig     `yaml:"transport"`
	Content       ContentConfig       `yaml:"content"`
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Journal       JournalConfig       `yaml:"journal"`
}

// ConstellationConfig bounds the orchestrator.
type ConstellationConfig struct {
	// MaxPipelines caps content pipelines. A navigation borrows the slot of
	// the document it replaces. Zero is unlimited.
	MaxPipelines      int           `yaml:"max_pipelines"`
	LoadTimeout       time.Duration `yaml:"load_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	SpawnTimeout      time.Duration `yaml:"spawn_timeout"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	// HistoryMaxEntries caps each window's joint history. Zero is unbounded.
	HistoryMaxEntries int           `yaml:"history_max_entries"`
	Viewport          protocol.Size `yaml:"viewport"`
}

// CompositorConfig paces presentation.
type CompositorConfig struct {
	FrameRate float64       `yaml:"frame_rate"`
	Tick      time.Duration `yaml:"tick"`
	Retention time.Duration `yaml:"retention"`
	// CellWidth and CellHeight map device pixels to terminal cells for the
	// text backend.
	CellWidth  int `yaml:"cell_width"`
	CellHeight int `yaml:"cell_height"`
}

// TransportConfig selects the message bus.
type TransportConfig struct {
	// Mode is "memory" for a single process or "nats".
	Mode string     `yaml:"mode"`
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig configures the NATS bus.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ContentConfig configures the simulated content host.
type ContentConfig struct {
	// Embedded runs a content host in the engine process. Disable it when
	// workers attach over NATS.
	Embedded   bool          `yaml:"embedded"`
	MaxWorkers int           `yaml:"max_workers"`
	SlowDelay  time.Duration `yaml:"slow_delay"`
}

// ServerConfig configures the embedder HTTP surface.
type ServerConfig struct {
	Listen             string        `yaml:"listen"`
	AllowNonLoopback   bool          `yaml:"allow_non_loopback"`
	ReadHeaderTimeout  time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	EventBufferSize    int           `yaml:"event_buffer_size"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
	RequestBodyMaxSize int64         `yaml:"request_body_max_size"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// JournalConfig configures the embedder event journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Constellation: ConstellationConfig{
			MaxPipelines:      256,
			LoadTimeout:       10 * time.Second,
			HeartbeatInterval: 2 * time.Second,
			SpawnTimeout:      5 * time.Second,
			AckTimeout:        2 * time.Second,
			HistoryMaxEntries: 50,
			Viewport:          protocol.Size{Width: 800, Height: 600},
		},
		Compositor: CompositorConfig{
			FrameRate:  60,
			Tick:       250 * time.Millisecond,
			Retention:  10 * time.Second,
			CellWidth:  10,
			CellHeight: 20,
		},
		Transport: TransportConfig{
			Mode: "memory",
			NATS: NATSConfig{
				URL:            "nats://localhost:4222",
				Name:           "constellation",
				RequestTimeout: 5 * time.Second,
			},
		},
		Content: ContentConfig{
			Embedded:   true,
			MaxWorkers: 512,
			SlowDelay:  500 * time.Millisecond,
		},
		Server: ServerConfig{
			Listen:             "127.0.0.1:4480",
			ReadHeaderTimeout:  5 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			EventBufferSize:    256,
			RequestBodyMaxSize: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "constellation",
			SampleRatio: 1,
		},
		Journal: JournalConfig{
			Path: "~/.constellation/journal.db",
		},
	}
}

// Load reads configuration with increasing precedence: defaults, the user
// file (~/.constellation/config.yaml), the project file
// (./.constellation/config.yaml), then environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".constellation", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading user config").WithContext("path", userConfigPath)
		}
	}

	projectConfigPath := filepath.Join(".", ".constellation", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading project config").WithContext("path", projectConfigPath)
	}

	applyEnvOverrides(cfg, configEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a single file over the defaults, then applies
// environment variables.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading config").WithContext("path", path)
	}

	applyEnvOverrides(cfg, configEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	invalid := func(msg string, kv ...any) error {
		e := errors.New(errors.ErrCodeConfigInvalid, msg)
		for i := 0; i+1 < len(kv); i += 2 {
			e = e.WithContext(kv[i].(string), kv[i+1])
		}
		return e
	}

	k := c.Constellation
	if k.MaxPipelines < 0 {
		return invalid("constellation.max_pipelines must not be negative", "value", k.MaxPipelines)
	}
	if k.LoadTimeout <= 0 || k.HeartbeatInterval <= 0 || k.SpawnTimeout <= 0 || k.AckTimeout <= 0 {
		return invalid("constellation timeouts must be positive")
	}
	if k.HistoryMaxEntries < 0 {
		return invalid("constellation.history_max_entries must not be negative", "value", k.HistoryMaxEntries)
	}
	if k.Viewport.Empty() {
		return invalid("constellation.viewport must be positive", "width", k.Viewport.Width, "height", k.Viewport.Height)
	}

	if c.Compositor.FrameRate <= 0 || c.Compositor.FrameRate > 240 {
		return invalid("compositor.frame_rate must be in (0, 240]", "value", c.Compositor.FrameRate)
	}
	if c.Compositor.CellWidth <= 0 || c.Compositor.CellHeight <= 0 {
		return invalid("compositor cell size must be positive")
	}

	switch strings.ToLower(c.Transport.Mode) {
	case "memory":
		if !c.Content.Embedded {
			return invalid("transport.mode memory needs content.embedded")
		}
	case "nats":
		if strings.TrimSpace(c.Transport.NATS.URL) == "" {
			return invalid("transport.nats.url is required for nats transport")
		}
	default:
		return invalid("invalid transport mode (valid: memory, nats)", "mode", c.Transport.Mode)
	}

	if c.Content.MaxWorkers < 0 {
		return invalid("content.max_workers must not be negative", "value", c.Content.MaxWorkers)
	}

	if strings.TrimSpace(c.Server.Listen) == "" {
		return invalid("server.listen is required")
	}
	if !c.Server.AllowNonLoopback && !isLoopbackBindAddress(c.Server.Listen) {
		return invalid("server.listen must be a loopback address unless server.allow_non_loopback is set", "listen", c.Server.Listen)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return invalid("invalid logging format (valid: json, text)", "format", c.Logging.Format)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("invalid logging level (valid: debug, info, warn, error)", "level", c.Logging.Level)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return invalid("tracing.sample_ratio must be in [0, 1]", "value", c.Tracing.SampleRatio)
	}
	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		return invalid("journal.path is required when the journal is enabled")
	}
	return nil
}

// JournalPath returns the journal path with a leading ~ expanded.
func (c *Config) JournalPath() string {
	return expandHomeDir(c.Journal.Path)
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/mapping"
	"github.com/c360/eventpublisher/output"
	"github.com/c360/eventpublisher/publisher"
)

// Registry backends for mapping templates
const (
	RegistryFile = "file" // Templates below a directory
	RegistryKV   = "kv"   // Templates in a NATS JetStream KV bucket
)

// Event input sources
const (
	InputStdin = "stdin"
	InputNATS  = "nats"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "EVENTPUB"

// Config represents the complete application configuration
type Config struct {
	NATS     NATSConfig     `json:"nats"`
	Metrics  MetricsConfig  `json:"metrics"`
	Log      LogConfig      `json:"log"`
	Schemas  []string       `json:"schemas,omitempty"` // Stream definition files (JSON or YAML)
	Registry RegistryConfig `json:"registry"`
	Streams  []StreamConfig `json:"streams,omitempty"`
	Input    InputConfig    `json:"input"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL            string        `json:"url,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	MaxReconnects  int           `json:"max_reconnects,omitempty"`
	ReconnectWait  time.Duration `json:"reconnect_wait,omitempty"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	Token          string        `json:"token,omitempty"`
}

// MetricsConfig controls the HTTP endpoint serving /metrics and /health
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port,omitempty"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // json or text
}

// RegistryConfig locates registry mapping templates
type RegistryConfig struct {
	Type   string `json:"type,omitempty"`
	Root   string `json:"root,omitempty"`   // Directory for the file registry
	Bucket string `json:"bucket,omitempty"` // KV bucket for the kv registry
}

// StreamConfig binds one stream to its mapping and sink
type StreamConfig struct {
	StreamID string `json:"stream_id"`
	// Mapping nil selects the generated default template.
	Mapping   *mapping.OutputMapping `json:"mapping,omitempty"`
	Sink      output.Config          `json:"sink"`
	Workers   int                    `json:"workers,omitempty"`
	QueueSize int                    `json:"queue_size,omitempty"`
	RateLimit float64                `json:"rate_limit,omitempty"`
	Burst     int                    `json:"burst,omitempty"`
}

// InputConfig selects where events are read from
type InputConfig struct {
	Type    string `json:"type,omitempty"`
	Subject string `json:"subject,omitempty"` // NATS subject, wildcards allowed
}

// PublisherConfig returns the publisher configuration for the stream, filling
// unset values from publisher.DefaultConfig.
func (s StreamConfig) PublisherConfig() publisher.Config {
	cfg := publisher.DefaultConfig()
	if s.Mapping != nil {
		cfg.Mapping = *s.Mapping
	}
	if s.Workers > 0 {
		cfg.Workers = s.Workers
	}
	if s.QueueSize > 0 {
		cfg.QueueSize = s.QueueSize
	}
	cfg.RateLimit = s.RateLimit
	cfg.Burst = s.Burst
	return cfg
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if len(c.Streams) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "at least one stream is required")
	}

	seen := make(map[string]bool, len(c.Streams))
	needsNATS := false
	for i := range c.Streams {
		s := &c.Streams[i]
		if strings.TrimSpace(s.StreamID) == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("streams[%d].stream_id is required", i))
		}
		if seen[s.StreamID] {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("stream %s configured twice", s.StreamID))
		}
		seen[s.StreamID] = true

		pc := s.PublisherConfig()
		if err := pc.Validate(); err != nil {
			return fmt.Errorf("stream %s: %w", s.StreamID, err)
		}
		if err := s.Sink.Validate(); err != nil {
			return fmt.Errorf("stream %s: %w", s.StreamID, err)
		}
		if s.Sink.Type == output.TypeNATS {
			needsNATS = true
		}
	}

	switch c.Registry.Type {
	case RegistryFile:
		if c.Registry.Root == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "registry.root is required")
		}
	case RegistryKV:
		if c.Registry.Bucket == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "registry.bucket is required")
		}
		needsNATS = true
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown registry type %q", c.Registry.Type))
	}

	switch c.Input.Type {
	case InputStdin:
	case InputNATS:
		if c.Input.Subject == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "input.subject is required")
		}
		needsNATS = true
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown input type %q", c.Input.Type))
	}

	if needsNATS && c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.url is required")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}

	return nil
}

// UsesNATS reports whether any configured part needs a NATS connection
func (c *Config) UsesNATS() bool {
	if c.Registry.Type == RegistryKV || c.Input.Type == InputNATS {
		return true
	}
	for _, s := range c.Streams {
		if s.Sink.Type == output.TypeNATS {
			return true
		}
	}
	return false
}

// String returns the configuration as JSON with credentials masked
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, err := json.Marshal(&masked)
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// Loader loads configuration files, merging later layers over earlier ones
type Loader struct {
	layers     []string
	envPrefix  string
	validation bool
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validation: true,
	}
}

// AddLayer adds a configuration file. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads the default configuration, merges every layer over it, applies
// environment overrides and validates the result.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(l.getDefaults())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged = deepMergeMaps(merged, raw)
	}

	if l.validation {
		if err := ValidateDocument(merged); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode merged config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode config")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

// getDefaults returns default configuration
func (l *Loader) getDefaults() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			ConnectTimeout: 5 * time.Second,
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Registry: RegistryConfig{
			Type: RegistryFile,
			Root: "templates",
		},
		Input: InputConfig{
			Type: InputStdin,
		},
	}
}

// loadRaw reads a JSON or YAML file into a generic map with durations
// converted to nanoseconds.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "read "+path)
	}

	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "parse YAML")
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "convert YAML")
		}
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "check structure")
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "parse JSON")
	}

	if err := parseDurations(raw); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "loadRaw", "parse durations")
	}
	return raw, nil
}

// durationKeys lists fields that accept Go duration strings such as "250ms"
var durationKeys = map[string]bool{
	"connect_timeout": true,
	"reconnect_wait":  true,
	"flush_interval":  true,
	"write_timeout":   true,
	"ping_interval":   true,
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(v any) error {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if s, ok := child.(string); ok && durationKeys[k] {
				d, err := time.ParseDuration(s)
				if err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
				node[k] = d.Nanoseconds()
				continue
			}
			if err := parseDurations(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range node {
			if err := parseDurations(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

// toMap round-trips a config through JSON
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return "", errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		return val, nil
	}

	overrides := []struct {
		name string
		set  func(string) error
	}{
		{"NATS_URL", func(v string) error { cfg.NATS.URL = v; return nil }},
		{"NATS_USERNAME", func(v string) error { cfg.NATS.Username = v; return nil }},
		{"NATS_PASSWORD", func(v string) error { cfg.NATS.Password = v; return nil }},
		{"NATS_TOKEN", func(v string) error { cfg.NATS.Token = v; return nil }},
		{"LOG_LEVEL", func(v string) error { cfg.Log.Level = strings.ToLower(v); return nil }},
		{"LOG_FORMAT", func(v string) error { cfg.Log.Format = strings.ToLower(v); return nil }},
		{"METRICS_PORT", func(v string) error {
			port, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			cfg.Metrics.Port = port
			return nil
		}},
	}

	for _, o := range overrides {
		val, err := lookup(o.name)
		if err != nil {
			return err
		}
		if val == "" {
			continue
		}
		if err := o.set(val); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", l.envPrefix+"_"+o.name)
		}
	}
	return nil
}

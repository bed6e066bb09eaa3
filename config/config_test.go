package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/mapping"
	"github.com/c360/eventpublisher/output"
	"github.com/c360/eventpublisher/output/file"
	"github.com/c360/eventpublisher/output/natspub"
	"github.com/c360/eventpublisher/publisher"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const jsonConfig = `{
	"schemas": ["schemas/orders.yaml"],
	"streams": [
		{
			"stream_id": "orders:2.0.0",
			"mapping": {"inline": "{\"id\":{{id}}}"},
			"sink": {"type": "stdout"},
			"workers": 2
		}
	]
}`

const yamlConfig = `
nats:
  url: nats://broker:4222
  connect_timeout: 3s
metrics:
  enabled: true
  port: 9102
registry:
  type: file
  root: /etc/eventpublisher/templates
streams:
  - stream_id: orders:2.0.0
    mapping:
      registry: orders/v2.json
    sink:
      type: file
      file:
        directory: /var/lib/eventpublisher
        file_prefix: orders
        format: jsonl
        buffer_size: 10
        flush_interval: 250ms
    rate_limit: 50
    burst: 5
  - stream_id: audit:1.0.0
    sink:
      type: nats
      nats:
        subject: audit.events
input:
  type: nats
  subject: events.>
`

func TestLoader_LoadJSON(t *testing.T) {
	cfg, err := NewLoader().LoadFile(writeFile(t, "config.json", jsonConfig))
	require.NoError(t, err)

	// Defaults survive where the file is silent
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 5*time.Second, cfg.NATS.ConnectTimeout)
	assert.Equal(t, RegistryFile, cfg.Registry.Type)
	assert.Equal(t, "templates", cfg.Registry.Root)
	assert.Equal(t, InputStdin, cfg.Input.Type)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Metrics.Enabled)

	assert.Equal(t, []string{"schemas/orders.yaml"}, cfg.Schemas)
	require.Len(t, cfg.Streams, 1)
	s := cfg.Streams[0]
	assert.Equal(t, "orders:2.0.0", s.StreamID)
	require.NotNil(t, s.Mapping)
	assert.Equal(t, `{"id":{{id}}}`, s.Mapping.Inline)
	assert.Equal(t, output.TypeStdout, s.Sink.Type)
	assert.False(t, cfg.UsesNATS())
}

func TestLoader_LoadYAML(t *testing.T) {
	cfg, err := NewLoader().LoadFile(writeFile(t, "config.yaml", yamlConfig))
	require.NoError(t, err)

	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 3*time.Second, cfg.NATS.ConnectTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9102, cfg.Metrics.Port)
	assert.Equal(t, "/etc/eventpublisher/templates", cfg.Registry.Root)
	assert.Equal(t, InputNATS, cfg.Input.Type)
	assert.Equal(t, "events.>", cfg.Input.Subject)
	assert.True(t, cfg.UsesNATS())

	require.Len(t, cfg.Streams, 2)
	orders := cfg.Streams[0]
	require.NotNil(t, orders.Sink.File)
	assert.Equal(t, file.Config{
		Directory:     "/var/lib/eventpublisher",
		FilePrefix:    "orders",
		Format:        file.FormatJSONL,
		BufferSize:    10,
		FlushInterval: 250 * time.Millisecond,
	}, *orders.Sink.File)
	assert.Equal(t, 50.0, orders.RateLimit)
	assert.Equal(t, 5, orders.Burst)

	audit := cfg.Streams[1]
	assert.Nil(t, audit.Mapping)
	assert.Equal(t, &natspub.Config{Subject: "audit.events"}, audit.Sink.NATS)
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.json", jsonConfig)
	override := writeFile(t, "override.yaml", `
metrics:
  enabled: true
log:
  format: text
streams:
  - stream_id: audit:1.0.0
    sink:
      type: stdout
`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	// Maps merge key by key
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"schemas/orders.yaml"}, cfg.Schemas)

	// Lists are replaced
	require.Len(t, cfg.Streams, 1)
	assert.Equal(t, "audit:1.0.0", cfg.Streams[0].StreamID)
}

func TestLoader_SchemaRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"streams": [{"stream_id": "orders:2.0.0", "sink": {"type": "stdout"}, "worker": 3}]
	}`)

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "worker")
}

func TestLoader_SchemaRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown sink type", `{"streams": [{"stream_id": "a:1", "sink": {"type": "kafka"}}]}`},
		{"missing sink", `{"streams": [{"stream_id": "a:1"}]}`},
		{"bad log level", `{"log": {"level": "loud"}, "streams": [{"stream_id": "a:1", "sink": {"type": "stdout"}}]}`},
		{"negative workers", `{"streams": [{"stream_id": "a:1", "sink": {"type": "stdout"}, "workers": -1}]}`},
		{"port out of range", `{"metrics": {"port": 70000}, "streams": [{"stream_id": "a:1", "sink": {"type": "stdout"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(writeFile(t, "config.json", tt.content))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
		})
	}
}

func TestLoader_ValidationDisabled(t *testing.T) {
	loader := NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(writeFile(t, "config.json", `{"bogus": true}`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Streams)
}

func TestLoader_BadDuration(t *testing.T) {
	path := writeFile(t, "config.yaml", `
nats:
  connect_timeout: soon
streams:
  - stream_id: a:1
    sink: {type: stdout}
`)
	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect_timeout")
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("EVENTPUB_NATS_URL", "nats://env:4222")
	t.Setenv("EVENTPUB_LOG_LEVEL", "DEBUG")
	t.Setenv("EVENTPUB_NATS_TOKEN", "s3cret")

	cfg, err := NewLoader().LoadFile(writeFile(t, "config.json", jsonConfig))
	require.NoError(t, err)

	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "s3cret", cfg.NATS.Token)
	assert.NotContains(t, cfg.String(), "s3cret")
}

func TestLoader_EnvOverrideInvalidPort(t *testing.T) {
	t.Setenv("EVENTPUB_METRICS_PORT", "ninety")

	_, err := NewLoader().LoadFile(writeFile(t, "config.json", jsonConfig))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "EVENTPUB_METRICS_PORT")
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			NATS:     NATSConfig{URL: "nats://localhost:4222"},
			Registry: RegistryConfig{Type: RegistryFile, Root: "templates"},
			Input:    InputConfig{Type: InputStdin},
			Streams: []StreamConfig{{
				StreamID: "orders:2.0.0",
				Sink:     output.Config{Type: output.TypeStdout},
			}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no streams", func(c *Config) { c.Streams = nil }, "at least one stream"},
		{"blank stream id", func(c *Config) { c.Streams[0].StreamID = " " }, "stream_id is required"},
		{"duplicate stream", func(c *Config) { c.Streams = append(c.Streams, c.Streams[0]) }, "configured twice"},
		{"bad mapping", func(c *Config) { c.Streams[0].Mapping = &mapping.OutputMapping{} }, "stream orders:2.0.0"},
		{"missing sink section", func(c *Config) { c.Streams[0].Sink = output.Config{Type: output.TypeFile} }, "stream orders:2.0.0"},
		{"file registry without root", func(c *Config) { c.Registry.Root = "" }, "registry.root"},
		{"kv registry without bucket", func(c *Config) { c.Registry = RegistryConfig{Type: RegistryKV} }, "registry.bucket"},
		{"unknown registry", func(c *Config) { c.Registry.Type = "s3" }, "unknown registry type"},
		{"nats input without subject", func(c *Config) { c.Input.Type = InputNATS }, "input.subject"},
		{"unknown input", func(c *Config) { c.Input.Type = "kafka" }, "unknown input type"},
		{"nats needed but no url", func(c *Config) {
			c.Input = InputConfig{Type: InputNATS, Subject: "events.>"}
			c.NATS.URL = ""
		}, "nats.url"},
		{"stdin needs no nats url", func(c *Config) { c.NATS.URL = "" }, ""},
		{"metrics port", func(c *Config) { c.Metrics = MetricsConfig{Enabled: true} }, "metrics.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsInvalid(err), "got %v", err)
		})
	}
}

func TestStreamConfig_PublisherConfig(t *testing.T) {
	defaults := publisher.DefaultConfig()

	pc := StreamConfig{StreamID: "orders:2.0.0"}.PublisherConfig()
	assert.Equal(t, defaults.Workers, pc.Workers)
	assert.Equal(t, defaults.QueueSize, pc.QueueSize)
	assert.False(t, pc.Mapping.IsCustom())

	custom := &mapping.OutputMapping{Inline: `{{id}}`}
	pc = StreamConfig{Mapping: custom, Workers: 8, QueueSize: 16, RateLimit: 10, Burst: 2}.PublisherConfig()
	assert.Equal(t, *custom, pc.Mapping)
	assert.Equal(t, 8, pc.Workers)
	assert.Equal(t, 16, pc.QueueSize)
	assert.Equal(t, 10.0, pc.RateLimit)
	assert.Equal(t, 2, pc.Burst)
	assert.Equal(t, defaults.Retry, pc.Retry)
}

func TestValidateConfigPath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"", true},
		{"config.json", false},
		{"configs/app.yaml", false},
		{"app.yml", false},
		{"/etc/eventpublisher/app.json", false},
		{"../outside.json", true},
		{"config.toml", true},
		{strings.Repeat("a", maxPathLen+1) + ".json", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a":[{"b":"}}}]"}]}`)))
	assert.Error(t, validateJSONDepth([]byte(strings.Repeat("[", maxJSONDepth+1)+strings.Repeat("]", maxJSONDepth+1))))
	assert.Error(t, validateJSONDepth([]byte(`{"a":1}}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a":[1]`)))
}

func TestValidateEnvVar(t *testing.T) {
	assert.NoError(t, validateEnvVar("K", ""))
	assert.NoError(t, validateEnvVar("K", "nats://localhost:4222"))
	assert.Error(t, validateEnvVar("K", "a\x00b"))
	assert.Error(t, validateEnvVar("K", strings.Repeat("x", maxEnvVarLen+1)))
}

func TestSchema_Embedded(t *testing.T) {
	require.NotEmpty(t, Schema())
	_, err := loadSchema()
	require.NoError(t, err)
}

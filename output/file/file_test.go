package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventpublisher/errors"
)

func testConfig(t *testing.T, format string) Config {
	cfg := DefaultConfig()
	cfg.Directory = t.TempDir()
	cfg.Format = format
	cfg.BufferSize = 2
	cfg.FlushInterval = time.Hour
	return cfg
}

func TestFileOutput_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "/tmp/eventpublisher", config.Directory)
	assert.Equal(t, FormatJSONL, config.Format)
	assert.True(t, config.Append)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"missing directory", func(c *Config) { c.Directory = "" }},
		{"missing prefix", func(c *Config) { c.FilePrefix = "" }},
		{"unknown format", func(c *Config) { c.Format = "csv" }},
		{"zero buffer", func(c *Config) { c.BufferSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestFileOutput_JSONLines(t *testing.T) {
	out, err := NewOutput(testConfig(t, FormatJSONL), nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "file-output", out.Name())

	require.NoError(t, out.Write(ctx, []byte(`{"a":1}`)))
	// Below the buffer size nothing reaches the file yet
	data, err := os.ReadFile(out.Path())
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, out.Write(ctx, []byte(`{"a":2}`)))
	data, err = os.ReadFile(out.Path())
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(data))

	stats := out.Stats()
	assert.Equal(t, int64(2), stats.MessagesWritten)
	assert.Equal(t, int64(16), stats.BytesWritten)
	assert.False(t, stats.LastActivity.IsZero())

	require.NoError(t, out.Close())
}

func TestFileOutput_CloseFlushes(t *testing.T) {
	out, err := NewOutput(testConfig(t, FormatRaw), nil)
	require.NoError(t, err)

	require.NoError(t, out.Write(context.Background(), []byte("abc")))
	require.NoError(t, out.Close())
	require.NoError(t, out.Close())

	data, err := os.ReadFile(out.Path())
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	err = out.Write(context.Background(), []byte("late"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestFileOutput_PrettyJSON(t *testing.T) {
	out, err := NewOutput(testConfig(t, FormatJSON), nil)
	require.NoError(t, err)

	require.NoError(t, out.Write(context.Background(), []byte(`{"event":{"id":1}}`)))
	require.NoError(t, out.Write(context.Background(), []byte(`not json`)))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(out.Path())
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "{\n  \"event\": {\n    \"id\": 1\n  }\n}\n")
	assert.True(t, strings.HasSuffix(text, "not json\n"))
}

func TestFileOutput_Truncate(t *testing.T) {
	cfg := testConfig(t, FormatJSONL)
	cfg.Append = false
	path := filepath.Join(cfg.Directory, "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0644))

	out, err := NewOutput(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, out.Write(context.Background(), []byte(`1`)))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(data))
}

func TestFileOutput_PeriodicFlush(t *testing.T) {
	cfg := testConfig(t, FormatJSONL)
	cfg.BufferSize = 100
	cfg.FlushInterval = 10 * time.Millisecond

	out, err := NewOutput(cfg, nil)
	require.NoError(t, err)
	defer out.Close()

	require.NoError(t, out.Write(context.Background(), []byte(`{"tick":true}`)))

	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(out.Path())
		return err == nil && string(data) == "{\"tick\":true}\n"
	}, time.Second, 10*time.Millisecond)
}

func TestFileOutput_CopiesInput(t *testing.T) {
	out, err := NewOutput(testConfig(t, FormatJSONL), nil)
	require.NoError(t, err)

	buf := []byte(`{"x":1}`)
	require.NoError(t, out.Write(context.Background(), buf))
	copy(buf, `{"x":9}`)
	require.NoError(t, out.Close())

	data, err := os.ReadFile(out.Path())
	require.NoError(t, err)
	assert.Equal(t, "{\"x\":1}\n", string(data))
}

func TestFileOutput_FailedFlushIsNotRetryable(t *testing.T) {
	full, err := os.OpenFile("/dev/full", os.O_WRONLY, 0)
	if err != nil {
		t.Skip("/dev/full not available")
	}

	out, err := NewOutput(testConfig(t, FormatJSONL), nil)
	require.NoError(t, err)
	ctx := context.Background()

	out.fileMu.Lock()
	disk := out.file
	out.file = full
	out.fileMu.Unlock()

	require.NoError(t, out.Write(ctx, []byte(`{"a":1}`)))
	err = out.Write(ctx, []byte(`{"a":2}`))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.False(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrDeliveryFailed)
	assert.Contains(t, err.Error(), "write 2 of 2 buffered messages")

	stats := out.Stats()
	assert.Equal(t, int64(0), stats.MessagesWritten)
	assert.Equal(t, int64(2), stats.Errors)

	// Lost messages are not kept for a later flush
	out.fileMu.Lock()
	out.file = disk
	out.fileMu.Unlock()
	require.NoError(t, full.Close())

	require.NoError(t, out.Flush())
	require.NoError(t, out.Write(ctx, []byte(`{"a":3}`)))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(out.Path())
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":3}\n", string(data))
}

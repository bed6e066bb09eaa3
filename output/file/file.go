// Package file provides a sink that writes rendered events to a file on disk
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/c360/eventpublisher/errors"
)

// Supported output formats
const (
	FormatJSONL = "jsonl"
	FormatJSON  = "json"
	FormatRaw   = "raw"
)

// Config holds configuration for the file sink
type Config struct {
	Directory     string        `json:"directory"      yaml:"directory"`
	FilePrefix    string        `json:"file_prefix"    yaml:"file_prefix"`
	Format        string        `json:"format"         yaml:"format"`
	Append        bool          `json:"append"         yaml:"append"`
	BufferSize    int           `json:"buffer_size"    yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "directory is required")
	}
	if c.FilePrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "file_prefix is required")
	}

	switch c.Format {
	case FormatJSONL, FormatJSON, FormatRaw:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unsupported format %q", c.Format))
	}

	if c.BufferSize < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "buffer_size must be positive")
	}
	return nil
}

// DefaultConfig returns default configuration for the file sink
func DefaultConfig() Config {
	return Config{
		Directory:     "/tmp/eventpublisher",
		FilePrefix:    "events",
		Format:        FormatJSONL,
		Append:        true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// Stats reports sink counters
type Stats struct {
	MessagesWritten int64
	BytesWritten    int64
	Errors          int64
	LastActivity    time.Time
}

// Output buffers rendered events and writes them to a single file
type Output struct {
	name       string
	path       string
	format     string
	bufferSize int
	logger     *slog.Logger

	file   *os.File
	fileMu sync.Mutex

	buffer   [][]byte
	bufferMu sync.Mutex

	shutdown  chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	wg        sync.WaitGroup

	messagesWritten int64
	bytesWritten    int64
	errors          int64
	lastActivity    atomic.Int64
}

// NewOutput creates the output directory, opens the file and starts the flush loop
func NewOutput(config Config, logger *slog.Logger) (*Output, error) {
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, errors.WrapFatal(err, "Output", "NewOutput", "create output directory")
	}

	path := filepath.Join(config.Directory, fmt.Sprintf("%s.%s", config.FilePrefix, config.Format))
	flags := os.O_CREATE | os.O_WRONLY
	if config.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, errors.WrapFatal(err, "Output", "NewOutput", "open output file")
	}

	o := &Output{
		name:       "file-output",
		path:       path,
		format:     config.Format,
		bufferSize: config.BufferSize,
		logger:     logger.With("component", "file-output"),
		file:       f,
		buffer:     make([][]byte, 0, config.BufferSize),
		shutdown:   make(chan struct{}),
	}

	o.wg.Add(1)
	go o.flushLoop(config.FlushInterval)

	o.logger.Info("File output started",
		"output_file", path,
		"format", config.Format,
		"append", config.Append,
		"buffer_size", config.BufferSize)

	return o, nil
}

// Name returns the sink name
func (f *Output) Name() string {
	return f.name
}

// Path returns the file being written
func (f *Output) Path() string {
	return f.path
}

// Write buffers data and flushes when the buffer is full. Messages a flush could not
// write are dropped after being logged and counted, and the returned error is fatal.
func (f *Output) Write(ctx context.Context, data []byte) error {
	if f.closed.Load() {
		return errors.WrapFatal(errors.ErrShuttingDown, "Output", "Write", "sink closed")
	}

	// The caller may reuse data after Write returns
	msg := make([]byte, len(data))
	copy(msg, data)

	f.bufferMu.Lock()
	f.buffer = append(f.buffer, msg)
	shouldFlush := len(f.buffer) >= f.bufferSize
	f.bufferMu.Unlock()

	f.lastActivity.Store(time.Now().UnixNano())

	if !shouldFlush {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.flush()
}

// Flush writes buffered data to the file
func (f *Output) Flush() error {
	return f.flush()
}

// Close stops the flush loop, flushes and closes the file
func (f *Output) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.shutdown)
		f.wg.Wait()

		err = f.flush()

		f.fileMu.Lock()
		if f.file != nil {
			if cerr := f.file.Close(); cerr != nil && err == nil {
				err = errors.WrapTransient(cerr, "Output", "Close", "close output file")
			}
			f.file = nil
		}
		f.fileMu.Unlock()
	})
	return err
}

// Stats returns a snapshot of the sink counters
func (f *Output) Stats() Stats {
	var last time.Time
	if ns := f.lastActivity.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		MessagesWritten: atomic.LoadInt64(&f.messagesWritten),
		BytesWritten:    atomic.LoadInt64(&f.bytesWritten),
		Errors:          atomic.LoadInt64(&f.errors),
		LastActivity:    last,
	}
}

func (f *Output) flushLoop(interval time.Duration) {
	defer f.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.shutdown:
			return
		case <-ticker.C:
			if err := f.flush(); err != nil {
				f.logger.Error("Periodic flush failed", "error", err)
			}
		}
	}
}

func (f *Output) flush() error {
	f.bufferMu.Lock()
	if len(f.buffer) == 0 {
		f.bufferMu.Unlock()
		return nil
	}
	messages := f.buffer
	f.buffer = make([][]byte, 0, f.bufferSize)
	f.bufferMu.Unlock()

	f.fileMu.Lock()
	defer f.fileMu.Unlock()

	if f.file == nil {
		atomic.AddInt64(&f.errors, int64(len(messages)))
		return errors.WrapFatal(errors.ErrShuttingDown, "Output", "flush",
			fmt.Sprintf("file closed, %d messages lost", len(messages)))
	}

	var (
		firstErr error
		failed   int
	)
	for i, msg := range messages {
		n, err := f.file.Write(f.encode(msg))
		if err != nil {
			failed++
			atomic.AddInt64(&f.errors, 1)
			f.logger.Error("Failed to write message to file", "message_index", i, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		atomic.AddInt64(&f.messagesWritten, 1)
		atomic.AddInt64(&f.bytesWritten, int64(n))
	}

	f.logger.Debug("Flush completed",
		"message_count", len(messages),
		"total_written", atomic.LoadInt64(&f.messagesWritten),
		"total_errors", atomic.LoadInt64(&f.errors))

	if firstErr != nil {
		return errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrDeliveryFailed, firstErr), "Output", "flush",
			fmt.Sprintf("write %d of %d buffered messages", failed, len(messages)))
	}
	return nil
}

// encode formats one message for the configured format
func (f *Output) encode(msg []byte) []byte {
	switch f.format {
	case FormatRaw:
		return msg
	case FormatJSON:
		// Pretty ends its output with a newline. Invalid JSON is written as is.
		if gjson.ValidBytes(msg) {
			return pretty.Pretty(msg)
		}
		return append(msg, '\n')
	default:
		return append(msg, '\n')
	}
}

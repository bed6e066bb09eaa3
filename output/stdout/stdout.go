// Package stdout provides a sink that writes one rendered event per line
package stdout

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"

	"github.com/c360/eventpublisher/errors"
)

// Output writes events to an io.Writer, one per line
type Output struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer
}

// NewOutput wraps w. A nil w writes to os.Stdout. If w is an io.Closer other than
// os.Stdout, Close closes it.
func NewOutput(w io.Writer) *Output {
	if w == nil {
		w = os.Stdout
	}
	o := &Output{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok && w != io.Writer(os.Stdout) {
		o.c = c
	}
	return o
}

// Name returns the sink name
func (o *Output) Name() string {
	return "stdout-output"
}

// Write writes data followed by a newline and flushes
func (o *Output) Write(_ context.Context, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.w.Write(data); err != nil {
		return errors.WrapTransient(err, "Output", "Write", "write event")
	}
	if err := o.w.WriteByte('\n'); err != nil {
		return errors.WrapTransient(err, "Output", "Write", "write event")
	}
	if err := o.w.Flush(); err != nil {
		return errors.WrapTransient(err, "Output", "Write", "flush")
	}
	return nil
}

// Close flushes and closes the underlying writer when it owns one
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.w.Flush(); err != nil {
		return errors.WrapTransient(err, "Output", "Close", "flush")
	}
	if o.c != nil {
		return o.c.Close()
	}
	return nil
}

package mapping

import (
	"fmt"

	"github.com/c360/eventpublisher/errors"
)

// MalformedTemplateError reports a placeholder prefix with no matching postfix.
type MalformedTemplateError struct {
	// Offset is the byte offset of the unterminated prefix in the raw template
	Offset int
}

func (e *MalformedTemplateError) Error() string {
	return fmt.Sprintf("found template attribute prefix %s at offset %d without corresponding postfix %s",
		Prefix, e.Offset, Postfix)
}

func (e *MalformedTemplateError) Unwrap() error {
	return errors.ErrInvalidConfig
}

// SchemaValidationError reports a placeholder that does not name an attribute of the stream.
type SchemaValidationError struct {
	Property string
	StreamID string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("property %s is not in the input stream definition %s", e.Property, e.StreamID)
}

func (e *SchemaValidationError) Unwrap() error {
	return errors.ErrInvalidConfig
}

// ConfigurationError reports a missing, empty or ambiguous mapping source.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil && e.Err != errors.ErrMissingConfig && e.Err != errors.ErrInvalidConfig {
		return fmt.Sprintf("output mapping: %s: %v", e.Reason, e.Err)
	}
	return "output mapping: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error {
	if e.Err == nil {
		return errors.ErrMissingConfig
	}
	return e.Err
}

// RenderError reports an event too short for a placeholder's position.
type RenderError struct {
	Key   string
	Index int // -1 when the key does not resolve at all
	Width int // number of values in the event
}

func (e *RenderError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("placeholder %s does not resolve to an attribute", e.Key)
	}
	return fmt.Sprintf("placeholder %s needs value %d but event has %d values", e.Key, e.Index, e.Width)
}

func (e *RenderError) Unwrap() error {
	return errors.ErrInvalidData
}

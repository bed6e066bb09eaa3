// Package schema describes event streams: attribute groups, the flattened value layout
// shared by every event of a stream, and the position map that resolves template
// placeholders to value indices.
package schema

import (
	"fmt"
	"strings"

	"github.com/c360/eventpublisher/errors"
)

// Group identifies the section of an event an attribute belongs to.
type Group int

const (
	// Meta attributes come first in the flattened layout
	Meta Group = iota
	// Correlation attributes follow meta attributes
	Correlation
	// Payload attributes come last and carry no placeholder prefix
	Payload
)

// String returns the group name
func (g Group) String() string {
	switch g {
	case Meta:
		return "meta"
	case Correlation:
		return "correlation"
	case Payload:
		return "payload"
	default:
		return "unknown"
	}
}

// Prefix returns the placeholder marker for the group.
func (g Group) Prefix() string {
	switch g {
	case Meta:
		return "meta_"
	case Correlation:
		return "correlation_"
	default:
		return ""
	}
}

// Tag returns the key used for the group in default templates.
func (g Group) Tag() string {
	switch g {
	case Meta:
		return "metaData"
	case Correlation:
		return "correlationData"
	default:
		return "payloadData"
	}
}

// AttributeType is the declared value type of an attribute
type AttributeType string

// Supported attribute types
const (
	TypeString AttributeType = "string"
	TypeInt    AttributeType = "int"
	TypeLong   AttributeType = "long"
	TypeFloat  AttributeType = "float"
	TypeDouble AttributeType = "double"
	TypeBool   AttributeType = "bool"
	TypeObject AttributeType = "object"
)

// Valid reports whether t is a known attribute type
func (t AttributeType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeLong, TypeFloat, TypeDouble, TypeBool, TypeObject:
		return true
	default:
		return false
	}
}

// Attribute is a named, typed slot of an event.
type Attribute struct {
	Name  string        `json:"name" yaml:"name"`
	Type  AttributeType `json:"type" yaml:"type"`
	Group Group         `json:"-"    yaml:"-"`
}

// DefaultVersion is assumed when a stream definition omits its version
const DefaultVersion = "1.0.0"

// StreamDefinition describes the attributes carried by every event of a stream.
// It must not be modified after it has been registered or used to build a position map.
type StreamDefinition struct {
	Name            string      `json:"name"                       yaml:"name"`
	Version         string      `json:"version,omitempty"          yaml:"version,omitempty"`
	Description     string      `json:"description,omitempty"      yaml:"description,omitempty"`
	MetaData        []Attribute `json:"meta_data,omitempty"        yaml:"meta_data,omitempty"`
	CorrelationData []Attribute `json:"correlation_data,omitempty" yaml:"correlation_data,omitempty"`
	PayloadData     []Attribute `json:"payload_data,omitempty"     yaml:"payload_data,omitempty"`
}

// StreamID returns the "name:version" identifier of the stream
func (d *StreamDefinition) StreamID() string {
	version := d.Version
	if version == "" {
		version = DefaultVersion
	}
	return d.Name + ":" + version
}

// Attributes returns the attributes of a single group in declared order
func (d *StreamDefinition) Attributes(g Group) []Attribute {
	var src []Attribute
	switch g {
	case Meta:
		src = d.MetaData
	case Correlation:
		src = d.CorrelationData
	case Payload:
		src = d.PayloadData
	}

	out := make([]Attribute, len(src))
	for i, attr := range src {
		attr.Group = g
		out[i] = attr
	}
	return out
}

// Flatten returns all attributes in layout order: meta, correlation, payload.
func (d *StreamDefinition) Flatten() []Attribute {
	flat := make([]Attribute, 0, d.Width())
	for _, g := range []Group{Meta, Correlation, Payload} {
		flat = append(flat, d.Attributes(g)...)
	}
	return flat
}

// Width is the number of values in a fully populated event
func (d *StreamDefinition) Width() int {
	return len(d.MetaData) + len(d.CorrelationData) + len(d.PayloadData)
}

// Validate checks names, types and placeholder key uniqueness across groups
func (d *StreamDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamDefinition", "Validate", "stream name is required")
	}
	if strings.Contains(d.Name, ":") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamDefinition", "Validate",
			fmt.Sprintf("stream name %q must not contain ':'", d.Name))
	}

	for _, attr := range d.Flatten() {
		if strings.TrimSpace(attr.Name) == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamDefinition", "Validate",
				fmt.Sprintf("%s attribute with empty name in stream %s", attr.Group, d.StreamID()))
		}
		if strings.ContainsAny(attr.Name, `{}"`) {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamDefinition", "Validate",
				fmt.Sprintf("attribute name %q must not contain braces or quotes", attr.Name))
		}
		if !attr.Type.Valid() {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamDefinition", "Validate",
				fmt.Sprintf("attribute %s has unsupported type %q", attr.Name, attr.Type))
		}
	}

	if _, err := buildPositions(d); err != nil {
		return errors.WrapInvalid(err, "StreamDefinition", "Validate", "build position map")
	}
	return nil
}

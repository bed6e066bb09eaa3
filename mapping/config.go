package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/eventpublisher/errors"
)

// TypeJSON is the only supported mapping type
const TypeJSON = "json"

// OutputMapping selects the template a stream is rendered with.
//
// When custom mapping is enabled (the default) exactly one of Inline or Registry must be
// set. Registry is a resource path handed to a Resolver. When disabled, the template is
// generated from the stream definition.
type OutputMapping struct {
	Type                 string `json:"type,omitempty"                   yaml:"type,omitempty"`
	CustomMappingEnabled *bool  `json:"custom_mapping_enabled,omitempty" yaml:"custom_mapping_enabled,omitempty"`
	Inline               string `json:"inline,omitempty"                 yaml:"inline,omitempty"`
	Registry             string `json:"registry,omitempty"               yaml:"registry,omitempty"`
}

// Bool returns a pointer to b, for CustomMappingEnabled literals.
func Bool(b bool) *bool {
	return &b
}

// IsCustom reports whether a user template is used. An absent flag means true.
func (m OutputMapping) IsCustom() bool {
	return m.CustomMappingEnabled == nil || *m.CustomMappingEnabled
}

// IsRegistry reports whether the template text comes from a Resolver
func (m OutputMapping) IsRegistry() bool {
	return m.IsCustom() && strings.TrimSpace(m.Inline) == "" && strings.TrimSpace(m.Registry) != ""
}

// Validate checks the mapping type and, for custom mappings, that exactly one source is set.
func (m OutputMapping) Validate() error {
	if m.Type != "" && !strings.EqualFold(m.Type, TypeJSON) {
		return &ConfigurationError{Reason: "unsupported mapping type " + m.Type, Err: errors.ErrInvalidConfig}
	}
	if !m.IsCustom() {
		return nil
	}

	inline := strings.TrimSpace(m.Inline) != ""
	registry := strings.TrimSpace(m.Registry) != ""
	switch {
	case inline && registry:
		return &ConfigurationError{Reason: "mapping must be either inline or from registry, not both",
			Err: errors.ErrInvalidConfig}
	case !inline && !registry:
		return &ConfigurationError{Reason: "mapping should be inline or from registry"}
	}
	return nil
}

// Text returns the custom template text, resolving registry paths through r.
// Blank resolved text is a *ConfigurationError.
func (m OutputMapping) Text(ctx context.Context, r Resolver) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if !m.IsCustom() {
		return "", &ConfigurationError{Reason: "custom mapping is disabled"}
	}

	text := m.Inline
	if m.IsRegistry() {
		if r == nil {
			return "", &ConfigurationError{Reason: "no resolver for registry mapping " + m.Registry}
		}
		resolved, err := r.Resolve(ctx, m.Registry)
		if err != nil {
			return "", &ConfigurationError{Reason: "resolve registry mapping " + m.Registry, Err: err}
		}
		text = resolved
	}

	if strings.TrimSpace(text) == "" {
		return "", &ConfigurationError{Reason: "no mapping content available"}
	}
	return text, nil
}

// ParseOutputMapping decodes a mapping from JSON or YAML and validates it.
func ParseOutputMapping(data []byte) (OutputMapping, error) {
	var m OutputMapping

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return m, &ConfigurationError{Reason: "empty mapping configuration"}
	}

	var err error
	if trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &m)
	} else {
		err = yaml.Unmarshal(trimmed, &m)
	}
	if err != nil {
		return m, errors.WrapInvalid(errors.ErrParsingFailed, "OutputMapping", "ParseOutputMapping",
			"decode mapping: "+err.Error())
	}

	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

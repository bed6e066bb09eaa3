package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/eventpublisher/errors"
)

//go:embed schema.json
var schemaDocument []byte

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

// Schema returns the JSON Schema configuration documents are checked against
func Schema() []byte {
	return schemaDocument
}

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaDocument))
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks a decoded configuration document (durations already
// converted to nanoseconds) against the embedded schema. Every violation is
// listed in the returned error.
func ValidateDocument(doc any) error {
	schema, err := loadSchema()
	if err != nil {
		return errors.WrapFatal(err, "Config", "ValidateDocument", "compile schema")
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.WrapInvalid(err, "Config", "ValidateDocument", "validate document")
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(msgs, "; ")),
		"Config", "ValidateDocument", "schema check")
}

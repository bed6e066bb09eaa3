// Package mapping compiles, validates and renders output mapping templates.
//
// A template is text with placeholders delimited by {{ and }}. Each placeholder names an
// attribute of the stream, either by bare name or with a group marker ("meta_timestamp",
// "correlation_region"). Compile splits the text once into alternating literal and
// placeholder segments; Render walks those segments per event and substitutes values by
// position. String values are quoted, everything else is written bare, so a template such as
//
//	{"n":{{name}}, "a":{{age}}}
//
// renders ["Alice", 30] as {"n":"Alice", "a":30}.
//
// When custom mapping is disabled, GenerateDefault builds a template covering every
// attribute of the stream.
//
// Activation (NewMapper) resolves the template text, compiles and validates it and binds
// placeholders to value indices. The result is an immutable Mapper; Active publishes one
// through an atomic pointer so reconfiguration never disturbs in-flight renders.
package mapping

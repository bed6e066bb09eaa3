package mapping

import (
	"strings"

	"github.com/c360/eventpublisher/schema"
)

// Placeholder delimiters. They are plain substrings: placeholders do not nest.
const (
	Prefix  = "{{"
	Postfix = "}}"
)

// SegmentKind distinguishes literal text from placeholder references
type SegmentKind int

const (
	// Literal segments are copied to the output verbatim
	Literal SegmentKind = iota
	// Placeholder segments are replaced by an event value
	Placeholder
)

func (k SegmentKind) String() string {
	if k == Placeholder {
		return "placeholder"
	}
	return "literal"
}

// Segment is one unit of a compiled template. For placeholders Text is the key.
type Segment struct {
	Kind SegmentKind
	Text string
}

// Template is a compiled mapping template. Segments alternate literal, placeholder,
// literal and always start and end with a (possibly empty) literal, so segment i is a
// placeholder exactly when i is odd. A Template is immutable.
type Template struct {
	raw      string
	segments []Segment
	literals int // total literal bytes, used to size render buffers
}

// Raw returns the template text the segments were compiled from
func (t *Template) Raw() string {
	return t.raw
}

// Segments returns a copy of the compiled segments
func (t *Template) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Placeholders returns the number of placeholder segments
func (t *Template) Placeholders() int {
	return len(t.segments) / 2
}

// Keys returns placeholder keys in template order, duplicates included
func (t *Template) Keys() []string {
	keys := make([]string, 0, t.Placeholders())
	for i := 1; i < len(t.segments); i += 2 {
		keys = append(keys, t.segments[i].Text)
	}
	return keys
}

// Literals returns the literal texts in template order
func (t *Template) Literals() []string {
	lits := make([]string, 0, t.Placeholders()+1)
	for i := 0; i < len(t.segments); i += 2 {
		lits = append(lits, t.segments[i].Text)
	}
	return lits
}

// String reassembles the template, which equals Raw for any compiled template
func (t *Template) String() string {
	var b strings.Builder
	b.Grow(len(t.raw))
	for _, seg := range t.segments {
		if seg.Kind == Placeholder {
			b.WriteString(Prefix)
			b.WriteString(seg.Text)
			b.WriteString(Postfix)
			continue
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}

// Compile parses raw into a Template. It fails with *MalformedTemplateError when a
// prefix has no postfix after it. Placeholder keys are taken verbatim.
func Compile(raw string) (*Template, error) {
	t := &Template{raw: raw}
	sc := scanner{src: raw}

	for {
		literal, key, more, err := sc.next()
		if err != nil {
			return nil, err
		}
		t.segments = append(t.segments, Segment{Kind: Literal, Text: literal})
		t.literals += len(literal)
		if !more {
			return t, nil
		}
		t.segments = append(t.segments, Segment{Kind: Placeholder, Text: key})
	}
}

// Validate checks that every placeholder key of t resolves in pm. The first key in
// template order that does not resolve is reported as *SchemaValidationError.
func Validate(t *Template, pm schema.PositionMap, streamID string) error {
	for i := 1; i < len(t.segments); i += 2 {
		if key := t.segments[i].Text; !pm.Has(key) {
			return &SchemaValidationError{Property: key, StreamID: streamID}
		}
	}
	return nil
}

// Bind resolves every placeholder to its layout index, in template order.
func Bind(t *Template, pm schema.PositionMap) ([]int, error) {
	indices := make([]int, 0, t.Placeholders())
	for i := 1; i < len(t.segments); i += 2 {
		key := t.segments[i].Text
		idx, ok := pm.Index(key)
		if !ok {
			return nil, &RenderError{Key: key, Index: -1}
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

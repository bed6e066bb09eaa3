package mapping

import (
	"strings"

	"github.com/tidwall/sjson"

	"github.com/c360/eventpublisher/schema"
)

// EventTag is the top-level key that wraps the attribute groups of a default template
const EventTag = "event"

// pathEscaper escapes the characters sjson treats as path syntax
var pathEscaper = strings.NewReplacer(
	`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`,
	`|`, `\|`, `#`, `\#`, `@`, `\@`, `:`, `\:`,
)

// GenerateDefault builds the mapping template used when custom mapping is disabled.
//
// The result is compact JSON of the form
//
//	{"event":{"metaData":{"a":{{meta_a}}},"correlationData":{...},"payloadData":{"c":{{c}}}}}
//
// with one placeholder per attribute, left unquoted so the renderer decides quoting.
// Groups without attributes are omitted. def must have passed Validate.
func GenerateDefault(def *schema.StreamDefinition) string {
	doc := `{"` + EventTag + `":{}}`

	var err error
	for _, g := range []schema.Group{schema.Meta, schema.Correlation, schema.Payload} {
		attrs := def.Attributes(g)
		if len(attrs) == 0 {
			continue
		}

		group := EventTag + "." + g.Tag()
		if doc, err = sjson.SetRaw(doc, group, "{}"); err != nil {
			panic("mapping: default template: " + err.Error())
		}
		for _, attr := range attrs {
			value := `"` + Prefix + g.Prefix() + attr.Name + Postfix + `"`
			if doc, err = sjson.SetRaw(doc, group+"."+pathEscaper.Replace(attr.Name), value); err != nil {
				panic("mapping: default template: " + err.Error())
			}
		}
	}

	doc = strings.ReplaceAll(doc, `"`+Prefix, Prefix)
	return strings.ReplaceAll(doc, Postfix+`"`, Postfix)
}

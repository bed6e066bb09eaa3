package mapping

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/schema"
)

func personStream() *schema.StreamDefinition {
	return &schema.StreamDefinition{
		Name: "people",
		PayloadData: []schema.Attribute{
			{Name: "name", Type: schema.TypeString},
			{Name: "age", Type: schema.TypeInt},
		},
	}
}

func positionsFor(t *testing.T, def *schema.StreamDefinition) schema.PositionMap {
	t.Helper()
	pm, err := schema.NewPositionMap(def)
	require.NoError(t, err)
	return pm
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		literals []string
		keys     []string
	}{
		{"empty", "", []string{""}, []string{}},
		{"literal only", `{"static":true}`, []string{`{"static":true}`}, []string{}},
		{"single", `{"n":{{name}}}`, []string{`{"n":`, "}"}, []string{"name"}},
		{"leading placeholder", "{{name}} is {{age}}", []string{"", " is ", ""}, []string{"name", "age"}},
		{"adjacent", "{{a}}{{b}}", []string{"", "", ""}, []string{"a", "b"}},
		{"duplicate keys", "{{a}},{{a}}", []string{"", ",", ""}, []string{"a", "a"}},
		{"key taken verbatim", "x{{ name }}y", []string{"x", "y"}, []string{" name "}},
		{"empty key", "<{{}}>", []string{"<", ">"}, []string{""}},
		{"stray postfix in literal", "a}}b{{c}}", []string{"a}}b", ""}, []string{"c"}},
		{"extra closing brace", "{{a}}}", []string{"", "}"}, []string{"a"}},
		{"prefix inside key", "{{{{a}}", []string{"", ""}, []string{"{{a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Compile(tt.raw)
			require.NoError(t, err)

			assert.Equal(t, tt.literals, tmpl.Literals(), spew.Sdump(tmpl.Segments()))
			assert.Equal(t, tt.keys, tmpl.Keys())
			assert.Equal(t, tt.raw, tmpl.Raw())
			assert.Equal(t, tt.raw, tmpl.String())
		})
	}
}

func TestCompile_Alternation(t *testing.T) {
	raws := []string{
		"",
		"plain",
		"{{a}}",
		`{"x":{{a}},"y":[{{b}},{{c}}],"z":"{{d}}"}`,
		"{{a}}{{b}}{{c}}",
		"head {{a}} mid {{b}} tail",
	}

	for _, raw := range raws {
		tmpl, err := Compile(raw)
		require.NoError(t, err, raw)

		segs := tmpl.Segments()
		require.NotEmpty(t, segs)
		assert.Equal(t, Literal, segs[0].Kind, "first segment of %q", raw)
		assert.Equal(t, Literal, segs[len(segs)-1].Kind, "last segment of %q", raw)
		assert.Equal(t, 1, len(segs)%2, "odd segment count for %q", raw)
		for i, seg := range segs {
			if i%2 == 0 {
				assert.Equal(t, Literal, seg.Kind, "segment %d of %q", i, raw)
			} else {
				assert.Equal(t, Placeholder, seg.Kind, "segment %d of %q", i, raw)
			}
		}

		assert.Equal(t, strings.Count(raw, Prefix), tmpl.Placeholders(), raw)
	}
}

func TestCompile_Unterminated(t *testing.T) {
	tests := []struct {
		raw    string
		offset int
	}{
		{"abc{{def", 3},
		{"{{", 0},
		{"{{a}} and {{b", 10},
		{"{{a}}{{", 5},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			tmpl, err := Compile(tt.raw)
			require.Error(t, err)
			assert.Nil(t, tmpl)

			var malformed *MalformedTemplateError
			require.True(t, stderrors.As(err, &malformed))
			assert.Equal(t, tt.offset, malformed.Offset)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), "without corresponding postfix")
		})
	}
}

func TestCompile_Idempotent(t *testing.T) {
	raw := `{"event":{"a":{{meta_a}},"b":{{b}}}}`

	first, err := Compile(raw)
	require.NoError(t, err)
	second, err := Compile(raw)
	require.NoError(t, err)

	assert.Equal(t, first.Segments(), second.Segments())
}

func TestSegments_ReturnsCopy(t *testing.T) {
	tmpl, err := Compile("a{{b}}c")
	require.NoError(t, err)

	segs := tmpl.Segments()
	segs[1].Text = "changed"
	assert.Equal(t, []string{"b"}, tmpl.Keys())
}

func TestValidate(t *testing.T) {
	pm := positionsFor(t, &schema.StreamDefinition{
		Name: "s1",
		PayloadData: []schema.Attribute{
			{Name: "x", Type: schema.TypeString},
			{Name: "y", Type: schema.TypeInt},
		},
	})

	tmpl, err := Compile("{{z}}")
	require.NoError(t, err)

	err = Validate(tmpl, pm, "s1")
	require.Error(t, err)

	var sve *SchemaValidationError
	require.True(t, stderrors.As(err, &sve))
	assert.Equal(t, "z", sve.Property)
	assert.Equal(t, "s1", sve.StreamID)
	assert.Equal(t, "property z is not in the input stream definition s1", err.Error())
	assert.True(t, errors.IsInvalid(err))

	tmpl, err = Compile("{{x}} {{y}} {{x}}")
	require.NoError(t, err)
	assert.NoError(t, Validate(tmpl, pm, "s1"))

	tmpl, err = Compile("{{x}} {{w}} {{v}}")
	require.NoError(t, err)
	err = Validate(tmpl, pm, "s1")
	require.True(t, stderrors.As(err, &sve))
	assert.Equal(t, "w", sve.Property, "first missing key in template order")
}

func TestValidate_GroupPrefixes(t *testing.T) {
	def := &schema.StreamDefinition{
		Name:            "grouped",
		MetaData:        []schema.Attribute{{Name: "ts", Type: schema.TypeLong}},
		CorrelationData: []schema.Attribute{{Name: "trace", Type: schema.TypeString}},
		PayloadData:     []schema.Attribute{{Name: "v", Type: schema.TypeDouble}},
	}
	pm := positionsFor(t, def)

	for _, key := range []string{"meta_ts", "ts", "correlation_trace", "trace", "v"} {
		tmpl, err := Compile("{{" + key + "}}")
		require.NoError(t, err)
		assert.NoError(t, Validate(tmpl, pm, def.StreamID()), key)
	}

	for _, key := range []string{"payload_v", "meta_trace", "correlation_ts", " v"} {
		tmpl, err := Compile("{{" + key + "}}")
		require.NoError(t, err)
		assert.Error(t, Validate(tmpl, pm, def.StreamID()), key)
	}
}

func TestBind(t *testing.T) {
	pm := positionsFor(t, personStream())

	tmpl, err := Compile("{{age}}-{{name}}-{{age}}")
	require.NoError(t, err)

	indices, err := Bind(tmpl, pm)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, 1}, indices)

	tmpl, err = Compile("{{missing}}")
	require.NoError(t, err)
	_, err = Bind(tmpl, pm)

	var re *RenderError
	require.True(t, stderrors.As(err, &re))
	assert.Equal(t, -1, re.Index)
}

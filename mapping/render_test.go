package mapping

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventpublisher/errors"
	"github.com/c360/eventpublisher/schema"
)

type region string

type point struct{ X, Y int }

func TestRender_QuotingByType(t *testing.T) {
	pm := positionsFor(t, personStream())

	tmpl, err := Compile(`{"n":{{name}}, "a":{{age}}}`)
	require.NoError(t, err)

	out, err := Render(tmpl, []any{"Alice", 30}, pm)
	require.NoError(t, err)
	assert.Equal(t, `{"n":"Alice", "a":30}`, out)
}

func TestRender_LiteralRoundTrip(t *testing.T) {
	pm := positionsFor(t, personStream())

	for _, raw := range []string{"", "plain text", `{"static":[1,2,3]}`, "}} stray {", "\n\t"} {
		tmpl, err := Compile(raw)
		require.NoError(t, err)

		for _, event := range [][]any{nil, {}, {"x", 1}} {
			out, err := Render(tmpl, event, pm)
			require.NoError(t, err)
			assert.Equal(t, raw, out)
		}
	}
}

func TestRender_EmptyEvent(t *testing.T) {
	pm := positionsFor(t, personStream())

	tmpl, err := Compile(`[{{name}},{{age}}]`)
	require.NoError(t, err)

	out, err := Render(tmpl, []any{}, pm)
	require.NoError(t, err)
	assert.Equal(t, `[null,null]`, out)

	out, err = Render(tmpl, nil, pm)
	require.NoError(t, err)
	assert.Equal(t, `[null,null]`, out)
}

func TestRender_ShortEvent(t *testing.T) {
	pm := positionsFor(t, personStream())

	tmpl, err := Compile(`[{{name}},{{age}}]`)
	require.NoError(t, err)

	_, err = Render(tmpl, []any{"only-name"}, pm)
	require.Error(t, err)

	var re *RenderError
	require.True(t, stderrors.As(err, &re))
	assert.Equal(t, "age", re.Key)
	assert.Equal(t, 1, re.Index)
	assert.Equal(t, 1, re.Width)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestRender_UnresolvedKey(t *testing.T) {
	pm := positionsFor(t, personStream())

	tmpl, err := Compile(`{{nope}}`)
	require.NoError(t, err)

	_, err = Render(tmpl, []any{"a", 1}, pm)
	var re *RenderError
	require.True(t, stderrors.As(err, &re))
	assert.Equal(t, -1, re.Index)
	assert.Contains(t, err.Error(), "does not resolve")
}

func TestAppendValue(t *testing.T) {
	var nilRaw json.RawMessage

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, "null"},
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"string is not escaped", `say "hi"`, `"say "hi""`},
		{"named string", region("eu-west"), `"eu-west"`},
		{"bytes", []byte("raw"), `"raw"`},
		{"raw json", json.RawMessage(`{"k":[1,2]}`), `{"k":[1,2]}`},
		{"nil raw json", nilRaw, "null"},
		{"json number", json.Number("12.50"), "12.50"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", 42, "42"},
		{"negative int8", int8(-8), "-8"},
		{"int16", int16(1600), "1600"},
		{"int32", int32(-2147483648), "-2147483648"},
		{"int64", int64(1700000000000), "1700000000000"},
		{"uint", uint(7), "7"},
		{"uint8", uint8(255), "255"},
		{"uint16", uint16(65535), "65535"},
		{"uint32", uint32(4294967295), "4294967295"},
		{"uint64", uint64(math.MaxUint64), "18446744073709551615"},
		{"float32", float32(21.5), "21.5"},
		{"float32 shortest", float32(0.1), "0.1"},
		{"float64", 3.14159, "3.14159"},
		{"float64 integral", float64(2), "2"},
		{"float64 large", 1e21, "1e+21"},
		{"struct falls back to fmt", point{1, 2}, "{1 2}"},
		{"stringer is not quoted", fmt.Errorf("boom"), "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(AppendValue(nil, tt.value)))
			assert.Equal(t, "x="+tt.want, string(AppendValue([]byte("x="), tt.value)))
		})
	}
}

func TestRender_Concurrent(t *testing.T) {
	pm := positionsFor(t, personStream())

	tmpl, err := Compile(`{"n":{{name}},"a":{{age}}}`)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]string, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := Render(tmpl, []any{fmt.Sprintf("p%d", i), i}, pm)
			if err == nil {
				results[i] = out
			}
		}(i)
	}
	wg.Wait()

	for i, out := range results {
		assert.Equal(t, fmt.Sprintf(`{"n":"p%d","a":%d}`, i, i), out)
	}
}

func TestRender_DeterministicAcrossCalls(t *testing.T) {
	def := &schema.StreamDefinition{
		Name:     "det",
		MetaData: []schema.Attribute{{Name: "ts", Type: schema.TypeLong}},
		PayloadData: []schema.Attribute{
			{Name: "v", Type: schema.TypeDouble},
		},
	}
	pm := positionsFor(t, def)

	tmpl, err := Compile(`{{meta_ts}}:{{v}}:{{ts}}`)
	require.NoError(t, err)

	event := []any{int64(5), 0.25}
	first, err := Render(tmpl, event, pm)
	require.NoError(t, err)
	second, err := Render(tmpl, event, pm)
	require.NoError(t, err)

	assert.Equal(t, "5:0.25:5", first)
	assert.Equal(t, first, second)
}

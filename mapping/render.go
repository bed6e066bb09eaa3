package mapping

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/c360/eventpublisher/schema"
)

// Render substitutes event values into t. Placeholders are resolved through pm.
//
// Textual values are wrapped in double quotes without escaping; every other value is
// written bare. An empty event renders every placeholder as null. A non-empty event
// shorter than a placeholder's index fails with *RenderError.
func Render(t *Template, event []any, pm schema.PositionMap) (string, error) {
	buf := make([]byte, 0, t.literals+16*t.Placeholders())
	buf, err := appendRender(buf, t, event, pm.Index)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// appendRender walks the segments of t, resolving each placeholder with lookup.
func appendRender(buf []byte, t *Template, event []any, lookup func(key string) (int, bool)) ([]byte, error) {
	for i, seg := range t.segments {
		if i%2 == 0 {
			buf = append(buf, seg.Text...)
			continue
		}

		idx, ok := lookup(seg.Text)
		if !ok {
			return buf, &RenderError{Key: seg.Text, Index: -1, Width: len(event)}
		}

		switch {
		case len(event) == 0:
			buf = append(buf, "null"...)
		case idx >= len(event):
			return buf, &RenderError{Key: seg.Text, Index: idx, Width: len(event)}
		default:
			buf = AppendValue(buf, event[idx])
		}
	}
	return buf, nil
}

// renderBound walks the segments of t using pre-resolved indices, one per placeholder.
func renderBound(buf []byte, t *Template, indices []int, event []any) ([]byte, error) {
	for i, seg := range t.segments {
		if i%2 == 0 {
			buf = append(buf, seg.Text...)
			continue
		}

		idx := indices[i/2]
		switch {
		case len(event) == 0:
			buf = append(buf, "null"...)
		case idx >= len(event):
			return buf, &RenderError{Key: seg.Text, Index: idx, Width: len(event)}
		default:
			buf = AppendValue(buf, event[idx])
		}
	}
	return buf, nil
}

// AppendValue appends the rendered form of v to buf.
//
// Strings, byte slices and any type whose underlying kind is string are quoted.
// json.RawMessage and json.Number are written verbatim. nil renders as null.
func AppendValue(buf []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(buf, "null"...)
	case string:
		return appendQuoted(buf, x)
	case []byte:
		buf = append(buf, '"')
		buf = append(buf, x...)
		return append(buf, '"')
	case json.RawMessage:
		if x == nil {
			return append(buf, "null"...)
		}
		return append(buf, x...)
	case json.Number:
		return append(buf, x...)
	case bool:
		return strconv.AppendBool(buf, x)
	case int:
		return strconv.AppendInt(buf, int64(x), 10)
	case int8:
		return strconv.AppendInt(buf, int64(x), 10)
	case int16:
		return strconv.AppendInt(buf, int64(x), 10)
	case int32:
		return strconv.AppendInt(buf, int64(x), 10)
	case int64:
		return strconv.AppendInt(buf, x, 10)
	case uint:
		return strconv.AppendUint(buf, uint64(x), 10)
	case uint8:
		return strconv.AppendUint(buf, uint64(x), 10)
	case uint16:
		return strconv.AppendUint(buf, uint64(x), 10)
	case uint32:
		return strconv.AppendUint(buf, uint64(x), 10)
	case uint64:
		return strconv.AppendUint(buf, x, 10)
	case float32:
		return strconv.AppendFloat(buf, float64(x), 'g', -1, 32)
	case float64:
		return strconv.AppendFloat(buf, x, 'g', -1, 64)
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		return appendQuoted(buf, rv.String())
	}
	return fmt.Append(buf, v)
}

func appendQuoted(buf []byte, s string) []byte {
	buf = append(buf, '"')
	buf = append(buf, s...)
	return append(buf, '"')
}

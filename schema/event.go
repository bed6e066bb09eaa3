package schema

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tidwall/gjson"

	"github.com/c360/eventpublisher/errors"
)

// DecodeEvent converts a JSON document into event values aligned with def's layout.
//
// The document is either a flat array holding every value in layout order, or an object
// with optional "meta", "correlation" and "payload" arrays. An empty array yields an empty
// event. Values are coerced to the Go type of their attribute:
//
//	string -> string     int    -> int32    long   -> int64
//	float  -> float32    double -> float64  bool   -> bool
//	object -> json.RawMessage (rendered verbatim)
//
// JSON null decodes to nil for any type.
func DecodeEvent(def *StreamDefinition, data []byte) ([]any, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: event is not valid JSON", errors.ErrParsingFailed)
	}

	doc := gjson.ParseBytes(data)
	var raw []gjson.Result

	switch {
	case doc.IsArray():
		raw = doc.Array()
		if len(raw) == 0 {
			return []any{}, nil
		}
	case doc.IsObject():
		for _, g := range []Group{Meta, Correlation, Payload} {
			part := doc.Get(g.String())
			if part.Exists() && !part.IsArray() {
				return nil, fmt.Errorf("%w: %q must be an array", errors.ErrInvalidData, g.String())
			}
			values := part.Array()
			if want := len(def.Attributes(g)); len(values) != want {
				return nil, fmt.Errorf("%w: %s section has %d values, stream %s expects %d",
					errors.ErrInvalidData, g, len(values), def.StreamID(), want)
			}
			raw = append(raw, values...)
		}
	default:
		return nil, fmt.Errorf("%w: event must be a JSON array or object", errors.ErrInvalidData)
	}

	attrs := def.Flatten()
	if len(raw) != len(attrs) {
		return nil, fmt.Errorf("%w: event has %d values, stream %s expects %d",
			errors.ErrInvalidData, len(raw), def.StreamID(), len(attrs))
	}

	event := make([]any, len(attrs))
	for i, attr := range attrs {
		v, err := coerce(attr, raw[i])
		if err != nil {
			return nil, err
		}
		event[i] = v
	}
	return event, nil
}

func coerce(attr Attribute, r gjson.Result) (any, error) {
	if r.Type == gjson.Null {
		return nil, nil
	}

	mismatch := func() error {
		return fmt.Errorf("%w: attribute %s expects %s, got %s",
			errors.ErrInvalidData, attr.Name, attr.Type, r.Type)
	}

	switch attr.Type {
	case TypeString:
		if r.Type != gjson.String {
			return nil, mismatch()
		}
		return r.Str, nil
	case TypeInt, TypeLong:
		if r.Type != gjson.Number || r.Num != math.Trunc(r.Num) {
			return nil, mismatch()
		}
		n := r.Int()
		if attr.Type == TypeLong {
			return n, nil
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: attribute %s value %d overflows int", errors.ErrInvalidData, attr.Name, n)
		}
		return int32(n), nil
	case TypeFloat:
		if r.Type != gjson.Number {
			return nil, mismatch()
		}
		return float32(r.Num), nil
	case TypeDouble:
		if r.Type != gjson.Number {
			return nil, mismatch()
		}
		return r.Num, nil
	case TypeBool:
		if r.Type != gjson.True && r.Type != gjson.False {
			return nil, mismatch()
		}
		return r.Bool(), nil
	case TypeObject:
		return json.RawMessage(r.Raw), nil
	default:
		return nil, mismatch()
	}
}

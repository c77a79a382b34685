package value

import (
	"encoding/json"
	"fmt"

	"github.com/buger/jsonparser"
)

// Parse decodes a complete JSON document into a Value, preserving object
// key order. Duplicate keys keep the last value in the first key's slot.
func Parse(data []byte) (any, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	v, dt, _, err := jsonparser.Get(raw)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return decode(v, dt)
}

// ParseObject decodes data and requires the document to be an object.
func ParseObject(data []byte) (*Object, error) {
	v, err := Parse(data)
	if err != nil {
		return nil, err
	}
	obj, ok := AsObject(v)
	if !ok {
		return nil, fmt.Errorf("parse json: document is %s, want object", kindName(v))
	}
	return obj, nil
}

func decode(raw []byte, dt jsonparser.ValueType) (any, error) {
	switch dt {
	case jsonparser.Null:
		return nil, nil
	case jsonparser.Boolean:
		return jsonparser.ParseBoolean(raw)
	case jsonparser.Number:
		return json.Number(string(raw)), nil
	case jsonparser.String:
		return jsonparser.ParseString(raw)
	case jsonparser.Array:
		return decodeArray(raw)
	case jsonparser.Object:
		return decodeObject(raw)
	}
	return nil, fmt.Errorf("parse json: unexpected token %q", raw)
}

func decodeArray(raw []byte) ([]any, error) {
	out := []any{}
	var inner error
	_, err := jsonparser.ArrayEach(raw, func(v []byte, dt jsonparser.ValueType, _ int, err error) {
		if inner != nil {
			return
		}
		if err != nil {
			inner = err
			return
		}
		el, err := decode(v, dt)
		if err != nil {
			inner = err
			return
		}
		out = append(out, el)
	})
	if inner != nil {
		return nil, inner
	}
	if err != nil {
		return nil, fmt.Errorf("parse json array: %w", err)
	}
	return out, nil
}

func decodeObject(raw []byte) (*Object, error) {
	obj := NewObject()
	err := jsonparser.ObjectEach(raw, func(k, v []byte, dt jsonparser.ValueType, _ int) error {
		el, err := decode(v, dt)
		if err != nil {
			return err
		}
		obj.Set(string(k), el)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse json object: %w", err)
	}
	return obj, nil
}

// Marshal encodes v as compact JSON.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndent encodes v with two-space indentation.
func MarshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func kindName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case []any:
		return "array"
	case *Object:
		return "object"
	}
	if IsNumber(v) {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

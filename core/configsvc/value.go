package configsvc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind tags the config value union.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindObject
)

// Value is the explicit tagged union for per-tenant config values: string,
// number, bool or structured object. JSON appears only at the storage
// boundary (Encode/DecodeValue); business logic branches on Kind, never on
// runtime type inspection of raw blobs.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	obj  map[string]any
}

func StringValue(s string) Value        { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value       { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value            { return Value{kind: KindBool, b: b} }
func ObjectValue(m map[string]any) Value { return Value{kind: KindObject, obj: m} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsObject() (map[string]any, bool) {
	return v.obj, v.kind == KindObject
}

// Equal compares two values structurally.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == other.str
	case KindNumber:
		return v.num == other.num
	case KindBool:
		return v.b == other.b
	default:
		a, _ := json.Marshal(v.obj)
		b, _ := json.Marshal(other.obj)
		return string(a) == string(b)
	}
}

// Encode normalizes the value to its stored JSON form.
func (v Value) Encode() (json.RawMessage, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindObject:
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("encode config value: unknown kind %d", v.kind)
}

// DecodeValue denormalizes a stored JSON value back into the union.
func DecodeValue(raw json.RawMessage) (Value, error) {
	var any0 any
	if err := json.Unmarshal(raw, &any0); err != nil {
		return Value{}, fmt.Errorf("decode config value: %w", err)
	}
	switch t := any0.(type) {
	case string:
		return StringValue(t), nil
	case float64:
		return NumberValue(t), nil
	case bool:
		return BoolValue(t), nil
	case map[string]any:
		return ObjectValue(t), nil
	}
	return Value{}, fmt.Errorf("decode config value: unsupported json shape")
}

// legacyString renders the value into the text shape a legacy tenants column
// holds. Objects fall back to compact JSON.
func (v Value) legacyString() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		raw, _ := json.Marshal(v.obj)
		return string(raw)
	}
}

package fieldcodec

import (
	"encoding/base64"
	"strconv"
)

// Value is a typed field value. The zero Value is an empty STRING.
type Value struct {
	typ Type
	str string
	b   bool
	f   float64
	raw []byte
}

// StringValue returns a STRING value.
func StringValue(s string) Value { return Value{typ: String, str: s} }

// BoolValue returns a BOOLEAN value.
func BoolValue(b bool) Value { return Value{typ: Boolean, b: b} }

// DoubleValue returns a DOUBLE value.
func DoubleValue(f float64) Value { return Value{typ: Double, f: f} }

// ComplexValue returns a COMPLEX value holding an opaque byte payload.
// A nil or empty payload is valid.
func ComplexValue(raw []byte) Value {
	if raw == nil {
		raw = []byte{}
	}
	return Value{typ: Complex, raw: raw}
}

// Type returns the value's type tag.
func (v Value) Type() Type { return v.typ }

// Str returns the STRING payload, or "" for other types.
func (v Value) Str() string { return v.str }

// Bool returns the BOOLEAN payload, or false for other types.
func (v Value) Bool() bool { return v.b }

// Float returns the DOUBLE payload, or 0 for other types.
func (v Value) Float() float64 { return v.f }

// Bytes returns the COMPLEX payload, or nil for other types.
func (v Value) Bytes() []byte { return v.raw }

// Interface returns the payload as a plain Go value (string, bool, float64 or []byte).
func (v Value) Interface() any {
	switch v.typ {
	case Boolean:
		return v.b
	case Double:
		return v.f
	case Complex:
		return v.raw
	default:
		return v.str
	}
}

// Format renders the payload for display; COMPLEX payloads are base64.
func (v Value) Format() string {
	switch v.typ {
	case Boolean:
		return strconv.FormatBool(v.b)
	case Double:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case Complex:
		return base64.StdEncoding.EncodeToString(v.raw)
	default:
		return v.str
	}
}

// Parse builds a value of type t from its textual form (the inverse of Format).
func Parse(t Type, text string) (Value, error) {
	switch t {
	case String:
		return StringValue(text), nil
	case Boolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case Double:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, err
		}
		return DoubleValue(f), nil
	case Complex:
		raw, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return Value{}, err
		}
		return ComplexValue(raw), nil
	default:
		return Value{}, ErrUnknownType
	}
}

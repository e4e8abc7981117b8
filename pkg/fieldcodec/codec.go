package fieldcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Type is the one-byte tag that prefixes every field blob.
type Type uint8

const (
	String  Type = 0
	Boolean Type = 1
	Double  Type = 2
	Complex Type = 3
)

const (
	tagLen    = 1
	boolLen   = 1
	doubleLen = 8
)

var (
	// ErrDataLen is returned when a blob is shorter than its tag requires.
	ErrDataLen = errors.New("fieldcodec: blob too short")

	// ErrTypeMismatch is returned when a blob's tag differs from the expected type.
	ErrTypeMismatch = errors.New("fieldcodec: type mismatch")

	// ErrUnknownType is returned for tags outside the defined set.
	ErrUnknownType = errors.New("fieldcodec: unknown type")
)

// String returns the lower-case name of the type.
func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case Boolean:
		return "boolean"
	case Double:
		return "double"
	case Complex:
		return "complex"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the defined tags.
func (t Type) Valid() bool {
	return t <= Complex
}

// ParseType converts a type name (as printed by Type.String) to a Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "string", "str":
		return String, nil
	case "boolean", "bool":
		return Boolean, nil
	case "double", "float":
		return Double, nil
	case "complex", "bytes":
		return Complex, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
}

// payloadLen is the minimum payload length a blob of type t must carry.
func payloadLen(t Type) int {
	switch t {
	case Boolean:
		return boolLen
	case Double:
		return doubleLen
	default:
		return 0
	}
}

// Encode serializes v into a field blob.
func Encode(v Value) ([]byte, error) {
	switch v.typ {
	case String:
		return appendTagged(String, []byte(v.str)), nil
	case Complex:
		return appendTagged(Complex, v.raw), nil
	case Boolean:
		buf := make([]byte, tagLen+boolLen)
		buf[0] = byte(Boolean)
		if v.b {
			buf[1] = 1
		}
		return buf, nil
	case Double:
		buf := make([]byte, tagLen+doubleLen)
		buf[0] = byte(Double)
		binary.BigEndian.PutUint64(buf[tagLen:], math.Float64bits(v.f))
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(v.typ))
	}
}

func appendTagged(t Type, payload []byte) []byte {
	buf := make([]byte, tagLen+len(payload))
	buf[0] = byte(t)
	copy(buf[tagLen:], payload)
	return buf
}

// DecodeType reads only the tag byte of blob.
func DecodeType(blob []byte) (Type, error) {
	if len(blob) < tagLen {
		return 0, ErrDataLen
	}
	t := Type(blob[0])
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownType, blob[0])
	}
	return t, nil
}

// Decode parses blob as a value of the expected type.
//
// A blob shorter than the tag plus the minimum payload for expected fails
// with ErrDataLen; a blob carrying a different tag fails with ErrTypeMismatch.
func Decode(blob []byte, expected Type) (Value, error) {
	if !expected.Valid() {
		return Value{}, fmt.Errorf("%w: %d", ErrUnknownType, uint8(expected))
	}
	if len(blob) < tagLen+payloadLen(expected) {
		return Value{}, fmt.Errorf("%w: %s needs %d bytes, got %d",
			ErrDataLen, expected, tagLen+payloadLen(expected), len(blob))
	}
	if got := Type(blob[0]); got != expected {
		return Value{}, fmt.Errorf("%w: stored %s, requested %s", ErrTypeMismatch, got, expected)
	}

	payload := blob[tagLen:]
	switch expected {
	case String:
		return StringValue(string(payload)), nil
	case Complex:
		raw := make([]byte, len(payload))
		copy(raw, payload)
		return ComplexValue(raw), nil
	case Boolean:
		return BoolValue(payload[0] != 0), nil
	default:
		return DoubleValue(math.Float64frombits(binary.BigEndian.Uint64(payload[:doubleLen]))), nil
	}
}

// DecodeAny decodes blob using the type stored in its own tag.
func DecodeAny(blob []byte) (Value, error) {
	t, err := DecodeType(blob)
	if err != nil {
		return Value{}, err
	}
	return Decode(blob, t)
}

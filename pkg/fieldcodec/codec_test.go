package fieldcodec

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncode_WireFormat(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  []byte
	}{
		{"string", StringValue("abc"), []byte{0, 'a', 'b', 'c'}},
		{"empty string", StringValue(""), []byte{0}},
		{"bool true", BoolValue(true), []byte{1, 1}},
		{"bool false", BoolValue(false), []byte{1, 0}},
		{"double one", DoubleValue(1.0), []byte{2, 0x3f, 0xf0, 0, 0, 0, 0, 0, 0}},
		{"double negative zero", DoubleValue(math.Copysign(0, -1)), []byte{2, 0x80, 0, 0, 0, 0, 0, 0, 0}},
		{"complex", ComplexValue([]byte{0xde, 0xad}), []byte{3, 0xde, 0xad}},
		{"complex empty", ComplexValue(nil), []byte{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Encode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	values := []Value{
		StringValue(""),
		StringValue("zhangsan"),
		StringValue("多字节"),
		BoolValue(true),
		BoolValue(false),
		DoubleValue(0),
		DoubleValue(-1.5),
		DoubleValue(math.MaxFloat64),
		DoubleValue(math.SmallestNonzeroFloat64),
		DoubleValue(math.Inf(-1)),
		ComplexValue(nil),
		ComplexValue([]byte{0, 1, 2, 255}),
	}

	for _, v := range values {
		blob, err := Encode(v)
		if err != nil {
			t.Fatalf("Encode(%s %q) error = %v", v.Type(), v.Format(), err)
		}
		got, err := Decode(blob, v.Type())
		if err != nil {
			t.Fatalf("Decode(%s %q) error = %v", v.Type(), v.Format(), err)
		}
		if got.Type() != v.Type() {
			t.Errorf("type = %s, want %s", got.Type(), v.Type())
		}
		switch v.Type() {
		case String:
			if got.Str() != v.Str() {
				t.Errorf("string = %q, want %q", got.Str(), v.Str())
			}
		case Boolean:
			if got.Bool() != v.Bool() {
				t.Errorf("bool = %v, want %v", got.Bool(), v.Bool())
			}
		case Double:
			if got.Float() != v.Float() {
				t.Errorf("double = %v, want %v", got.Float(), v.Float())
			}
		case Complex:
			if !bytes.Equal(got.Bytes(), v.Bytes()) {
				t.Errorf("complex = %x, want %x", got.Bytes(), v.Bytes())
			}
			if got.Bytes() == nil {
				t.Error("complex payload should decode to an empty slice, not nil")
			}
		}
	}
}

func TestRoundTrip_NaN(t *testing.T) {
	blob, err := Encode(DoubleValue(math.NaN()))
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(blob, Double)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(got.Float()) {
		t.Errorf("expected NaN, got %v", got.Float())
	}
}

func TestDecode_ShortBlob(t *testing.T) {
	tests := []struct {
		name     string
		blob     []byte
		expected Type
	}{
		{"empty string blob", nil, String},
		{"empty complex blob", []byte{}, Complex},
		{"bool without payload", []byte{1}, Boolean},
		{"double with 7 bytes", []byte{2, 0, 0, 0, 0, 0, 0, 0}, Double},
		{"double tag only", []byte{2}, Double},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.blob, tt.expected)
			if !errors.Is(err, ErrDataLen) {
				t.Errorf("Decode() error = %v, want ErrDataLen", err)
			}
		})
	}
}

func TestDecode_TypeMismatch(t *testing.T) {
	blob, _ := Encode(StringValue("x"))
	if _, err := Decode(blob, Complex); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Decode() error = %v, want ErrTypeMismatch", err)
	}
}

func TestDecodeType(t *testing.T) {
	if _, err := DecodeType(nil); !errors.Is(err, ErrDataLen) {
		t.Errorf("DecodeType(nil) error = %v, want ErrDataLen", err)
	}
	if _, err := DecodeType([]byte{9}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("DecodeType([9]) error = %v, want ErrUnknownType", err)
	}

	blob, _ := Encode(DoubleValue(3.25))
	typ, err := DecodeType(blob)
	if err != nil {
		t.Fatal(err)
	}
	if typ != Double {
		t.Errorf("DecodeType() = %s, want double", typ)
	}
}

func TestParseAndFormat(t *testing.T) {
	tests := []struct {
		typ  Type
		text string
	}{
		{String, "hello"},
		{Boolean, "true"},
		{Double, "2.5"},
		{Complex, "3q2+7w=="},
	}
	for _, tt := range tests {
		v, err := Parse(tt.typ, tt.text)
		if err != nil {
			t.Fatalf("Parse(%s, %q) error = %v", tt.typ, tt.text, err)
		}
		if got := v.Format(); got != tt.text {
			t.Errorf("Format() = %q, want %q", got, tt.text)
		}
	}

	if _, err := ParseType("nope"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("ParseType() error = %v, want ErrUnknownType", err)
	}
}

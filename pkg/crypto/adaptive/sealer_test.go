package adaptive

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

var key32 = bytes.Repeat([]byte{7}, 32)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", KindAuto, false},
		{"AES-GCM", KindAESGCM, false},
		{"chacha20-poly1305", KindChaCha20, false},
		{"rot13", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseKind(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey(strings.Repeat("ab", 32))
	if err != nil || len(key) != 32 {
		t.Fatalf("ParseKey() = %d bytes, %v", len(key), err)
	}
	if _, err := ParseKey("abcd"); !errors.Is(err, ErrKeySize) {
		t.Errorf("short key error = %v, want ErrKeySize", err)
	}
	if _, err := ParseKey("zz"); err == nil {
		t.Error("non-hex key accepted")
	}
}

func TestNewWithKind_KeySizes(t *testing.T) {
	if _, err := NewWithKind(make([]byte, 16), KindAESGCM); err != nil {
		t.Errorf("aes-128 error = %v", err)
	}
	if _, err := NewWithKind(make([]byte, 16), KindChaCha20); !errors.Is(err, ErrKeySize) {
		t.Errorf("chacha with 16 bytes error = %v, want ErrKeySize", err)
	}
	if _, err := NewWithKind(key32, "des"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind error = %v", err)
	}
	s, err := New(key32)
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind() == KindAuto {
		t.Error("New() left kind unresolved")
	}
}

func TestSealOpen(t *testing.T) {
	for _, kind := range []Kind{KindAESGCM, KindChaCha20} {
		t.Run(string(kind), func(t *testing.T) {
			s, err := NewWithKind(key32, kind)
			if err != nil {
				t.Fatal(err)
			}
			aad := []byte("demo.app/s1/name")

			for _, plain := range [][]byte{{}, []byte("zhangsan"), bytes.Repeat([]byte{0xff}, 1024)} {
				sealed, err := s.Seal(plain, aad)
				if err != nil {
					t.Fatal(err)
				}
				if len(sealed) != len(plain)+s.Overhead() {
					t.Errorf("sealed length = %d, want %d", len(sealed), len(plain)+s.Overhead())
				}
				got, err := s.Open(sealed, aad)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, plain) {
					t.Errorf("Open() = %x, want %x", got, plain)
				}
			}
		})
	}
}

func TestOpen_Rejects(t *testing.T) {
	aes, _ := NewWithKind(key32, KindAESGCM)
	chacha, _ := NewWithKind(key32, KindChaCha20)

	sealed, err := aes.Seal([]byte("secret"), []byte("a"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := aes.Open(sealed, []byte("b")); err == nil {
		t.Error("Open with different aad succeeded")
	}
	if _, err := chacha.Open(sealed, []byte("a")); !errors.Is(err, ErrKindMismatch) {
		t.Errorf("cross-kind Open error = %v, want ErrKindMismatch", err)
	}

	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 1
	if _, err := aes.Open(tampered, []byte("a")); err == nil {
		t.Error("Open of tampered value succeeded")
	}
	if _, err := aes.Open(sealed[:5], []byte("a")); !errors.Is(err, ErrShortCiphertext) {
		t.Errorf("short value error = %v, want ErrShortCiphertext", err)
	}
}

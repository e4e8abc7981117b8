package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Kind identifies the AEAD algorithm of a Sealer.
type Kind string

const (
	KindAuto     Kind = "auto"
	KindAESGCM   Kind = "aes-gcm"
	KindChaCha20 Kind = "chacha20-poly1305"
)

// Header bytes written in front of every sealed value.
const (
	headerAESGCM   byte = 0xA1
	headerChaCha20 byte = 0xC1
)

var (
	ErrUnknownKind     = errors.New("adaptive: unknown cipher kind")
	ErrKeySize         = errors.New("adaptive: invalid key size")
	ErrShortCiphertext = errors.New("adaptive: sealed value too short")
	ErrKindMismatch    = errors.New("adaptive: sealed with a different cipher")
)

// ParseKind parses a configured cipher name. The empty string means auto.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindAuto:
		return KindAuto, nil
	case KindAESGCM, KindChaCha20:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// ParseKey decodes a hex encoded key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("adaptive: decode key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrKeySize, len(key))
	}
}

// Sealer encrypts and authenticates small values. It is safe for
// concurrent use.
type Sealer struct {
	kind   Kind
	header byte
	aead   cipher.AEAD
}

// New creates a Sealer, picking AES-GCM where the CPU accelerates it and
// ChaCha20-Poly1305 elsewhere.
func New(key []byte) (*Sealer, error) {
	return NewWithKind(key, KindAuto)
}

// NewWithKind creates a Sealer of the given kind.
func NewWithKind(key []byte, kind Kind) (*Sealer, error) {
	if kind == KindAuto {
		kind = preferredKind()
	}

	switch kind {
	case KindAESGCM:
		switch len(key) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("%w: aes-gcm needs 16, 24 or 32 bytes, got %d", ErrKeySize, len(key))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &Sealer{kind: kind, header: headerAESGCM, aead: aead}, nil

	case KindChaCha20:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("%w: chacha20-poly1305 needs %d bytes, got %d",
				ErrKeySize, chacha20poly1305.KeySize, len(key))
		}
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, err
		}
		return &Sealer{kind: kind, header: headerChaCha20, aead: aead}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// preferredKind returns AES-GCM on architectures where Go's crypto/aes
// uses hardware instructions.
func preferredKind() Kind {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return KindAESGCM
	default:
		return KindChaCha20
	}
}

// Kind returns the algorithm in use.
func (s *Sealer) Kind() Kind { return s.kind }

// Overhead returns the bytes Seal adds to a plaintext.
func (s *Sealer) Overhead() int {
	return 1 + s.aead.NonceSize() + s.aead.Overhead()
}

// Seal returns header | nonce | ciphertext. aad is authenticated but not
// stored.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	out := make([]byte, 1+s.aead.NonceSize(), s.Overhead()+len(plaintext))
	out[0] = s.header
	nonce := out[1:]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("adaptive: read nonce: %w", err)
	}
	return s.aead.Seal(out, nonce, plaintext, aad), nil
}

// Open reverses Seal. It fails when the value was sealed by another
// algorithm, was altered, or aad differs.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	if len(sealed) < s.Overhead() {
		return nil, ErrShortCiphertext
	}
	if sealed[0] != s.header {
		return nil, ErrKindMismatch
	}
	n := 1 + s.aead.NonceSize()
	plaintext, err := s.aead.Open(nil, sealed[1:n], sealed[n:], aad)
	if err != nil {
		return nil, fmt.Errorf("adaptive: open: %w", err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// Package adaptive seals values with an AEAD cipher chosen for the host.
//
// AES-GCM is used where the CPU accelerates AES and ChaCha20-Poly1305
// otherwise. Sealed values carry a one-byte header naming the algorithm,
// followed by the nonce and the ciphertext.
//
// Usage:
//
//	s, err := adaptive.New(key)
//	sealed, err := s.Seal(value, aad)
//	value, err := s.Open(sealed, aad)
//
// @adr AD-0201
package adaptive

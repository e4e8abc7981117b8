// Package fieldcodec encodes typed session field values to and from the
// byte blobs stored in a session table.
//
// Blob layout (bit-exact, shared by every store on the same substrate):
//
//	byte 0:      type tag (0=STRING, 1=BOOLEAN, 2=DOUBLE, 3=COMPLEX)
//	bytes 1..N:  STRING/COMPLEX -> raw payload (length = blob length - 1)
//	             BOOLEAN        -> 1 byte, 0 or 1
//	             DOUBLE         -> 8 bytes, big-endian IEEE-754 bit pattern
//
// The codec is pure: it knows nothing about sessions, tables or keys.
//
// @design DS-0201
package fieldcodec

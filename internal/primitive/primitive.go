// Package primitive wraps the fixed-width Ed25519 and SHA-512 primitives
// the HSM controller treats as black boxes: 32-byte keys, 64-byte digests
// and signatures, deterministic per key. No key material is retained here;
// every function is a pure transformation over caller-supplied buffers.
package primitive

import (
	"crypto/ed25519"
	"crypto/sha512"
	"errors"
	"io"
)

// KeySize is the width, in bytes, of a public key, a private key seed, a
// mobile mask, and an encrypted key.
const KeySize = ed25519.SeedSize // 32

// SignatureSize is the width, in bytes, of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize // 64

// DigestSize is the width, in bytes, of a SHA-512 digest.
const DigestSize = sha512.Size // 64

// ErrInvalidKeySize is returned when a caller supplies a buffer of the
// wrong width to one of the fixed-size operations below.
var ErrInvalidKeySize = errors.New("primitive: key or buffer has the wrong size")

// GeneratePrivate draws KeySize bytes of key material from rnd and returns
// them as an Ed25519 seed. Callers pass an entropy.Pool (see internal/entropy)
// as rnd so hardware sources can be mixed in; any io.Reader that returns
// cryptographically random bytes works, including crypto/rand.Reader.
func GeneratePrivate(rnd io.Reader) ([]byte, error) {
	seed := make([]byte, KeySize)
	if _, err := io.ReadFull(rnd, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// DerivePublic returns the 32-byte Ed25519 public key for a 32-byte seed.
func DerivePublic(private []byte) ([]byte, error) {
	if len(private) != KeySize {
		return nil, ErrInvalidKeySize
	}
	full := ed25519.NewKeyFromSeed(private)
	pub, ok := full.Public().(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidKeySize
	}
	return []byte(pub), nil
}

// Sign produces a 64-byte Ed25519 signature over msg using the private seed
// and its corresponding public key. public is not strictly needed by the
// underlying primitive (it can be re-derived from private) but is required
// here so callers always sign with an explicit, verified pairing rather
// than an implicit one.
func Sign(private, public, msg []byte) ([]byte, error) {
	if len(private) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(public) != KeySize {
		return nil, ErrInvalidKeySize
	}
	full := ed25519.NewKeyFromSeed(private)
	derived, ok := full.Public().(ed25519.PublicKey)
	if !ok || string(derived) != string(public) {
		return nil, ErrInvalidKeySize
	}
	return ed25519.Sign(full, msg), nil
}

// Verify reports whether sig is a valid Ed25519 signature over msg for the
// given 32-byte public key.
func Verify(sig, public, msg []byte) bool {
	if len(sig) != SignatureSize || len(public) != KeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(public), msg, sig)
}

// Digest returns the 64-byte SHA-512 digest of msg.
func Digest(msg []byte) []byte {
	sum := sha512.Sum512(msg)
	return sum[:]
}

// XOR writes a[i] xor b[i] into a freshly allocated KeySize buffer. Used
// both to mask a private key with a mobile-supplied secret and, later, to
// unmask it — the operation is its own inverse.
func XOR(a, b []byte) ([]byte, error) {
	if len(a) != KeySize || len(b) != KeySize {
		return nil, ErrInvalidKeySize
	}
	out := make([]byte, KeySize)
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out, nil
}

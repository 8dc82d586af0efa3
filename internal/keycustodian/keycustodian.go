// Package keycustodian owns the RAM copies of the current and previous
// (publicKey, encryptedKey) pairs and every transient buffer used to
// reconstruct a plaintext private key, per spec.md §4.6.
package keycustodian

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"hsmd/internal/primitive"
	"hsmd/internal/securebytes"
)

// KeySize is the width, in bytes, of a mask, a public key, or an
// encrypted key.
const KeySize = primitive.KeySize

// SignatureSize is the width, in bytes, of an Ed25519 signature.
const SignatureSize = primitive.SignatureSize

// ErrRejected is the single uniform failure surfaced for every refusal:
// wrong precondition, failed self-test, or invalid input length. Callers
// must not be able to distinguish these cases (spec.md §7).
var ErrRejected = errors.New("keycustodian: rejected")

// Pair is a (publicKey, encryptedKey) pair as persisted in a StateBlob.
// encryptedKey is mask XOR privateKey; the plaintext private key is never
// stored here.
type Pair struct {
	PublicKey    [KeySize]byte
	EncryptedKey [KeySize]byte
}

// Custodian holds the current and, transiently, the previous key pair.
// It is not safe for concurrent use; the HSMController above it serializes
// all access per spec.md §5.
type Custodian struct {
	rand io.Reader

	hasCurrent  bool
	hasPrevious bool
	current     Pair
	previous    Pair

	lastMaskFingerprint [sha256.Size]byte
	haveLastFingerprint bool
}

// New builds a Custodian that draws fresh private keys from rnd (normally
// an entropy.Pool). A nil rnd defaults to crypto/rand.
func New(rnd io.Reader) *Custodian {
	if rnd == nil {
		rnd = rand.Reader
	}
	return &Custodian{rand: rnd}
}

// LoadCurrent installs a persisted current pair, e.g. on boot from a
// StateBlob with keyCount == 1 or 2.
func (c *Custodian) LoadCurrent(pair Pair) {
	c.current = pair
	c.hasCurrent = true
}

// LoadPrevious installs a persisted previous pair, e.g. on boot from a
// StateBlob with keyCount == 2.
func (c *Custodian) LoadPrevious(pair Pair) {
	c.previous = pair
	c.hasPrevious = true
}

// Current returns the current pair and whether one is loaded.
func (c *Custodian) Current() (Pair, bool) { return c.current, c.hasCurrent }

// Previous returns the previous pair and whether one is loaded.
func (c *Custodian) Previous() (Pair, bool) { return c.previous, c.hasPrevious }

// checkMaskFresh rejects a mask identical to the one used by the previous
// generate/rotate call, per spec.md §9's one-time-pad requirement. It
// never retains the raw mask, only an unsalted SHA-256 fingerprint of it.
func (c *Custodian) checkMaskFresh(mask []byte) error {
	fp := fingerprint(mask)
	if c.haveLastFingerprint && securebytes.ConstantTimeEqual(fp[:], c.lastMaskFingerprint[:]) {
		return ErrRejected
	}
	return nil
}

func (c *Custodian) rememberMask(mask []byte) {
	c.lastMaskFingerprint = fingerprint(mask)
	c.haveLastFingerprint = true
}

// fingerprint is a plain SHA-256 of the mask, retained only in RAM for
// exactly as long as it takes to reject an immediate repeat. The 32-byte
// secret itself is never retained.
func fingerprint(mask []byte) [sha256.Size]byte {
	return sha256.Sum256(mask)
}

// selfTest proves that candidate reconstructs the private key matching
// public by signing candidate's own bytes and verifying against public,
// per spec.md §4.6's pair self-test.
func selfTest(candidate, public []byte) bool {
	sig, err := primitive.Sign(candidate, public, candidate)
	if err != nil {
		return false
	}
	return primitive.Verify(sig, public, candidate)
}

// GenerateKeys implements spec.md §4.6 generateKeys(newMask). newMask is
// consumed but never retained beyond its fingerprint.
func (c *Custodian) GenerateKeys(newMask []byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	if len(newMask) != KeySize {
		return out, ErrRejected
	}
	if err := c.checkMaskFresh(newMask); err != nil {
		return out, err
	}

	private := securebytes.New(KeySize)
	defer private.Destroy()

	priv, err := primitive.GeneratePrivate(c.rand)
	if err != nil {
		return out, ErrRejected
	}
	copy(private.Bytes(), priv)
	securebytes.Wipe(priv)

	public, err := primitive.DerivePublic(private.Bytes())
	if err != nil {
		return out, ErrRejected
	}

	encrypted, err := primitive.XOR(newMask, private.Bytes())
	if err != nil {
		return out, ErrRejected
	}

	c.current = Pair{}
	copy(c.current.PublicKey[:], public)
	copy(c.current.EncryptedKey[:], encrypted)
	c.hasCurrent = true
	c.hasPrevious = false
	c.previous = Pair{}

	c.rememberMask(newMask)
	copy(out[:], public)
	return out, nil
}

// RotateKeys implements spec.md §4.6 rotateKeys(existingMask, newMask).
func (c *Custodian) RotateKeys(existingMask, newMask []byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	if !c.hasCurrent || len(existingMask) != KeySize || len(newMask) != KeySize {
		return out, ErrRejected
	}
	if err := c.checkMaskFresh(newMask); err != nil {
		return out, err
	}

	candidate := securebytes.New(KeySize)
	defer candidate.Destroy()

	unmasked, err := primitive.XOR(existingMask, c.current.EncryptedKey[:])
	if err != nil {
		return out, ErrRejected
	}
	copy(candidate.Bytes(), unmasked)
	securebytes.Wipe(unmasked)

	if !selfTest(candidate.Bytes(), c.current.PublicKey[:]) {
		return out, ErrRejected
	}

	fresh := securebytes.New(KeySize)
	defer fresh.Destroy()

	priv, err := primitive.GeneratePrivate(c.rand)
	if err != nil {
		return out, ErrRejected
	}
	copy(fresh.Bytes(), priv)
	securebytes.Wipe(priv)

	freshPublic, err := primitive.DerivePublic(fresh.Bytes())
	if err != nil {
		return out, ErrRejected
	}
	freshEncrypted, err := primitive.XOR(newMask, fresh.Bytes())
	if err != nil {
		return out, ErrRejected
	}

	c.previous = c.current
	c.hasPrevious = true

	c.current = Pair{}
	copy(c.current.PublicKey[:], freshPublic)
	copy(c.current.EncryptedKey[:], freshEncrypted)

	c.rememberMask(newMask)
	copy(out[:], freshPublic)
	return out, nil
}

// SignBytes implements spec.md §4.6 signBytes(mask, message). usePrevious
// selects which pair to consume, per the TwoKeyPairs-vs-OneKeyPair rule in
// spec.md §4.5; the HSMController derives it from the current state.
func (c *Custodian) SignBytes(mask, message []byte, usePrevious bool) ([SignatureSize]byte, error) {
	var out [SignatureSize]byte
	if len(mask) != KeySize {
		return out, ErrRejected
	}

	var pair Pair
	var have bool
	if usePrevious {
		pair, have = c.previous, c.hasPrevious
	} else {
		pair, have = c.current, c.hasCurrent
	}
	if !have {
		return out, ErrRejected
	}

	candidate := securebytes.New(KeySize)
	defer candidate.Destroy()

	unmasked, err := primitive.XOR(mask, pair.EncryptedKey[:])
	if err != nil {
		return out, ErrRejected
	}
	copy(candidate.Bytes(), unmasked)
	securebytes.Wipe(unmasked)

	if !selfTest(candidate.Bytes(), pair.PublicKey[:]) {
		return out, ErrRejected
	}

	sig, err := primitive.Sign(candidate.Bytes(), pair.PublicKey[:], message)
	if err != nil {
		return out, ErrRejected
	}
	copy(out[:], sig)

	if usePrevious {
		c.previous = Pair{}
		c.hasPrevious = false
	}
	return out, nil
}

// DigestBytes implements spec.md §4.6 digestBytes(message): a stateless
// SHA-512 with no key material involved.
func DigestBytes(message []byte) [primitive.DigestSize]byte {
	var out [primitive.DigestSize]byte
	copy(out[:], primitive.Digest(message))
	return out
}

// ValidSignature implements spec.md §4.6 validSignature(publicKey,
// signature, message): a stateless Ed25519 verify against a
// caller-supplied public key, never the controller's own key material.
func ValidSignature(publicKey, signature, message []byte) bool {
	if len(publicKey) != KeySize || len(signature) != SignatureSize {
		return false
	}
	return primitive.Verify(signature, publicKey, message)
}

// EraseKeys zeroizes the current and previous RAM pairs.
func (c *Custodian) EraseKeys() {
	securebytes.Wipe(c.current.PublicKey[:])
	securebytes.Wipe(c.current.EncryptedKey[:])
	securebytes.Wipe(c.previous.PublicKey[:])
	securebytes.Wipe(c.previous.EncryptedKey[:])
	c.current = Pair{}
	c.previous = Pair{}
	c.hasCurrent = false
	c.hasPrevious = false
}

// Package hsm implements HSMController, the thin coordinator from
// spec.md §4.7: parse request, consult the state machine, gate on
// consent, delegate to the key custodian, persist, advance state,
// zeroize, and return a uniform result.
package hsm

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"hsmd/internal/consent"
	"hsmd/internal/keycustodian"
	"hsmd/internal/securebytes"
	"hsmd/internal/statemachine"
	"hsmd/internal/store"
)

// ErrRejected is the single error surfaced to every caller. Per spec.md
// §7 its cause — wrong state, wrong mask, consent timeout, or an internal
// invariant violation — is deliberately indistinguishable from outside.
var ErrRejected = errors.New("hsm: rejected")

// Controller is the top-level HSM coordinator. It is not safe for
// concurrent use: spec.md §5 requires single-threaded, cooperative
// scheduling, so callers must serialize requests themselves (the ipc
// server does this with one connection at a time).
type Controller struct {
	store     *store.Store
	custodian *keycustodian.Custodian
	gate      *consent.Gate
	logger    *slog.Logger

	state statemachine.State
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithLogger attaches a structured logger. Without one, log lines are
// discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// Open boots a Controller from the blob persisted at st, drawing fresh key
// material from rnd and gating security-sensitive operations through
// gate. Open never fails on a missing or malformed blob: per spec.md
// §4.3 that boots into NoKeyPairs.
func Open(st *store.Store, rnd io.Reader, gate *consent.Gate, opts ...Option) *Controller {
	c := &Controller{
		store:     st,
		custodian: keycustodian.New(rnd),
		gate:      gate,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	blob := store.Decode(st.Load())
	c.state = statemachine.FromKeyCount(blob.KeyCount)
	if blob.KeyCount >= 1 {
		c.custodian.LoadCurrent(keycustodian.Pair{PublicKey: blob.CurrentPublic, EncryptedKey: blob.CurrentEncrypted})
	}
	if blob.KeyCount >= 2 {
		c.custodian.LoadPrevious(keycustodian.Pair{PublicKey: blob.PreviousPublic, EncryptedKey: blob.PreviousEncrypted})
	}
	c.logger.Info("hsm controller booted", slog.String("state", c.state.String()))
	return c
}

// State reports the controller's current state, mainly for diagnostics
// and tests; callers cannot infer anything from it they couldn't already
// infer from which subsequent requests succeed.
func (c *Controller) State() statemachine.State {
	return c.state
}

func (c *Controller) persist() error {
	var blob store.Blob
	blob.KeyCount = c.state.KeyCount()
	if current, ok := c.custodian.Current(); ok {
		blob.CurrentPublic = current.PublicKey
		blob.CurrentEncrypted = current.EncryptedKey
	}
	if previous, ok := c.custodian.Previous(); ok {
		blob.PreviousPublic = previous.PublicKey
		blob.PreviousEncrypted = previous.EncryptedKey
	}
	return c.store.Save(blob.Encode())
}

func (c *Controller) awaitConsent(ctx context.Context) bool {
	if c.gate == nil {
		return true
	}
	return c.gate.Await(ctx)
}

// GenerateKeys implements spec.md §6's generateKeys request.
func (c *Controller) GenerateKeys(ctx context.Context, newMask []byte) ([keycustodian.KeySize]byte, error) {
	var out [keycustodian.KeySize]byte
	defer securebytes.Wipe(newMask)

	if !statemachine.Admissible(c.state, statemachine.GenerateKeys) {
		return out, c.reject("generateKeys", "inadmissible state")
	}
	if !c.awaitConsent(ctx) {
		return out, c.reject("generateKeys", "consent timeout")
	}

	pub, err := c.custodian.GenerateKeys(newMask)
	if err != nil {
		return out, c.reject("generateKeys", "custodian refused")
	}

	c.state = statemachine.Next(c.state, statemachine.GenerateKeys)
	if err := c.persist(); err != nil {
		return out, c.rejectErr("generateKeys", err)
	}
	c.logger.Info("generateKeys succeeded", slog.String("state", c.state.String()))
	return pub, nil
}

// RotateKeys implements spec.md §6's rotateKeys request.
func (c *Controller) RotateKeys(ctx context.Context, existingMask, newMask []byte) ([keycustodian.KeySize]byte, error) {
	var out [keycustodian.KeySize]byte
	defer securebytes.Wipe(existingMask)
	defer securebytes.Wipe(newMask)

	if !statemachine.Admissible(c.state, statemachine.RotateKeys) {
		return out, c.reject("rotateKeys", "inadmissible state")
	}
	if !c.awaitConsent(ctx) {
		return out, c.reject("rotateKeys", "consent timeout")
	}

	pub, err := c.custodian.RotateKeys(existingMask, newMask)
	if err != nil {
		return out, c.reject("rotateKeys", "custodian refused")
	}

	c.state = statemachine.Next(c.state, statemachine.RotateKeys)
	if err := c.persist(); err != nil {
		return out, c.rejectErr("rotateKeys", err)
	}
	c.logger.Info("rotateKeys succeeded", slog.String("state", c.state.String()))
	return pub, nil
}

// SignBytes implements spec.md §6's signBytes request. It selects the
// previous pair when the controller is in TwoKeyPairs, else the current
// pair, per spec.md §4.5/§4.6.
func (c *Controller) SignBytes(ctx context.Context, mask, message []byte) ([keycustodian.SignatureSize]byte, error) {
	var out [keycustodian.SignatureSize]byte
	defer securebytes.Wipe(mask)

	if !statemachine.Admissible(c.state, statemachine.SignBytes) {
		return out, c.reject("signBytes", "inadmissible state")
	}
	if !c.awaitConsent(ctx) {
		return out, c.reject("signBytes", "consent timeout")
	}

	usePrevious := c.state == statemachine.TwoKeyPairs
	sig, err := c.custodian.SignBytes(mask, message, usePrevious)
	if err != nil {
		return out, c.reject("signBytes", "custodian refused")
	}

	c.state = statemachine.Next(c.state, statemachine.SignBytes)
	if err := c.persist(); err != nil {
		return out, c.rejectErr("signBytes", err)
	}
	c.logger.Info("signBytes succeeded", slog.String("state", c.state.String()))
	return sig, nil
}

// DigestBytes implements spec.md §6's digestBytes request: stateless,
// never gated on consent or admissibility beyond "not Invalid".
func (c *Controller) DigestBytes(message []byte) ([]byte, error) {
	if !statemachine.Admissible(c.state, statemachine.DigestBytes) {
		return nil, c.reject("digestBytes", "inadmissible state")
	}
	digest := keycustodian.DigestBytes(message)
	return digest[:], nil
}

// ValidSignature implements spec.md §6's validSignature request: stateless
// Ed25519 verification against a caller-supplied public key.
func (c *Controller) ValidSignature(publicKey, signature, message []byte) (bool, error) {
	if !statemachine.Admissible(c.state, statemachine.ValidSignature) {
		return false, c.reject("validSignature", "inadmissible state")
	}
	return keycustodian.ValidSignature(publicKey, signature, message), nil
}

// EraseKeys implements spec.md §6's eraseKeys request. Admissible from
// any non-Invalid state, never consent-gated (spec.md §4.4: erase is
// already destructive-intent).
func (c *Controller) EraseKeys() error {
	if !statemachine.Admissible(c.state, statemachine.EraseKeys) {
		return c.reject("eraseKeys", "inadmissible state")
	}
	c.custodian.EraseKeys()
	c.state = statemachine.Next(c.state, statemachine.EraseKeys)
	if err := c.persist(); err != nil {
		return c.rejectErr("eraseKeys", err)
	}
	c.logger.Info("eraseKeys succeeded", slog.String("state", c.state.String()))
	return nil
}

func (c *Controller) reject(op, reason string) error {
	c.logger.Warn("request rejected", slog.String("op", op), slog.String("reason", reason))
	return ErrRejected
}

func (c *Controller) rejectErr(op string, err error) error {
	c.logger.Error("request failed", slog.String("op", op), slog.Any("error", err))
	return ErrRejected
}

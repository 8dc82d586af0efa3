// Package integration exercises hsmd's modules together: the controller,
// its persistent store, the audit log, and the socket protocol, the way
// a real generate -> rotate -> sign -> verify -> erase lifecycle would.
package integration

import (
	"bytes"
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hsmd/internal/audit"
	"hsmd/internal/consent"
	"hsmd/internal/hsm"
	"hsmd/internal/ipc"
	"hsmd/internal/statemachine"
	"hsmd/internal/store"
)

const (
	testDialTimeout  = time.Second
	testDialInterval = 10 * time.Millisecond
)

func randomMask(t *testing.T) []byte {
	m := make([]byte, 32)
	_, err := rand.Read(m)
	require.NoError(t, err)
	return m
}

func TestFullLifecycleGenerateRotateSignVerifyErase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "state.bin"))
	require.NoError(t, err)
	controller := hsm.Open(st, rand.Reader, consent.New(nil, nil))

	// The controller zeroizes every mask it is handed, so a mask that is
	// used again later is passed as a copy.
	mask1 := randomMask(t)
	firstPub, err := controller.GenerateKeys(ctx, bytes.Clone(mask1))
	require.NoError(t, err)
	require.Equal(t, statemachine.OneKeyPair, controller.State())

	mask2 := randomMask(t)
	secondPub, err := controller.RotateKeys(ctx, bytes.Clone(mask1), bytes.Clone(mask2))
	require.NoError(t, err)
	require.Equal(t, statemachine.TwoKeyPairs, controller.State())
	require.NotEqual(t, firstPub, secondPub)

	certificate := []byte("certificate body naming the new key")
	chainSig, err := controller.SignBytes(ctx, mask1, certificate)
	require.NoError(t, err)
	require.Equal(t, statemachine.OneKeyPair, controller.State(), "signing with the previous pair must consume it")

	ok, err := controller.ValidSignature(firstPub[:], chainSig[:], certificate)
	require.NoError(t, err)
	require.True(t, ok, "the chain signature must verify against the original public key")

	message := []byte("a message signed with the current pair")
	sig, err := controller.SignBytes(ctx, bytes.Clone(mask2), message)
	require.NoError(t, err)
	ok, err = controller.ValidSignature(secondPub[:], sig[:], message)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, controller.EraseKeys())
	require.Equal(t, statemachine.NoKeyPairs, controller.State())

	_, err = controller.SignBytes(ctx, mask2, message)
	require.ErrorIs(t, err, hsm.ErrRejected, "no key material should survive eraseKeys")
}

func TestCrashBetweenRotateAndSignBlocksFurtherRotation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.bin")

	st, err := store.Open(path)
	require.NoError(t, err)
	controller := hsm.Open(st, rand.Reader, consent.New(nil, nil))

	mask1 := randomMask(t)
	_, err = controller.GenerateKeys(ctx, bytes.Clone(mask1))
	require.NoError(t, err)

	mask2 := randomMask(t)
	_, err = controller.RotateKeys(ctx, bytes.Clone(mask1), bytes.Clone(mask2))
	require.NoError(t, err)
	require.Equal(t, statemachine.TwoKeyPairs, controller.State())

	// Simulate a crash: drop the in-memory controller and reopen from the
	// StateBlob persisted by RotateKeys, without ever calling SignBytes.
	st2, err := store.Open(path)
	require.NoError(t, err)
	recovered := hsm.Open(st2, rand.Reader, consent.New(nil, nil))
	require.Equal(t, statemachine.TwoKeyPairs, recovered.State(), "a crash after rotate must leave TwoKeyPairs persisted, not roll back")

	mask3 := randomMask(t)
	_, err = recovered.RotateKeys(ctx, mask2, mask3)
	require.ErrorIs(t, err, hsm.ErrRejected, "rotateKeys from TwoKeyPairs must block until the pending sign completes")

	msg := []byte("finish the pending chain sign")
	_, err = recovered.SignBytes(ctx, mask1, msg)
	require.NoError(t, err)
	require.Equal(t, statemachine.OneKeyPair, recovered.State())
}

func TestAuditLogRecordsTheFullLifecycleAndVerifies(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "state.bin"))
	require.NoError(t, err)
	controller := hsm.Open(st, rand.Reader, consent.New(nil, nil))

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	log, err := audit.Open(filepath.Join(dir, "audit.db"), key)
	require.NoError(t, err)
	defer log.Close()

	mask := randomMask(t)
	_, err = controller.GenerateKeys(ctx, bytes.Clone(mask))
	recordOutcome(t, log, "generateKeys", controller, err)

	_, err = controller.SignBytes(ctx, randomMask(t), []byte("wrong mask"))
	recordOutcome(t, log, "signBytes", controller, err)

	_, err = controller.SignBytes(ctx, mask, []byte("right mask"))
	recordOutcome(t, log, "signBytes", controller, err)

	entries, err := log.All()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, audit.OutcomeAccepted, entries[0].Outcome)
	require.Equal(t, audit.OutcomeRejected, entries[1].Outcome)
	require.Equal(t, audit.OutcomeAccepted, entries[2].Outcome)

	require.NoError(t, log.Verify())
}

func recordOutcome(t *testing.T, log *audit.Log, request string, controller *hsm.Controller, err error) {
	outcome := audit.OutcomeAccepted
	if err != nil {
		outcome = audit.OutcomeRejected
	}
	require.NoError(t, log.Record(request, controller.State().String(), outcome))
}

func TestSocketProtocolDriveTheSameLifecycle(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "hsmd.sock")

	st, err := store.Open(filepath.Join(dir, "state.bin"))
	require.NoError(t, err)
	controller := hsm.Open(st, rand.Reader, consent.New(nil, nil))

	server := ipc.New(socketPath, controller, nil, nil)
	require.NoError(t, server.Start())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx)

	var client *ipc.Client
	require.Eventually(t, func() bool {
		c, err := ipc.Dial(socketPath)
		if err != nil {
			return false
		}
		client = c
		return true
	}, testDialTimeout, testDialInterval)
	defer client.Close()

	mask := randomMask(t)
	pub, err := client.GenerateKeys(mask)
	require.NoError(t, err)

	msg := []byte("socket-driven signature")
	sig, err := client.SignBytes(mask, msg)
	require.NoError(t, err)

	valid, err := client.ValidSignature(pub, sig, msg)
	require.NoError(t, err)
	require.True(t, valid)
}

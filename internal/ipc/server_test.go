package ipc

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hsmd/internal/consent"
	"hsmd/internal/hsm"
	"hsmd/internal/store"
)

func startServer(t *testing.T) (*Server, string) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "hsmd.sock")

	st, err := store.Open(filepath.Join(dir, "state.bin"))
	require.NoError(t, err)
	controller := hsm.Open(st, rand.Reader, consent.New(nil, nil))

	srv := New(socketPath, controller, nil, nil)
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return srv, socketPath
}

func randomMask(t *testing.T) []byte {
	m := make([]byte, 32)
	_, err := rand.Read(m)
	require.NoError(t, err)
	return m
}

func TestClientServerGenerateSignRoundTrip(t *testing.T) {
	_, socketPath := startServer(t)

	require.Eventually(t, func() bool {
		c, err := Dial(socketPath)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, time.Second, 10*time.Millisecond)

	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	mask := randomMask(t)
	pub, err := client.GenerateKeys(mask)
	require.NoError(t, err)
	require.Len(t, pub, 32)

	msg := []byte("sign this over the wire")
	sig, err := client.SignBytes(mask, msg)
	require.NoError(t, err)
	require.Len(t, sig, 64)

	valid, err := client.ValidSignature(pub, sig, msg)
	require.NoError(t, err)
	require.True(t, valid)
}

func TestClientReceivesRejectedOnWrongMask(t *testing.T) {
	_, socketPath := startServer(t)
	require.Eventually(t, func() bool {
		c, err := Dial(socketPath)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, time.Second, 10*time.Millisecond)

	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	mask := randomMask(t)
	_, err = client.GenerateKeys(mask)
	require.NoError(t, err)

	_, err = client.SignBytes(randomMask(t), []byte("hello"))
	require.ErrorIs(t, err, ErrRejected)
}

func TestEraseKeysOverTheWire(t *testing.T) {
	_, socketPath := startServer(t)
	require.Eventually(t, func() bool {
		c, err := Dial(socketPath)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, time.Second, 10*time.Millisecond)

	client, err := Dial(socketPath)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.GenerateKeys(randomMask(t))
	require.NoError(t, err)

	require.NoError(t, client.EraseKeys())

	digest, err := client.DigestBytes([]byte("still works after erase"))
	require.NoError(t, err)
	require.Len(t, digest, 64)
}

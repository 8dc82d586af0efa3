package primitive

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateDeriveSignVerifyRoundTrip(t *testing.T) {
	priv, err := GeneratePrivate(rand.Reader)
	require.NoError(t, err)
	require.Len(t, priv, KeySize)

	pub, err := DerivePublic(priv)
	require.NoError(t, err)
	require.Len(t, pub, KeySize)

	msg := []byte("the quick brown fox")
	sig, err := Sign(priv, pub, msg)
	require.NoError(t, err)
	require.Len(t, sig, SignatureSize)

	require.True(t, Verify(sig, pub, msg))
	require.False(t, Verify(sig, pub, []byte("tampered")))
}

func TestSignRejectsMismatchedPublicKey(t *testing.T) {
	priv, _ := GeneratePrivate(rand.Reader)
	otherPriv, _ := GeneratePrivate(rand.Reader)
	otherPub, _ := DerivePublic(otherPriv)

	_, err := Sign(priv, otherPub, []byte("msg"))
	require.Error(t, err)
}

func TestDigestIsDeterministicAndFixedWidth(t *testing.T) {
	d1 := Digest([]byte("hello"))
	d2 := Digest([]byte("hello"))
	require.Len(t, d1, DigestSize)
	require.True(t, bytes.Equal(d1, d2))

	d3 := Digest([]byte("hellp"))
	require.False(t, bytes.Equal(d1, d3))
}

func TestXORIsSelfInverse(t *testing.T) {
	mask := bytes.Repeat([]byte{0x55}, KeySize)
	payload := bytes.Repeat([]byte{0xAA}, KeySize)

	enc, err := XOR(mask, payload)
	require.NoError(t, err)

	dec, err := XOR(mask, enc)
	require.NoError(t, err)
	require.Equal(t, payload, dec)
}

func TestXORRejectsWrongSizes(t *testing.T) {
	_, err := XOR([]byte{1, 2, 3}, bytes.Repeat([]byte{0}, KeySize))
	require.ErrorIs(t, err, ErrInvalidKeySize)
}

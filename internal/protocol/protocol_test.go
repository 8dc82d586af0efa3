package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	f, err := NewFrame(MsgSignBytes, 42, SignBytesRequest{Mask: []byte{1, 2, 3}, Message: []byte("hello")})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, f.Header, got.Header)

	var req SignBytesRequest
	require.NoError(t, got.Decode(&req))
	require.Equal(t, []byte{1, 2, 3}, req.Mask)
	require.Equal(t, []byte("hello"), req.Message)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(make([]byte, HeaderSize))
	_, err := ReadFrame(&buf)
	require.Error(t, err)
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	f, err := NewFrame(MsgDigestBytes, 1, DigestBytesRequest{})
	require.NoError(t, err)
	f.Header.Length = MaxPayloadSize + 1

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	buf.Truncate(HeaderSize) // drop the real (short) payload so only the oversized header remains
	_, err = ReadFrame(&buf)
	require.Error(t, err)
}

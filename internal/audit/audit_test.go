package audit

import (
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestRecordAndReplayInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path, testKey(t))
	require.NoError(t, err)
	defer log.Close()

	require.NoError(t, log.Record("generateKeys", "OneKeyPair", OutcomeAccepted))
	require.NoError(t, log.Record("signBytes", "OneKeyPair", OutcomeRejected))
	require.NoError(t, log.Record("eraseKeys", "NoKeyPairs", OutcomeAccepted))

	entries, err := log.All()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "generateKeys", entries[0].Request)
	require.Equal(t, OutcomeRejected, entries[1].Outcome)
}

func TestVerifyPassesOnUntamperedChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path, testKey(t))
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Record("digestBytes", "NoKeyPairs", OutcomeAccepted))
	}
	require.NoError(t, log.Verify())
}

func TestVerifyDetectsTamperedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := Open(path, testKey(t))
	require.NoError(t, err)

	require.NoError(t, log.Record("generateKeys", "OneKeyPair", OutcomeAccepted))
	require.NoError(t, log.Record("rotateKeys", "TwoKeyPairs", OutcomeAccepted))
	require.NoError(t, log.Close())

	log2, err := Open(path, testKey(t))
	require.NoError(t, err)
	defer log2.Close()

	_, err = log2.db.Exec(`UPDATE entries SET result_state = 'Invalid' WHERE id = 1`)
	require.NoError(t, err)

	require.ErrorIs(t, log2.Verify(), ErrIntegrity)
}

func TestChainSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	key := testKey(t)

	log, err := Open(path, key)
	require.NoError(t, err)
	require.NoError(t, log.Record("generateKeys", "OneKeyPair", OutcomeAccepted))
	require.NoError(t, log.Close())

	log2, err := Open(path, key)
	require.NoError(t, err)
	defer log2.Close()
	require.NoError(t, log2.Record("eraseKeys", "NoKeyPairs", OutcomeAccepted))
	require.NoError(t, log2.Verify())
}

func TestOpenRejectsShortKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	_, err := Open(path, []byte("short"))
	require.Error(t, err)
}

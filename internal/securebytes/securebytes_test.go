package securebytes

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewZerosAndLen(t *testing.T) {
	sb := New(32)
	defer sb.Destroy()
	require.Equal(t, 32, sb.Len())
	for _, b := range sb.Bytes() {
		require.Equal(t, byte(0), b)
	}
}

func TestFromCopyIndependence(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	sb := FromCopy(src)
	defer sb.Destroy()

	sb.Bytes()[0] = 0xFF
	require.Equal(t, byte(1), src[0], "FromCopy must not alias the source slice")
}

func TestCopyReturnsIndependentSlice(t *testing.T) {
	sb := FromCopy([]byte{9, 9, 9})
	defer sb.Destroy()

	cp := sb.Copy()
	cp[0] = 0
	require.Equal(t, byte(9), sb.Bytes()[0])
}

func TestDestroyWipesAndIsIdempotent(t *testing.T) {
	sb := FromCopy([]byte{1, 2, 3, 4, 5})
	sb.Destroy()
	require.Equal(t, 0, sb.Len())
	require.NotPanics(t, sb.Destroy)
}

func TestConstantTimeEqual(t *testing.T) {
	require.True(t, ConstantTimeEqual([]byte("abc"), []byte("abc")))
	require.False(t, ConstantTimeEqual([]byte("abc"), []byte("abd")))
	require.False(t, ConstantTimeEqual([]byte("ab"), []byte("abc")))
}

func TestGuardWipesOnAllPaths(t *testing.T) {
	key := []byte{1, 2, 3, 4}
	err := Guard(key, func(k []byte) error { return nil })
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, key)

	key2 := []byte{5, 6, 7, 8}
	err = Guard(key2, func(k []byte) error { return errBoom })
	require.Error(t, err)
	require.Equal(t, []byte{0, 0, 0, 0}, key2)
}

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }

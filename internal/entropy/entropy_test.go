package entropy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name      string
	available bool
	fill      byte
	calls     int
}

func (f *fakeSource) Name() string    { return f.name }
func (f *fakeSource) Available() bool { return f.available }
func (f *fakeSource) Read(n int) ([]byte, error) {
	f.calls++
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = f.fill
	}
	return buf, nil
}

func TestPoolReadsRequestedLength(t *testing.T) {
	p := NewPool()
	buf := make([]byte, 32)
	n, err := p.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 32, n)
}

func TestPoolNeverRepeatsOutput(t *testing.T) {
	p := NewPool()
	a := make([]byte, 32)
	b := make([]byte, 32)
	_, err := p.Read(a)
	require.NoError(t, err)
	_, err = p.Read(b)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestPoolMixesExtraSources(t *testing.T) {
	fs := &fakeSource{name: "fake", available: true, fill: 0x42}
	p := NewPool(fs)
	buf := make([]byte, 16)
	_, err := p.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, fs.calls)
}

func TestPoolSkipsUnavailableSources(t *testing.T) {
	fs := &fakeSource{name: "fake", available: false}
	p := NewPool(fs)
	buf := make([]byte, 16)
	_, err := p.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 0, fs.calls)
	require.True(t, p.Healthy(), "the OS baseline source keeps the pool healthy")
}

// Package securebytes provides a scoped owner for secret byte buffers that
// guarantees zeroization on release. The keycustodian holds every generated
// or reconstructed plaintext private key in a SecureBytes. Caller-supplied
// masks and the intermediate slices returned by the primitive package are
// not SecureBytes: they stay ordinary slices and are zeroized with Wipe.
package securebytes

import (
	"crypto/subtle"
	"runtime"
	"sync"
)

// SecureBytes owns a fixed-size byte buffer and wipes it on Destroy. The
// zero value is not usable; construct with New or FromCopy.
type SecureBytes struct {
	mu     sync.Mutex
	data   []byte
	locked bool
}

// New allocates size bytes of secret storage and attempts to lock them into
// physical memory so they are never swapped to disk.
func New(size int) *SecureBytes {
	sb := &SecureBytes{data: make([]byte, size)}
	sb.locked = lock(sb.data)
	runtime.SetFinalizer(sb, func(s *SecureBytes) { s.Destroy() })
	return sb
}

// FromCopy copies src into a new SecureBytes. It does not wipe src; callers
// that own src exclusively should wipe it themselves once the copy exists.
func FromCopy(src []byte) *SecureBytes {
	sb := New(len(src))
	copy(sb.data, src)
	return sb
}

// Bytes returns the underlying slice for in-place use. The slice must not be
// retained past the caller's use of it; take a Copy if it needs to outlive
// the current call.
func (s *SecureBytes) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Copy returns a fresh copy of the secret bytes. The caller owns the
// returned slice and is responsible for wiping it (Wipe) when done.
func (s *SecureBytes) Copy() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Len reports the length of the secret buffer.
func (s *SecureBytes) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Destroy overwrites the buffer with zeros and releases any memory lock. It
// is safe to call more than once and is idempotent.
func (s *SecureBytes) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return
	}
	Wipe(s.data)
	if s.locked {
		unlock(s.data)
		s.locked = false
	}
	s.data = nil
	runtime.SetFinalizer(s, nil)
}

// Wipe overwrites data with zeros in place. The explicit index loop plus the
// KeepAlive call keep the compiler from eliding the writes.
func Wipe(data []byte) {
	if len(data) == 0 {
		return
	}
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information about where they first differ.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Guard runs fn with key and wipes key when fn returns, regardless of
// outcome. Used at call sites that receive a raw secret slice from a caller
// that does not itself own a SecureBytes.
func Guard(key []byte, fn func([]byte) error) error {
	defer Wipe(key)
	return fn(key)
}

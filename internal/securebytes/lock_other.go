//go:build !unix

package securebytes

// lock is a no-op on platforms without an mlock-equivalent wired up.
func lock(data []byte) bool { return false }

func unlock(data []byte) {}

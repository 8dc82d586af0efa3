//go:build unix

package securebytes

import "golang.org/x/sys/unix"

// lock attempts to mlock data so it is never paged out. Failure is
// non-fatal: hsmd continues without the lock when the platform or the
// process's privileges don't allow it.
func lock(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	if err := unix.Mlock(data); err != nil {
		return false
	}
	return true
}

func unlock(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Munlock(data)
}

// Package store implements PersistentStore: a single fixed-size 129-byte
// state blob on non-volatile storage, atomically replaced on every write so
// a power loss mid-write never leaves a torn record.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// KeySize is the width, in bytes, of a public key or an encrypted key.
const KeySize = 32

// BlobSize is 4*KeySize + 1, the fixed layout from spec.md §3:
// keyCount(1) | currentPublic(32) | currentEncrypted(32) | previousPublic(32) | previousEncrypted(32).
const BlobSize = 4*KeySize + 1

const (
	offKeyCount         = 0
	offCurrentPublic    = 1
	offCurrentEncrypted = 1 + KeySize
	offPreviousPublic   = 1 + 2*KeySize
	offPreviousEncrypted = 1 + 3*KeySize
)

// ErrIO marks a fatal storage failure: the caller should abort the
// operation before any state change, per spec.md §7. It is distinct from
// the uniform Rejected result the request API surfaces for ordinary
// refusals.
var ErrIO = errors.New("store: persistent storage I/O failure")

// Store is a file-backed PersistentStore. It holds no in-memory copy of the
// blob between calls; every Load and Save round-trips through disk so the
// on-disk file is always the source of truth.
type Store struct {
	path string
}

// Open prepares a Store backed by path, creating its parent directory with
// restrictive permissions if necessary. It does not touch the file itself;
// a missing file is a valid, all-zero starting state (spec.md §4.3).
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create state directory: %v", ErrIO, err)
	}
	return &Store{path: path}, nil
}

// Load returns the persisted blob, or BlobSize zero bytes if the file is
// absent, unreadable, or the wrong length — spec.md §4.3 requires that a
// malformed blob initialize the controller to NoKeyPairs rather than fail
// the boot.
func (s *Store) Load() [BlobSize]byte {
	var blob [BlobSize]byte
	data, err := os.ReadFile(s.path)
	if err != nil {
		return blob
	}
	if len(data) != BlobSize {
		return blob
	}
	copy(blob[:], data)
	return blob
}

// Save atomically replaces the persisted blob: it writes to a sibling
// temp file, fsyncs it, then renames over the real path. On POSIX
// filesystems rename is atomic, so any observer sees either the old blob
// or the new one, never a partial write — the pattern is the same one the
// teacher's WAL truncation uses for its own atomic file replace.
func (s *Store) Save(blob [BlobSize]byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp state file: %v", ErrIO, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(blob[:]); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write temp state file: %v", ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: sync temp state file: %v", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp state file: %v", ErrIO, err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: chmod temp state file: %v", ErrIO, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename temp state file: %v", ErrIO, err)
	}
	return nil
}

// Blob is the decoded view of a StateBlob, matching spec.md §3's layout.
type Blob struct {
	KeyCount            uint8
	CurrentPublic       [KeySize]byte
	CurrentEncrypted    [KeySize]byte
	PreviousPublic      [KeySize]byte
	PreviousEncrypted   [KeySize]byte
}

// Encode serializes b into the 129-byte on-disk layout.
func (b Blob) Encode() [BlobSize]byte {
	var out [BlobSize]byte
	out[offKeyCount] = b.KeyCount
	copy(out[offCurrentPublic:offCurrentPublic+KeySize], b.CurrentPublic[:])
	copy(out[offCurrentEncrypted:offCurrentEncrypted+KeySize], b.CurrentEncrypted[:])
	copy(out[offPreviousPublic:offPreviousPublic+KeySize], b.PreviousPublic[:])
	copy(out[offPreviousEncrypted:offPreviousEncrypted+KeySize], b.PreviousEncrypted[:])
	return out
}

// Decode parses the 129-byte on-disk layout into a Blob.
func Decode(raw [BlobSize]byte) Blob {
	var b Blob
	b.KeyCount = raw[offKeyCount]
	copy(b.CurrentPublic[:], raw[offCurrentPublic:offCurrentPublic+KeySize])
	copy(b.CurrentEncrypted[:], raw[offCurrentEncrypted:offCurrentEncrypted+KeySize])
	copy(b.PreviousPublic[:], raw[offPreviousPublic:offPreviousPublic+KeySize])
	copy(b.PreviousEncrypted[:], raw[offPreviousEncrypted:offPreviousEncrypted+KeySize])
	return b
}

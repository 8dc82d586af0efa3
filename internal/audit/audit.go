// Package audit implements a tamper-evident, append-only log of HSM
// requests: timestamp, request kind, resulting state, and outcome only —
// never key material, masks, or message contents. Each row is HMAC-chained
// to the previous one so any edit or deletion breaks the chain, adapted
// from the teacher's SecureStore pattern.
package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp_ns  INTEGER NOT NULL,
	request       TEXT NOT NULL,
	result_state  TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	previous_hash BLOB NOT NULL,
	entry_hash    BLOB NOT NULL UNIQUE,
	hmac          BLOB NOT NULL
);
`

// ErrIntegrity is returned by Verify when the hash chain does not
// reproduce itself.
var ErrIntegrity = errors.New("audit: hash chain integrity check failed")

// Outcome is the recorded result of a request, independent of the
// uniform Rejected error surfaced to callers — the audit log is allowed
// to record that a request was rejected, just never why.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Entry is one row of the audit log.
type Entry struct {
	ID          int64
	TimestampNs int64
	Request     string
	ResultState string
	Outcome     Outcome
}

// Log is a hash-chained, append-only audit log backed by SQLite.
type Log struct {
	db      *sql.DB
	hmacKey []byte

	mu       sync.Mutex
	lastHash [32]byte
}

// Open opens or creates the audit database at path, chaining new entries
// from hmacKey. hmacKey must be at least 32 bytes; it is the caller's
// responsibility to load it from a file the HSM's trust boundary
// controls, never to generate it implicitly.
func Open(path string, hmacKey []byte) (*Log, error) {
	if len(hmacKey) < 32 {
		return nil, errors.New("audit: hmac key must be at least 32 bytes")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: set database permissions: %w", err)
	}

	l := &Log{db: db, hmacKey: append([]byte(nil), hmacKey...)}
	if err := l.loadChainTail(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) loadChainTail() error {
	row := l.db.QueryRow(`SELECT entry_hash FROM entries ORDER BY id DESC LIMIT 1`)
	var tail []byte
	if err := row.Scan(&tail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			l.lastHash = [32]byte{}
			return nil
		}
		return fmt.Errorf("audit: load chain tail: %w", err)
	}
	copy(l.lastHash[:], tail)
	return nil
}

// Record appends one entry to the chain.
func (l *Log) Record(request, resultState string, outcome Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().UnixNano()
	entryHash := computeEntryHash(l.lastHash, ts, request, resultState, outcome)
	mac := l.computeHMAC(entryHash)

	_, err := l.db.Exec(
		`INSERT INTO entries (timestamp_ns, request, result_state, outcome, previous_hash, entry_hash, hmac) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts, request, resultState, string(outcome), l.lastHash[:], entryHash[:], mac,
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	l.lastHash = entryHash
	return nil
}

// All returns every entry in insertion order.
func (l *Log) All() ([]Entry, error) {
	rows, err := l.db.Query(`SELECT id, timestamp_ns, request, result_state, outcome FROM entries ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var outcome string
		if err := rows.Scan(&e.ID, &e.TimestampNs, &e.Request, &e.ResultState, &outcome); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.Outcome = Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Verify replays the entire chain and confirms every entry_hash and hmac
// reproduces from its row and its predecessor, matching the teacher's
// verifyIntegrity walk.
func (l *Log) Verify() error {
	rows, err := l.db.Query(`SELECT timestamp_ns, request, result_state, outcome, previous_hash, entry_hash, hmac FROM entries ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("audit: query entries: %w", err)
	}
	defer rows.Close()

	var expectedPrev [32]byte
	for rows.Next() {
		var ts int64
		var request, resultState, outcome string
		var previousHash, entryHash, mac []byte
		if err := rows.Scan(&ts, &request, &resultState, &outcome, &previousHash, &entryHash, &mac); err != nil {
			return fmt.Errorf("audit: scan entry: %w", err)
		}

		if !hmac.Equal(previousHash, expectedPrev[:]) {
			return fmt.Errorf("%w: broken chain link at ts=%d", ErrIntegrity, ts)
		}

		want := computeEntryHash(expectedPrev, ts, request, resultState, Outcome(outcome))
		if !hmac.Equal(entryHash, want[:]) {
			return fmt.Errorf("%w: entry hash mismatch at ts=%d", ErrIntegrity, ts)
		}
		if !hmac.Equal(mac, l.computeHMAC(want)) {
			return fmt.Errorf("%w: hmac mismatch at ts=%d", ErrIntegrity, ts)
		}
		expectedPrev = want
	}
	return rows.Err()
}

func (l *Log) computeHMAC(entryHash [32]byte) []byte {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write(entryHash[:])
	return mac.Sum(nil)
}

func computeEntryHash(previousHash [32]byte, ts int64, request, resultState string, outcome Outcome) [32]byte {
	h := sha256.New()
	h.Write(previousHash[:])
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(ts))
	h.Write(tsBuf[:])
	h.Write([]byte(request))
	h.Write([]byte(resultState))
	h.Write([]byte(outcome))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// LoadHMACKey reads a 32-byte (or longer) HMAC key from path, as
// referenced by config.AuditConfig.HMACKeyPath.
func LoadHMACKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read hmac key: %w", err)
	}
	if len(key) < 32 {
		return nil, errors.New("audit: hmac key file is shorter than 32 bytes")
	}
	return key, nil
}

// hsmprovision is a development and bench tool, never part of hsmd's
// production trust boundary. It derives reproducible 32-byte mobile masks
// from an operator-supplied SSH keypair via HKDF, so a bench rig can
// exercise generateKeys/rotateKeys/signBytes deterministically across
// runs without inventing a throwaway secret-storage format.
package main

import (
	"crypto/sha256"
	"encoding/base64"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/ssh"
)

func main() {
	keyPath := flag.String("key", "", "path to an SSH private key used as HKDF input keying material")
	label := flag.String("label", "generate", "HKDF info label identifying which call site this mask is for, e.g. \"generate\" or \"rotate-1\"")
	flag.Parse()

	if *keyPath == "" {
		fmt.Fprintln(os.Stderr, "usage: hsmprovision -key <ssh-private-key-path> [-label <name>]")
		os.Exit(1)
	}

	mask, err := deriveMask(*keyPath, *label)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hsmprovision:", err)
		os.Exit(1)
	}
	fmt.Println(base64.StdEncoding.EncodeToString(mask))
}

// deriveMask reads the SSH private key at keyPath and derives a 32-byte
// mask from it via HKDF-SHA256, using label as the info parameter so
// distinct call sites (an initial generate, a sequence of rotates) never
// collide — reuse of a mask across two consecutive generate/rotate calls
// is precisely the one-time-pad violation spec.md §9 forbids.
func deriveMask(keyPath, label string) ([]byte, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}

	if _, err := ssh.ParsePrivateKey(keyData); err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	ikm := keyData

	reader := hkdf.New(sha256.New, ikm, []byte("hsmprovision-mask"), []byte(label))
	mask := make([]byte, 32)
	if _, err := io.ReadFull(reader, mask); err != nil {
		return nil, fmt.Errorf("derive mask: %w", err)
	}
	return mask, nil
}

package validator

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ComputeHash returns the SHA-512 hex digest of the reader's contents.
// Deterministic: the same bytes always produce the same digest.
func ComputeHash(r io.Reader) (string, error) {
	h := sha512.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing plugin content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeFileHash hashes a plugin artifact on disk.
func ComputeFileHash(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("opening plugin %s: %w", path, err)
	}
	defer f.Close()
	return ComputeHash(f)
}

// VerifySignature checks a digest. With an expected digest it is a strict
// byte-equal comparison; without one the digest must be present in the
// trusted store.
func VerifySignature(store TrustStore, digest, expected string) (bool, string) {
	if expected != "" {
		if digest == expected {
			return true, "digest matches expected value"
		}
		return false, fmt.Sprintf("digest mismatch: expected %s, got %s", expected, digest)
	}

	if name, ok := store.Get(digest); ok {
		return true, fmt.Sprintf("digest trusted for %s", name)
	}
	return false, "digest not found in trusted store"
}

package validator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComputeHashDeterministic(t *testing.T) {
	content := "def run():\n    return 42\n"

	first, err := ComputeHash(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	second, err := ComputeHash(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}

	if first != second {
		t.Errorf("same content hashed differently: %s vs %s", first, second)
	}
	if len(first) != 128 {
		t.Errorf("digest length = %d, want 128 hex chars", len(first))
	}

	other, err := ComputeHash(strings.NewReader(content + " "))
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if other == first {
		t.Error("different content produced identical digest")
	}
}

func TestComputeFileHash(t *testing.T) {
	content := "print('hello')\n"
	path := filepath.Join(t.TempDir(), "plugin.py")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	fromFile, err := ComputeFileHash(path)
	if err != nil {
		t.Fatalf("ComputeFileHash: %v", err)
	}
	fromReader, err := ComputeHash(strings.NewReader(content))
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if fromFile != fromReader {
		t.Errorf("file digest %s != reader digest %s", fromFile, fromReader)
	}
}

func TestComputeFileHashMissing(t *testing.T) {
	if _, err := ComputeFileHash(filepath.Join(t.TempDir(), "absent.py")); err == nil {
		t.Error("ComputeFileHash on missing file = nil error, want error")
	}
}

func TestVerifySignature(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Put("aaa", "known-plugin"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		digest   string
		expected string
		want     bool
	}{
		{"expected digest matches", "abc", "abc", true},
		{"expected digest mismatch", "abc", "def", false},
		{"store hit", "aaa", "", true},
		{"store miss", "bbb", "", false},
		{"expected overrides store", "aaa", "zzz", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := VerifySignature(store, tt.digest, tt.expected)
			if got != tt.want {
				t.Errorf("VerifySignature() = %v (%s), want %v", got, reason, tt.want)
			}
			if reason == "" {
				t.Error("VerifySignature() returned empty reason")
			}
		})
	}
}

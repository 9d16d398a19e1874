package validator

import (
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	if _, ok := s.Get("abc"); ok {
		t.Error("Get on empty store reported a hit")
	}
	if err := s.Put("abc", "plugin-a"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	name, ok := s.Get("abc")
	if !ok || name != "plugin-a" {
		t.Errorf("Get = (%q, %v), want (plugin-a, true)", name, ok)
	}
}

func TestFileStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.yaml")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("OpenFileStore on missing file: %v", err)
	}
	if err := s.Put("deadbeef", "plugin-x"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("cafef00d", "plugin-y"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// A fresh handle sees what the first one wrote.
	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	name, ok := reopened.Get("deadbeef")
	if !ok || name != "plugin-x" {
		t.Errorf("Get after reopen = (%q, %v), want (plugin-x, true)", name, ok)
	}
	if entries := reopened.Entries(); len(entries) != 2 {
		t.Errorf("Entries() has %d items, want 2", len(entries))
	}
}

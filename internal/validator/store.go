package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// TrustStore maps known-good content digests to plugin names. It is
// shared across concurrent validations; implementations must be safe for
// concurrent use.
type TrustStore interface {
	Get(digest string) (name string, ok bool)
	Put(digest, name string) error
}

// MemoryStore is a mutex-guarded in-memory trust store.
type MemoryStore struct {
	mu      sync.RWMutex
	digests map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{digests: make(map[string]string)}
}

func (s *MemoryStore) Get(digest string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name, ok := s.digests[digest]
	return name, ok
}

func (s *MemoryStore) Put(digest, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.digests[digest] = name
	return nil
}

// FileStore persists the trust store as a YAML file. Writes rewrite the
// file under the lock; reads are served from memory.
type FileStore struct {
	path string

	mu      sync.RWMutex
	digests map[string]string
}

// OpenFileStore loads an existing store file, or starts empty when the
// file does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		digests: make(map[string]string),
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trust store %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.digests); err != nil {
		return nil, fmt.Errorf("parsing trust store %s: %w", path, err)
	}

	log.Debug().Int("entries", len(s.digests)).Str("path", path).Msg("trust store loaded")
	return s, nil
}

func (s *FileStore) Get(digest string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name, ok := s.digests[digest]
	return name, ok
}

func (s *FileStore) Put(digest, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.digests[digest] = name

	data, err := yaml.Marshal(s.digests)
	if err != nil {
		return fmt.Errorf("encoding trust store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating trust store dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing trust store %s: %w", s.path, err)
	}
	return nil
}

// Entries returns a copy of the digest -> name map.
func (s *FileStore) Entries() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.digests))
	for k, v := range s.digests {
		out[k] = v
	}
	return out
}

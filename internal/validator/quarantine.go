package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Quarantine is the shared filesystem area rejected artifacts are moved
// into. Moves use rename, which is atomic on the same filesystem, so two
// validations racing on the same filename cannot leave a partial copy.
type Quarantine struct {
	dir string
}

func NewQuarantine(dir string) (*Quarantine, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating quarantine dir %s: %w", dir, err)
	}
	return &Quarantine{dir: dir}, nil
}

func (q *Quarantine) Dir() string { return q.dir }

// Move relocates an artifact into quarantine and returns its new path.
func (q *Quarantine) Move(artifactPath, reason string) (string, error) {
	name := fmt.Sprintf("quarantined_%s_%s",
		time.Now().UTC().Format("20060102_150405.000000000"),
		filepath.Base(artifactPath))
	dest := filepath.Join(q.dir, name)

	if err := os.Rename(artifactPath, dest); err != nil {
		return "", fmt.Errorf("quarantining %s: %w", artifactPath, err)
	}

	log.Warn().
		Str("artifact", artifactPath).
		Str("quarantine_path", dest).
		Str("reason", reason).
		Msg("plugin artifact quarantined")
	return dest, nil
}

// List returns the filenames currently held in quarantine.
func (q *Quarantine) List() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("listing quarantine dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EvidenceStorage saves evidence records as plain text files, one directory
// per run.
type EvidenceStorage struct {
	BaseDir string

	mu  sync.Mutex
	seq map[string]int
}

// NewEvidenceStorage creates a storage rooted at baseDir.
func NewEvidenceStorage(baseDir string) *EvidenceStorage {
	return &EvidenceStorage{BaseDir: baseDir, seq: make(map[string]int)}
}

// Save writes content under <base>/<runID>/<seq>_<title>_<timestamp>.log and
// returns the file path.
func (s *EvidenceStorage) Save(runID, title, content string) (string, error) {
	dir := filepath.Join(s.BaseDir, sanitize(runID, "run"))
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.seq[runID]++
	n := s.seq[runID]
	s.mu.Unlock()

	timestamp := time.Now().UTC().Format("20060102_150405")
	filename := fmt.Sprintf("%03d_%s_%s.log", n, sanitize(title, "record"), timestamp)
	path := filepath.Join(dir, filename)

	if err := os.WriteFile(path, []byte(header(title)+content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Dir returns the evidence directory of a run.
func (s *EvidenceStorage) Dir(runID string) string {
	return filepath.Join(s.BaseDir, sanitize(runID, "run"))
}

func header(title string) string {
	return "# " + title + "\n\n"
}

// sanitize keeps letters, digits, '-' and '_' and maps spaces to '_'.
func sanitize(name, fallback string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return fallback
	}
	return b.String()
}

package gather

import (
	"os"
	"path/filepath"
	"strings"
)

// progress manages the .last-completed marker that makes a pass idempotent
// within a day. A progress with an empty dir records nothing.
type progress struct {
	dir string
}

func newProgress(dir string) *progress {
	return &progress{dir: dir}
}

func (p *progress) path() string {
	return filepath.Join(p.dir, ".last-completed")
}

// MarkCompleted writes the given date to .last-completed.
func (p *progress) MarkCompleted(date string) error {
	if p.dir == "" {
		return nil
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(p.path(), []byte(date), 0o644)
}

// IsCompleted returns true if .last-completed matches the given date.
func (p *progress) IsCompleted(date string) bool {
	return p.LastCompleted() == date
}

// LastCompleted returns the date string from .last-completed, or empty string.
func (p *progress) LastCompleted() string {
	if p.dir == "" {
		return ""
	}
	data, err := os.ReadFile(p.path())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

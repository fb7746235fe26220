package workspace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidFilename marks a file name the workspace refuses to write.
var ErrInvalidFilename = errors.New("invalid filename")

// ValidateFilename accepts only plain file names that resolve directly inside the working dir.
func ValidateFilename(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty", ErrInvalidFilename)
	case name != strings.TrimSpace(name):
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidFilename, name)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidFilename, name)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	case filepath.IsAbs(name) || filepath.VolumeName(name) != "":
		return fmt.Errorf("%w: %q is absolute", ErrInvalidFilename, name)
	}
	return nil
}

// SnapshotName derives the history file name for one write.
func SnapshotName(iteration int, phase, filename string) string {
	return fmt.Sprintf("iteration-%d-%s-%s", iteration, phase, filename)
}

// NewRunID formats a session start time the way history directories are named,
// e.g. 2026-02-20T17-55-44-763Z.
func NewRunID(start time.Time) string {
	stamp := start.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
}

func validateRunID(runID string) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("run id is required")
	}
	if strings.ContainsAny(runID, "/\\\x00") || runID == "." || runID == ".." {
		return fmt.Errorf("run id %q is not a plain directory name", runID)
	}
	return nil
}

// resolveDir returns an absolute, cleaned directory path.
func resolveDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrIO marks a failure to read or write the sandbox or its history.
var ErrIO = errors.New("workspace io failure")

// Manager owns the working files of a session and their append-only snapshot history.
// It is not safe for concurrent sessions on the same directories.
type Manager struct {
	dir        string
	historyDir string
	trackedExt string
	now        func() time.Time
	manifests  map[string]*manifest
}

// New builds a manager rooted at dir, creating dir and historyDir when missing.
// A relative historyDir resolves against dir.
func New(dir, historyDir, trackedExt string) (*Manager, error) {
	absDir, err := resolveDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: workspace dir: %w", ErrIO, err)
	}
	if historyDir == "" {
		historyDir = "history"
	}
	if !filepath.IsAbs(historyDir) {
		historyDir = filepath.Join(absDir, historyDir)
	}
	absHistory, err := resolveDir(historyDir)
	if err != nil {
		return nil, fmt.Errorf("%w: history dir: %w", ErrIO, err)
	}
	if trackedExt == "" {
		trackedExt = ".ts"
	}

	for _, d := range []string{absDir, absHistory} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", ErrIO, d, err)
		}
	}

	return &Manager{
		dir:        absDir,
		historyDir: absHistory,
		trackedExt: trackedExt,
		now:        time.Now,
		manifests:  make(map[string]*manifest),
	}, nil
}

// Dir returns the absolute working directory.
func (m *Manager) Dir() string {
	return m.dir
}

// RunDir returns the snapshot directory of one run.
func (m *Manager) RunDir(runID string) string {
	return filepath.Join(m.historyDir, runID)
}

// Reset deletes every tracked file directly inside the working directory and
// returns the removed names. Directories, including history, are left alone.
func (m *Manager) Reset() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrIO, m.dir, err)
	}

	removed := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), m.trackedExt) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil {
			return removed, fmt.Errorf("%w: remove %s: %w", ErrIO, e.Name(), err)
		}
		removed = append(removed, e.Name())
	}
	sort.Strings(removed)
	return removed, nil
}

// Write replaces the working copy of filename with code and records an
// immutable snapshot for the given iteration and phase. Every call writes
// exactly one snapshot.
func (m *Manager) Write(filename, code string, iteration int, phase, runID string) (Snapshot, error) {
	if err := ValidateFilename(filename); err != nil {
		return Snapshot{}, err
	}
	if err := validateRunID(runID); err != nil {
		return Snapshot{}, err
	}
	if iteration <= 0 {
		return Snapshot{}, fmt.Errorf("iteration must be > 0, got %d", iteration)
	}

	target := filepath.Join(m.dir, filename)
	if err := os.WriteFile(target, []byte(code), 0o644); err != nil {
		return Snapshot{}, fmt.Errorf("%w: write %s: %w", ErrIO, filename, err)
	}

	runDir := m.RunDir(runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("%w: create %s: %w", ErrIO, runDir, err)
	}

	name := SnapshotName(iteration, phase, filename)
	snapPath := filepath.Join(runDir, name)
	if err := os.WriteFile(snapPath, []byte(code), 0o644); err != nil {
		return Snapshot{}, fmt.Errorf("%w: snapshot %s: %w", ErrIO, name, err)
	}

	mf, err := m.manifest(runID)
	if err != nil {
		return Snapshot{}, err
	}
	parent := ""
	if latest := mf.latestFor(filename); latest != nil {
		parent = latest.ID
	}
	snap := Snapshot{
		ID:        fmt.Sprintf("%s/%d/%s", runID, iteration, filename),
		ParentID:  parent,
		Iteration: iteration,
		Phase:     phase,
		Filename:  filename,
		Name:      name,
		Lines:     lineCount(code),
		Bytes:     len(code),
		CreatedAt: m.now().UTC(),
	}
	mf.Entries = append(mf.Entries, snap)
	if err := mf.save(filepath.Join(runDir, manifestName)); err != nil {
		return Snapshot{}, fmt.Errorf("%w: manifest: %w", ErrIO, err)
	}

	snap.Path = snapPath
	return snap, nil
}

// Snapshots lists the snapshots recorded for a run in write order.
func (m *Manager) Snapshots(runID string) ([]Snapshot, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}
	mf, err := m.manifest(runID)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(mf.Entries))
	for _, e := range mf.Entries {
		e.Path = filepath.Join(m.RunDir(runID), e.Name)
		out = append(out, e)
	}
	return out, nil
}

// ReadSnapshot returns the stored content of one snapshot.
func (m *Manager) ReadSnapshot(s Snapshot) (string, error) {
	path := s.Path
	if path == "" {
		return "", fmt.Errorf("snapshot %q has no path", s.Name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrIO, s.Name, err)
	}
	return string(data), nil
}

func (m *Manager) manifest(runID string) (*manifest, error) {
	if mf, ok := m.manifests[runID]; ok {
		return mf, nil
	}
	mf, err := loadManifest(filepath.Join(m.RunDir(runID), manifestName))
	if err != nil {
		return nil, fmt.Errorf("%w: load manifest: %w", ErrIO, err)
	}
	mf.RunID = runID
	m.manifests[runID] = mf
	return mf, nil
}

func lineCount(code string) int {
	if code == "" {
		return 0
	}
	return strings.Count(code, "\n") + 1
}

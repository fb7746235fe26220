package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

const manifestName = "manifest.json"

// Snapshot describes one recorded write, linked to the previous version of the same file.
type Snapshot struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Iteration int       `json:"iteration"`
	Phase     string    `json:"phase"`
	Filename  string    `json:"filename"`
	Name      string    `json:"name"`
	Lines     int       `json:"lines"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"-"`
}

type manifest struct {
	RunID   string     `json:"run_id"`
	Entries []Snapshot `json:"entries"`
}

func (mf *manifest) latestFor(filename string) *Snapshot {
	for i := len(mf.Entries) - 1; i >= 0; i-- {
		if mf.Entries[i].Filename == filename {
			return &mf.Entries[i]
		}
	}
	return nil
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &manifest{}, nil
		}
		return nil, err
	}
	var mf manifest
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, err
	}
	return &mf, nil
}

func (mf *manifest) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

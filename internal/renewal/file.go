package renewal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go_certagent/internal/fsutil"
)

const (
	renewalSuffix = ".renewal.json"
	// history was kept next to the renewal by earlier versions; read only
	legacyHistorySuffix = ".history.json"
)

var writeFileAtomic = fsutil.WriteFileAtomic

// fileDocument holds a renewal and its history so one rename commits both
type fileDocument struct {
	Renewal json.RawMessage `json:"renewal"`
	History json.RawMessage `json:"history"`
}

// FileBackend keeps one document per renewal in a directory
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (f *FileBackend) paths(id string) (string, string, error) {
	if id == "" || filepath.Base(id) != id || strings.HasPrefix(id, ".") {
		return "", "", fmt.Errorf("invalid renewal id %q", id)
	}
	return filepath.Join(f.dir, id+renewalSuffix), filepath.Join(f.dir, id+legacyHistorySuffix), nil
}

func (f *FileBackend) ReadAll(_ context.Context) ([]Blob, error) {
	entries, err := os.ReadDir(f.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Blob
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), renewalSuffix) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), renewalSuffix)
		renewalPath, historyPath, err := f.paths(id)
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(renewalPath)
		if err != nil {
			return nil, err
		}
		b, err := f.blob(id, raw, historyPath)
		if err != nil {
			return nil, err
		}
		var head struct {
			FriendlyName string    `json:"friendlyName"`
			NextDueDate  time.Time `json:"nextDueDate"`
		}
		if json.Unmarshal(b.Data, &head) == nil {
			b.FriendlyName, b.NextDueDate = head.FriendlyName, head.NextDueDate
		}
		out = append(out, b)
	}
	return out, nil
}

// blob splits a stored document. Documents without an envelope are the
// older layout with the history in its own file.
func (f *FileBackend) blob(id string, raw []byte, historyPath string) (Blob, error) {
	var doc fileDocument
	if json.Unmarshal(raw, &doc) == nil && len(doc.Renewal) > 0 {
		return Blob{ID: id, Data: doc.Renewal, History: doc.History}, nil
	}
	history, err := os.ReadFile(historyPath)
	if err != nil && !os.IsNotExist(err) {
		return Blob{}, err
	}
	return Blob{ID: id, Data: raw, History: history}, nil
}

// Write replaces the renewal document in a single rename
func (f *FileBackend) Write(_ context.Context, b Blob) error {
	renewalPath, historyPath, err := f.paths(b.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", f.dir, err)
	}
	history := b.History
	if len(history) == 0 {
		history = json.RawMessage(`[]`)
	}
	data, err := json.MarshalIndent(fileDocument{Renewal: b.Data, History: history}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode renewal %s: %w", b.ID, err)
	}
	if err := writeFileAtomic(renewalPath, data, 0o600); err != nil {
		return err
	}
	// the committed document supersedes an old history file
	_ = fsutil.RemoveIfExists(historyPath)
	return nil
}

func (f *FileBackend) Delete(_ context.Context, id string) error {
	renewalPath, historyPath, err := f.paths(id)
	if err != nil {
		return err
	}
	if err := os.Remove(renewalPath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return fsutil.RemoveIfExists(historyPath)
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

const (
	snapshotFile = "snapshot.json"
	snapshotTmp  = "snapshot.json.tmp"
	pendingFile  = "snapshot.pending"
)

// FileSnapshotStore persists the graph snapshot as a single JSON
// document. Writes go through a temp file and an atomic rename, with
// a pending marker around the window: if the marker is present on
// startup, the last write did not complete and the previous good
// snapshot is still in place.
type FileSnapshotStore struct {
	dir string
}

var _ domain.SnapshotStore = (*FileSnapshotStore)(nil)

func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

func (s *FileSnapshotStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *FileSnapshotStore) Save(snap *domain.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if err := os.WriteFile(s.path(pendingFile), []byte(snap.SavedAt.UTC().Format("2006-01-02T15:04:05Z07:00")+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pending marker: %w", domain.ErrPersistenceFailure)
	}

	tmp := s.path(snapshotTmp)
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot temp: %w", err)
	}
	if err := os.Rename(tmp, s.path(snapshotFile)); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	if err := os.Remove(s.path(pendingFile)); err != nil {
		return fmt.Errorf("clear pending marker: %w", err)
	}
	return nil
}

// Load reads the last committed snapshot. A missing file is reported
// as ErrNotFound so a fresh deployment can start empty.
func (s *FileSnapshotStore) Load() (*domain.Snapshot, error) {
	data, err := os.ReadFile(s.path(snapshotFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", domain.ErrPersistenceFailure)
	}
	if snap.Version != domain.SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d unsupported: %w", snap.Version, domain.ErrPersistenceFailure)
	}
	return &snap, nil
}

// PendingRecovery reports whether the last save was interrupted. The
// caller clears the leftover temp file and marker, then proceeds with
// the committed snapshot.
func (s *FileSnapshotStore) PendingRecovery() (bool, error) {
	_, err := os.Stat(s.path(pendingFile))
	if err == nil {
		os.Remove(s.path(snapshotTmp))
		if err := os.Remove(s.path(pendingFile)); err != nil {
			return true, fmt.Errorf("clear pending marker: %w", err)
		}
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

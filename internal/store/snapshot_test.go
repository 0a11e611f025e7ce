package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

func testSnapshot() *domain.Snapshot {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	a := domain.NewNode(domain.NodePerson, "Grace", 0.9, now)
	b := domain.NewNode(domain.NodeSkill, "compilers", 0.7, now)
	b.Status = domain.StatusDeprecated
	return &domain.Snapshot{
		Version:               domain.SnapshotVersion,
		SavedAt:               now,
		LastMaintenancePassID: "pass-7",
		Nodes:                 []*domain.Node{a, b},
		Edges: []*domain.Edge{
			{Source: a.ID, Target: b.ID, Relation: domain.RelKnows, Weight: 1, CreatedAt: now},
		},
	}
}

func TestFileSnapshotStore_RoundTrip(t *testing.T) {
	s, err := NewFileSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	snap := testSnapshot()
	if err := s.Save(snap); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Version != snap.Version || loaded.LastMaintenancePassID != "pass-7" {
		t.Errorf("metadata lost: %+v", loaded)
	}
	if len(loaded.Nodes) != 2 || len(loaded.Edges) != 1 {
		t.Fatalf("contents lost: %d nodes, %d edges", len(loaded.Nodes), len(loaded.Edges))
	}
	if loaded.Nodes[0].ID != snap.Nodes[0].ID || loaded.Nodes[0].Confidence != snap.Nodes[0].Confidence {
		t.Errorf("node fields differ after round trip")
	}
	if loaded.Nodes[1].Status != domain.StatusDeprecated {
		t.Errorf("deprecated status lost")
	}
}

func TestFileSnapshotStore_LoadMissing(t *testing.T) {
	s, _ := NewFileSnapshotStore(t.TempDir())
	_, err := s.Load()
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFileSnapshotStore_SaveClearsPendingMarker(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileSnapshotStore(dir)
	if err := s.Save(testSnapshot()); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, pendingFile)); !errors.Is(err, os.ErrNotExist) {
		t.Error("pending marker left behind after successful save")
	}
	pending, err := s.PendingRecovery()
	if err != nil || pending {
		t.Errorf("pending = %v err = %v, want clean state", pending, err)
	}
}

func TestFileSnapshotStore_DetectsInterruptedWrite(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileSnapshotStore(dir)
	if err := s.Save(testSnapshot()); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-write: marker present, temp file partial.
	if err := os.WriteFile(filepath.Join(dir, pendingFile), []byte("t\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, snapshotTmp), []byte(`{"version":1,"nod`), 0o644); err != nil {
		t.Fatal(err)
	}

	pending, err := s.PendingRecovery()
	if err != nil {
		t.Fatal(err)
	}
	if !pending {
		t.Fatal("interrupted write not detected")
	}
	if _, err := os.Stat(filepath.Join(dir, snapshotTmp)); !errors.Is(err, os.ErrNotExist) {
		t.Error("partial temp file not cleaned up")
	}

	// The committed snapshot is intact.
	loaded, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Nodes) != 2 {
		t.Errorf("committed snapshot damaged: %d nodes", len(loaded.Nodes))
	}
}

func TestFileSnapshotStore_RejectsCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileSnapshotStore(dir)
	if err := os.WriteFile(filepath.Join(dir, snapshotFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := s.Load()
	if !errors.Is(err, domain.ErrPersistenceFailure) {
		t.Errorf("err = %v, want ErrPersistenceFailure", err)
	}
}

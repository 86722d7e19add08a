package driftwatch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"go.uber.org/zap"
)

func TestSnapshotStore_LoadMissing(t *testing.T) {
	store := NewSnapshotStore[int](t.TempDir(), zap.NewNop())

	snap := store.Load(KindPorts)
	if len(snap.Elements) != 0 {
		t.Errorf("missing record must load as empty snapshot, got %v", snap.Elements)
	}
	if snap.Kind != KindPorts {
		t.Errorf("kind = %q, want %q", snap.Kind, KindPorts)
	}
}

func TestSnapshotStore_SaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store := NewSnapshotStore[int](dir, zap.NewNop())

	if err := store.Save(KindPorts, NewSnapshot(KindPorts, []int{443, 22, 80, 22})); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	snap := store.Load(KindPorts)
	if !slices.Equal(snap.Elements, []int{22, 80, 443}) {
		t.Errorf("elements = %v, want [22 80 443]", snap.Elements)
	}
	if snap.Version != SnapshotSchemaVersion {
		t.Errorf("version = %d, want %d", snap.Version, SnapshotSchemaVersion)
	}
	if snap.CapturedAt == 0 {
		t.Errorf("captured_at must be set")
	}

	// No temp file may be left behind.
	if _, err := os.Stat(filepath.Join(dir, "ports.json.tmp")); !os.IsNotExist(err) {
		t.Errorf("temp file left behind after save")
	}
}

func TestSnapshotStore_SaveReplacesFully(t *testing.T) {
	store := NewSnapshotStore[string](t.TempDir(), zap.NewNop())

	if err := store.Save(KindHosts, NewSnapshot(KindHosts, []string{"10.0.0.5", "10.0.0.6"})); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := store.Save(KindHosts, NewSnapshot(KindHosts, []string{"10.0.0.9"})); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	snap := store.Load(KindHosts)
	if !slices.Equal(snap.Elements, []string{"10.0.0.9"}) {
		t.Errorf("persisted snapshot must be a full replace, got %v", snap.Elements)
	}
}

func TestSnapshotStore_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	store := NewSnapshotStore[int](dir, zap.NewNop())

	if err := os.WriteFile(filepath.Join(dir, "ports.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	snap := store.Load(KindPorts)
	if len(snap.Elements) != 0 {
		t.Errorf("corrupt record must load as empty snapshot, got %v", snap.Elements)
	}
}

func TestSnapshotStore_UnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	store := NewSnapshotStore[int](dir, zap.NewNop())

	record, _ := json.Marshal(Snapshot[int]{Version: 99, Kind: KindPorts, Elements: []int{22}})
	if err := os.WriteFile(filepath.Join(dir, "ports.json"), record, 0644); err != nil {
		t.Fatal(err)
	}

	snap := store.Load(KindPorts)
	if len(snap.Elements) != 0 {
		t.Errorf("unsupported schema version must load as empty, got %v", snap.Elements)
	}
}

func TestSnapshotStore_SaveCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	store := NewSnapshotStore[int](dir, zap.NewNop())

	if err := store.Save(KindPorts, NewSnapshot(KindPorts, []int{22})); err != nil {
		t.Fatalf("save into missing directory failed: %v", err)
	}
}

func TestSnapshotStore_SaveFailureIsPersistenceError(t *testing.T) {
	// Point the store at a path whose parent is a regular file so MkdirAll
	// must fail.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	store := NewSnapshotStore[int](filepath.Join(blocker, "state"), zap.NewNop())
	err := store.Save(KindPorts, NewSnapshot(KindPorts, []int{22}))
	if err == nil {
		t.Fatal("expected save to fail")
	}
	if !IsPersistenceError(err) {
		t.Errorf("save failure must classify as persistence error, got %v", err)
	}
}

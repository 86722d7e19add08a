package driftwatch

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Snapshot store errors
var (
	ErrSnapshotPersist = errors.New("failed to persist snapshot")
)

// SnapshotSchemaVersion is the current schema version for persisted snapshots.
// Records with a different version are treated as absent so a future format
// change can never poison the baseline.
const SnapshotSchemaVersion = 1

// Snapshot is the deduplicated set of observed elements for one entity kind
// at one point in time. Snapshots are immutable once produced and compared
// only by their element sets, never by timestamp.
type Snapshot[T cmp.Ordered] struct {
	Version    int        `json:"version"`
	Kind       EntityKind `json:"kind"`
	Elements   []T        `json:"elements"`
	CapturedAt int64      `json:"captured_at"`
}

// NewSnapshot builds a normalized snapshot captured now.
func NewSnapshot[T cmp.Ordered](kind EntityKind, elements []T) Snapshot[T] {
	return Snapshot[T]{
		Version:    SnapshotSchemaVersion,
		Kind:       kind,
		Elements:   Normalize(elements),
		CapturedAt: time.Now().Unix(),
	}
}

// SnapshotStore persists one snapshot per entity kind as a JSON record under
// a state directory. Load is tolerant: a missing, unreadable or malformed
// record degrades to an empty snapshot. Save is a full atomic replace and its
// failure is fatal for the invocation, since a stale baseline would silently
// disable change detection on every future run.
type SnapshotStore[T cmp.Ordered] struct {
	dir    string
	logger *zap.Logger
}

// NewSnapshotStore creates a store rooted at dir.
func NewSnapshotStore[T cmp.Ordered](dir string, logger *zap.Logger) *SnapshotStore[T] {
	return &SnapshotStore[T]{
		dir:    dir,
		logger: logger.With(zap.String("component", "snapshot_store")),
	}
}

func (s *SnapshotStore[T]) path(kind EntityKind) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", kind))
}

// Load reads the persisted snapshot for kind. It never fails the caller: any
// problem with the backing record yields an empty snapshot, which by
// construction makes the next cycle a first run for that kind.
func (s *SnapshotStore[T]) Load(kind EntityKind) Snapshot[T] {
	empty := Snapshot[T]{Version: SnapshotSchemaVersion, Kind: kind}

	data, err := os.ReadFile(s.path(kind))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read snapshot, treating as empty",
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}
		return empty
	}

	var snap Snapshot[T]
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("Malformed snapshot record, treating as empty",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return empty
	}

	if snap.Version != SnapshotSchemaVersion {
		s.logger.Warn("Unsupported snapshot schema version, treating as empty",
			zap.String("kind", string(kind)),
			zap.Int("version", snap.Version),
		)
		return empty
	}

	snap.Kind = kind
	snap.Elements = Normalize(snap.Elements)
	return snap
}

// Save writes the snapshot for kind, fully replacing the previous record.
// The write goes through a temp file plus rename so a crash mid-write can
// never leave a truncated baseline behind.
func (s *SnapshotStore[T]) Save(kind EntityKind, snap Snapshot[T]) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: create state directory: %v", ErrSnapshotPersist, err)
	}

	snap.Version = SnapshotSchemaVersion
	snap.Kind = kind
	snap.Elements = Normalize(snap.Elements)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrSnapshotPersist, err)
	}

	target := s.path(kind)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrSnapshotPersist, tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", ErrSnapshotPersist, target, err)
	}

	s.logger.Debug("Snapshot saved",
		zap.String("kind", string(kind)),
		zap.Int("element_count", len(snap.Elements)),
		zap.String("file", target),
	)
	return nil
}

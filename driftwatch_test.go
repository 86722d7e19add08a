package driftwatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

// newCycleFixture builds an App wired to a counting webhook endpoint and a
// temp state directory, plus a port-kind cycle spec whose observation is the
// given canned scan output.
func newCycleFixture(t *testing.T, raw string, observeErr error) (*App, cycleSpec[int], *atomic.Int32) {
	t.Helper()

	var delivered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	cfg := validTestConfig()
	cfg.WebhookURL = srv.URL
	cfg.StateDir = t.TempDir()
	cfg.ResolveHostNames = false

	app, err := NewApp(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	spec := cycleSpec[int]{
		desc:  PortsDescriptor(),
		scope: cfg.Target,
		observe: func(ctx context.Context) (string, error) {
			if observeErr != nil {
				return "", observeErr
			}
			return raw, nil
		},
		parse: ParseGreppablePorts,
		store: app.PortStore,
	}
	return app, spec, &delivered
}

func TestRunCycle_FirstObservation(t *testing.T) {
	raw := "Host: x\tPorts: 22/open/tcp//ssh///, 80/open/tcp//http///\n"
	app, spec, delivered := newCycleFixture(t, raw, nil)

	cycle, err := runCycle(context.Background(), app, spec)
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	if !cycle.FirstRun {
		t.Error("expected first-run cycle")
	}
	if delivered.Load() != 1 {
		t.Errorf("notifications = %d, want exactly 1 first-observation alert", delivered.Load())
	}

	// Snapshot persisted unconditionally.
	snap := app.PortStore.Load(KindPorts)
	if !slices.Equal(snap.Elements, []int{22, 80}) {
		t.Errorf("persisted elements = %v, want [22 80]", snap.Elements)
	}
}

func TestRunCycle_NoChangeIsSilent(t *testing.T) {
	raw := "Host: x\tPorts: 22/open/tcp//ssh///\n"
	app, spec, delivered := newCycleFixture(t, raw, nil)

	if err := app.PortStore.Save(KindPorts, NewSnapshot(KindPorts, []int{22})); err != nil {
		t.Fatal(err)
	}

	if _, err := runCycle(context.Background(), app, spec); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if delivered.Load() != 0 {
		t.Errorf("notifications = %d, want 0 for an unchanged set", delivered.Load())
	}
}

func TestRunCycle_AddedAndRemoved(t *testing.T) {
	raw := "Host: x\tPorts: 22/open/tcp//ssh///, 443/open/tcp//https///\n"
	app, spec, delivered := newCycleFixture(t, raw, nil)

	if err := app.PortStore.Save(KindPorts, NewSnapshot(KindPorts, []int{22, 80})); err != nil {
		t.Fatal(err)
	}

	cycle, err := runCycle(context.Background(), app, spec)
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	// Port 443 appeared and port 80 disappeared: two independent alerts.
	if delivered.Load() != 2 {
		t.Errorf("notifications = %d, want 2", delivered.Load())
	}
	if !slices.Equal(cycle.Added, []string{"443"}) {
		t.Errorf("report added = %v, want [443]", cycle.Added)
	}
	if !slices.Equal(cycle.Removed, []string{"80"}) {
		t.Errorf("report removed = %v, want [80]", cycle.Removed)
	}

	snap := app.PortStore.Load(KindPorts)
	if !slices.Equal(snap.Elements, []int{22, 443}) {
		t.Errorf("persisted elements = %v, want [22 443]", snap.Elements)
	}
}

func TestRunCycle_ScanFailureLeavesSnapshotUntouched(t *testing.T) {
	app, spec, delivered := newCycleFixture(t, "", ErrScanFailed)

	if err := app.PortStore.Save(KindPorts, NewSnapshot(KindPorts, []int{22, 80})); err != nil {
		t.Fatal(err)
	}

	cycle, err := runCycle(context.Background(), app, spec)
	if err == nil {
		t.Fatal("expected cycle error for failed observation")
	}
	if !cycle.Skipped {
		t.Error("cycle must be marked skipped")
	}
	if IsPersistenceError(err) {
		t.Error("scan failure must stay transient, not fatal")
	}
	if delivered.Load() != 0 {
		t.Errorf("notifications = %d, want 0: a failed scan must never alert", delivered.Load())
	}

	// The baseline survives for the next invocation.
	snap := app.PortStore.Load(KindPorts)
	if !slices.Equal(snap.Elements, []int{22, 80}) {
		t.Errorf("snapshot was modified after a failed scan: %v", snap.Elements)
	}
}

func TestRunCycle_PersistFailureIsFatal(t *testing.T) {
	raw := "Host: x\tPorts: 22/open/tcp//ssh///\n"
	app, spec, _ := newCycleFixture(t, raw, nil)

	// Replace the store with one whose state directory cannot be created.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	spec.store = NewSnapshotStore[int](filepath.Join(blocker, "state"), zap.NewNop())

	_, err := runCycle(context.Background(), app, spec)
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if !IsPersistenceError(err) {
		t.Errorf("save failure must classify as fatal, got: %v", err)
	}
}

func TestRunCycle_EmptyObservationStillRemoves(t *testing.T) {
	// A scan that succeeds but observes nothing is a legitimate (if
	// suspicious) observation: previously seen elements produce a removal
	// alert and the empty set is persisted.
	app, spec, delivered := newCycleFixture(t, "# Nmap done -- 0 hosts up\n", nil)

	if err := app.PortStore.Save(KindPorts, NewSnapshot(KindPorts, []int{22})); err != nil {
		t.Fatal(err)
	}

	cycle, err := runCycle(context.Background(), app, spec)
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if delivered.Load() != 1 {
		t.Errorf("notifications = %d, want 1 removal alert", delivered.Load())
	}
	if !slices.Equal(cycle.Removed, []string{"22"}) {
		t.Errorf("report removed = %v, want [22]", cycle.Removed)
	}

	snap := app.PortStore.Load(KindPorts)
	if len(snap.Elements) != 0 {
		t.Errorf("persisted elements = %v, want empty", snap.Elements)
	}
}

func TestAppErrorClassification(t *testing.T) {
	timeout := NewAppError(ErrScanTimeout, ErrCodeTimeout, "scan exceeded 5s", "scanner", "run")
	if !IsTimeoutError(timeout) {
		t.Error("timeout AppError not recognized")
	}
	if GetErrorCode(timeout) != ErrCodeTimeout {
		t.Errorf("code = %v, want timeout", GetErrorCode(timeout))
	}

	if GetErrorCode(errors.New("plain")) != ErrCodeUnknown {
		t.Error("plain error must classify as unknown")
	}

	wrapped := NewAppError(ErrScanFailed, ErrCodeExternal, "scan process exited abnormally", "scanner", "run")
	if !errors.Is(wrapped, ErrScanFailed) {
		t.Error("AppError must unwrap to its underlying sentinel")
	}
}

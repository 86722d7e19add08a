package driftwatch

import (
	"context"
	"errors"
	"slices"
	"testing"

	"go.uber.org/zap"
)

func TestBuildPortScanArgs(t *testing.T) {
	args := buildPortScanArgs("192.168.1.10")
	want := []string{"-p-", "-sV", "-Pn", "-oG", "-", "192.168.1.10"}
	if !slices.Equal(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestBuildHostSweepArgs(t *testing.T) {
	args := buildHostSweepArgs("10.0.0.0/24")
	want := []string{"-sn", "-oG", "-", "10.0.0.0/24"}
	if !slices.Equal(args, want) {
		t.Errorf("args = %v, want %v", args, want)
	}
}

func TestScanRunner_MissingTool(t *testing.T) {
	cfg := validTestConfig()
	cfg.NmapPath = "/nonexistent/driftwatch-test-nmap"
	runner := NewScanRunner(cfg, zap.NewNop())

	_, err := runner.HostSweep(context.Background(), "10.0.0.0/24")
	if err == nil {
		t.Fatal("expected error for missing scan tool")
	}
	if !errors.Is(err, ErrScanFailed) {
		t.Errorf("expected ErrScanFailed, got: %v", err)
	}
	if IsPersistenceError(err) {
		t.Error("scan failure must not classify as a fatal persistence error")
	}
}

func TestScanRunner_Timeout(t *testing.T) {
	cfg := validTestConfig()
	cfg.NmapPath = "/bin/sleep"
	cfg.HostScanTimeout = 1
	runner := NewScanRunner(cfg, zap.NewNop())

	// The "subnet" becomes sleep's duration argument; it sleeps past the
	// 1s timeout.
	_, err := runner.HostSweep(context.Background(), "5")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTimeoutError(err) {
		t.Errorf("expected timeout classification, got: %v", err)
	}
}

func TestScanRunner_CapturesStdout(t *testing.T) {
	cfg := validTestConfig()
	cfg.NmapPath = "/bin/echo"
	runner := NewScanRunner(cfg, zap.NewNop())

	out, err := runner.HostSweep(context.Background(), "10.0.0.0/24")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// echo prints its arguments, ending with the scan scope.
	if len(out) == 0 {
		t.Error("expected captured stdout")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("  short  ", 10); got != "short" {
		t.Errorf("truncate = %q, want %q", got, "short")
	}
	if got := truncate("abcdefghij", 4); got != "abcd..." {
		t.Errorf("truncate = %q, want %q", got, "abcd...")
	}
}

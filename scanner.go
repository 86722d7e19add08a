package driftwatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Scan invocation errors
var (
	ErrScanFailed  = errors.New("scan invocation failed")
	ErrScanTimeout = errors.New("scan timed out")
)

// ScanRunner invokes the external scan tool and hands its raw greppable
// output to the parser. The tool is treated as an opaque process: the only
// contract is that it exits within the timeout and writes line-oriented text
// to stdout. A full port scan can run for minutes; both invocations are
// bounded by explicit per-kind timeouts rather than left to hang.
type ScanRunner struct {
	nmapPath    string
	portTimeout time.Duration
	hostTimeout time.Duration
	logger      *zap.Logger
}

// NewScanRunner creates a runner using the configured tool path and timeouts.
func NewScanRunner(config *Config, logger *zap.Logger) *ScanRunner {
	return &ScanRunner{
		nmapPath:    config.NmapPath,
		portTimeout: time.Duration(config.PortScanTimeout) * time.Second,
		hostTimeout: time.Duration(config.HostScanTimeout) * time.Second,
		logger:      logger.With(zap.String("component", "scanner")),
	}
}

// buildPortScanArgs constructs the argument list for a full-port
// service-detection scan of a single target, in greppable output format.
func buildPortScanArgs(target string) []string {
	return []string{"-p-", "-sV", "-Pn", "-oG", "-", target}
}

// buildHostSweepArgs constructs the argument list for a ping-sweep
// host-discovery scan of a subnet, in greppable output format.
func buildHostSweepArgs(subnet string) []string {
	return []string{"-sn", "-oG", "-", subnet}
}

// PortScan runs a full-port scan of target and returns the raw tool output.
func (s *ScanRunner) PortScan(ctx context.Context, target string) (string, error) {
	return s.run(ctx, buildPortScanArgs(target), s.portTimeout, target)
}

// HostSweep runs a host-discovery sweep of subnet and returns the raw tool output.
func (s *ScanRunner) HostSweep(ctx context.Context, subnet string) (string, error) {
	return s.run(ctx, buildHostSweepArgs(subnet), s.hostTimeout, subnet)
}

// run executes the scan tool with the given arguments, bounded by timeout.
// A timeout or non-zero exit is an error; the caller aborts that entity
// kind's cycle rather than diffing against an observation that never
// happened.
func (s *ScanRunner) run(ctx context.Context, args []string, timeout time.Duration, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.nmapPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Info("Running scan",
		zap.String("tool", s.nmapPath),
		zap.Strings("args", args),
		zap.Duration("timeout", timeout),
	)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		s.logger.Error("Scan timed out",
			zap.String("target", target),
			zap.Duration("elapsed", elapsed),
		)
		return "", NewAppError(ErrScanTimeout, ErrCodeTimeout,
			fmt.Sprintf("scan exceeded %s", timeout), "scanner", "run").WithTarget(target)
	}

	if err != nil {
		s.logger.Error("Scan process failed",
			zap.String("target", target),
			zap.Duration("elapsed", elapsed),
			zap.String("stderr", truncate(stderr.String(), 512)),
			zap.Error(err),
		)
		return "", NewAppError(fmt.Errorf("%w: %v", ErrScanFailed, err), ErrCodeExternal,
			"scan process exited abnormally", "scanner", "run").WithTarget(target)
	}

	s.logger.Info("Scan completed",
		zap.String("target", target),
		zap.Duration("elapsed", elapsed),
		zap.Int("output_bytes", stdout.Len()),
	)
	return stdout.String(), nil
}

// truncate shortens s to at most n bytes for log fields.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

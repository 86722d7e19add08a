package driftwatch

import (
	"strconv"
	"strings"
)

// Observation parsing for nmap greppable (-oG) output.
//
// Parsing is deliberately total: malformed lines are skipped, unrecognized
// input yields an empty set, and no parse path returns an error. A broken
// scan is diagnosed from the scan invocation's own exit status, which the
// orchestrator checks separately, never from an empty parse result.

// ParseGreppablePorts extracts open ports from greppable port-scan output.
// Port-state lines carry a "Ports:" marker followed by comma-separated
// port/state/protocol/... tuples; only entries in state "open" are kept.
// The result is deduplicated and sorted.
func ParseGreppablePorts(raw string) []int {
	var ports []int
	for _, line := range strings.Split(raw, "\n") {
		_, fieldData, found := strings.Cut(line, "Ports:")
		if !found {
			continue
		}
		for _, entry := range strings.Split(fieldData, ",") {
			segs := strings.Split(strings.TrimSpace(entry), "/")
			if len(segs) < 2 || segs[1] != "open" {
				continue
			}
			port, err := strconv.Atoi(segs[0])
			if err != nil || port <= 0 {
				continue
			}
			ports = append(ports, port)
		}
	}
	return Normalize(ports)
}

// ParseGreppableHosts extracts live host addresses from greppable host-sweep
// output. A host counts as observed when its "Host:" line carries an up
// status; the address is the token following the marker. The result is
// deduplicated and sorted.
func ParseGreppableHosts(raw string) []string {
	var hosts []string
	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(line, "Host:") || !strings.Contains(line, "Status: Up") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		hosts = append(hosts, fields[1])
	}
	return Normalize(hosts)
}

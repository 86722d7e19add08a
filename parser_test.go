package driftwatch

import (
	"slices"
	"testing"
)

const samplePortOutput = `# Nmap 7.94 scan initiated as: nmap -p- -sV -Pn -oG - 192.168.1.10
Host: 192.168.1.10 ()	Status: Up
Host: 192.168.1.10 ()	Ports: 22/open/tcp//ssh//OpenSSH 9.6/, 80/open/tcp//http//nginx/, 443/open/tcp//http//nginx/, 8080/closed/tcp//http-proxy///, 25/filtered/tcp//smtp///	Ignored State: closed (65530)
# Nmap done -- 1 IP address (1 host up) scanned
`

const sampleHostOutput = `# Nmap 7.94 scan initiated as: nmap -sn -oG - 10.0.0.0/24
Host: 10.0.0.1 (gateway.lan)	Status: Up
Host: 10.0.0.5 ()	Status: Up
Host: 10.0.0.9 ()	Status: Down
Host: 10.0.0.5 ()	Status: Up
# Nmap done -- 256 IP addresses (3 hosts up) scanned
`

func TestParseGreppablePorts(t *testing.T) {
	t.Run("keeps only open ports", func(t *testing.T) {
		got := ParseGreppablePorts(samplePortOutput)
		if !slices.Equal(got, []int{22, 80, 443}) {
			t.Errorf("ports = %v, want [22 80 443]", got)
		}
	})

	t.Run("deduplicates across lines", func(t *testing.T) {
		raw := "Host: a\tPorts: 80/open/tcp//http///\nHost: a\tPorts: 80/open/tcp//http///, 22/open/tcp//ssh///\n"
		got := ParseGreppablePorts(raw)
		if !slices.Equal(got, []int{22, 80}) {
			t.Errorf("ports = %v, want [22 80]", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := ParseGreppablePorts(""); len(got) != 0 {
			t.Errorf("empty input must yield empty set, got %v", got)
		}
	})

	t.Run("no recognizable markers", func(t *testing.T) {
		raw := "Starting Nmap\nfoo bar baz\nNmap done\n"
		if got := ParseGreppablePorts(raw); len(got) != 0 {
			t.Errorf("unrecognized input must yield empty set, got %v", got)
		}
	})

	t.Run("malformed entries skipped", func(t *testing.T) {
		raw := "Host: a\tPorts: garbage, /open/, -5/open/tcp///, 22/open/tcp//ssh///, 99999x/open/\n"
		got := ParseGreppablePorts(raw)
		if !slices.Equal(got, []int{22}) {
			t.Errorf("ports = %v, want [22]", got)
		}
	})
}

func TestParseGreppableHosts(t *testing.T) {
	t.Run("keeps only hosts that are up", func(t *testing.T) {
		got := ParseGreppableHosts(sampleHostOutput)
		if !slices.Equal(got, []string{"10.0.0.1", "10.0.0.5"}) {
			t.Errorf("hosts = %v, want [10.0.0.1 10.0.0.5]", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := ParseGreppableHosts(""); len(got) != 0 {
			t.Errorf("empty input must yield empty set, got %v", got)
		}
	})

	t.Run("line without address token skipped", func(t *testing.T) {
		raw := "Host:\nHost: 10.0.0.7 ()\tStatus: Up\n"
		got := ParseGreppableHosts(raw)
		if !slices.Equal(got, []string{"10.0.0.7"}) {
			t.Errorf("hosts = %v, want [10.0.0.7]", got)
		}
	})

	t.Run("status marker required", func(t *testing.T) {
		raw := "Host: 10.0.0.7 ()\tStatus: Down\n10.0.0.8 Status: Up\n"
		if got := ParseGreppableHosts(raw); len(got) != 0 {
			t.Errorf("hosts = %v, want empty", got)
		}
	})
}

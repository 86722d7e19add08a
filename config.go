package driftwatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config errors
var (
	ErrInvalidTarget      = errors.New("invalid target host")
	ErrInvalidSubnet      = errors.New("invalid subnet")
	ErrInvalidScanTimeout = errors.New("invalid scan timeout")
	ErrInvalidPath        = errors.New("invalid path")
	ErrMissingCredentials = errors.New("missing credentials for authentication")
)

// Config represents the configuration for the driftwatch application. It is
// constructed once at startup (file, then environment overrides) and passed
// into the orchestrator explicitly; nothing in the pipeline reads ambient
// state.
type Config struct {
	// Observation configuration
	Target          string `json:"target"`
	Subnet          string `json:"subnet"`
	NmapPath        string `json:"nmap_path"`
	PortScanTimeout int    `json:"port_scan_timeout_seconds"`
	HostScanTimeout int    `json:"host_scan_timeout_seconds"`

	// Notification configuration
	WebhookURL      string `json:"webhook_url"`
	WebhookUsername string `json:"webhook_username"`
	WebhookTimeout  int    `json:"webhook_timeout_seconds"`
	DryRun          bool   `json:"dry_run"`

	// State configuration
	StateDir string `json:"state_dir"`

	// Logging configuration
	LogDir   string `json:"log_dir"`
	LogLevel string `json:"log_level"`

	// Report configuration
	ReportDir     string   `json:"report_dir"`
	ReportFormats []string `json:"report_formats"`
	ConsoleReport bool     `json:"console_report"`

	// Host name enrichment configuration
	ResolveHostNames   bool `json:"resolve_host_names"`
	ResolveConcurrency int  `json:"resolve_concurrency"`
	ResolveCacheTTL    int  `json:"resolve_cache_ttl_minutes"`

	// Metrics configuration
	MetricsEnabled  bool   `json:"metrics_enabled"`
	MetricsPort     string `json:"metrics_port"`
	MetricsTLS      bool   `json:"metrics_tls"`
	MetricsHostname string `json:"metrics_hostname"`
	MetricsAuth     bool   `json:"metrics_auth"`
	MetricsUsername string `json:"metrics_username"`
	MetricsPassword string `json:"metrics_password"`
}

// LoadConfig loads configuration from a JSON file and applies environment
// overrides on top.
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnvOverrides()
	return config, nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		NmapPath:        "nmap",
		PortScanTimeout: 300,
		HostScanTimeout: 120,

		WebhookUsername: "driftwatch",
		WebhookTimeout:  10,

		StateDir: "driftwatch/state",

		LogDir:   "driftwatch/logging",
		LogLevel: "info",

		ReportDir:     "driftwatch/reporting",
		ReportFormats: []string{"json"},
		ConsoleReport: true,

		ResolveHostNames:   true,
		ResolveConcurrency: 8,
		ResolveCacheTTL:    60,

		MetricsEnabled:  false,
		MetricsPort:     "8080",
		MetricsHostname: "localhost",
	}
}

// ApplyEnvOverrides overlays the environment variables the original
// deployment supplied out-of-band. Empty variables leave the file-sourced
// values untouched.
func (c *Config) ApplyEnvOverrides() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"DISCORD_WEBHOOK", &c.WebhookURL},
		{"NMAP_PATH", &c.NmapPath},
		{"TARGET", &c.Target},
		{"SUBNET", &c.Subnet},
		{"STATE_DIR", &c.StateDir},
		{"LOG_DIR", &c.LogDir},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// SaveConfig saves the current configuration to a file.
func (c *Config) SaveConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Target == "" || (!IsValidIP(c.Target) && !IsValidHostname(c.Target)) {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, c.Target)
	}
	if c.Subnet == "" || (!IsValidCIDR(c.Subnet) && !IsValidIP(c.Subnet)) {
		return fmt.Errorf("%w: %q", ErrInvalidSubnet, c.Subnet)
	}

	if c.PortScanTimeout < 1 {
		return fmt.Errorf("%w: port scan %d", ErrInvalidScanTimeout, c.PortScanTimeout)
	}
	if c.HostScanTimeout < 1 {
		return fmt.Errorf("%w: host scan %d", ErrInvalidScanTimeout, c.HostScanTimeout)
	}
	if c.WebhookTimeout < 1 {
		c.WebhookTimeout = 10
	}

	if c.StateDir == "" || c.LogDir == "" || c.ReportDir == "" {
		return fmt.Errorf("%w: directory paths cannot be empty", ErrInvalidPath)
	}

	if c.ResolveConcurrency < 1 {
		c.ResolveConcurrency = 1
	}
	if c.ResolveCacheTTL < 1 {
		c.ResolveCacheTTL = 60
	}

	// Log level validation
	logLevel := strings.ToLower(c.LogLevel)
	if logLevel != "debug" && logLevel != "info" && logLevel != "warn" && logLevel != "error" {
		c.LogLevel = "info" // Default to info if invalid
	}

	// Metrics authentication validation
	if c.MetricsAuth && (c.MetricsUsername == "" || c.MetricsPassword == "") {
		return fmt.Errorf("%w: both username and password required when auth enabled", ErrMissingCredentials)
	}

	// Report format validation
	validFormats := map[string]bool{
		"json": true,
		"csv":  true,
		"pdf":  true,
	}
	var formats []string
	for _, format := range c.ReportFormats {
		format = strings.ToLower(format)
		if validFormats[format] {
			formats = append(formats, format)
		}
	}
	if len(formats) == 0 {
		formats = []string{"json"}
	}
	c.ReportFormats = formats

	return nil
}

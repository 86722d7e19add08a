package driftwatch

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/time/rate"
)

// AppVersion represents the application version
const (
	AppVersion = "1.0.0"
)

// Application errors
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// -------------- Prometheus Metrics --------------

// Metrics holds all Prometheus metrics used by the application
type Metrics struct {
	ScanDuration       *prometheus.HistogramVec
	ObservedElements   *prometheus.GaugeVec
	ChangesDetected    *prometheus.CounterVec
	NotificationStatus *prometheus.CounterVec
	OperationStatus    *prometheus.CounterVec
}

// NewMetrics initializes and returns a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "driftwatch_scan_duration_seconds",
				Help:    "Duration of external scan invocations in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"kind"},
		),
		ObservedElements: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "driftwatch_observed_elements",
				Help: "Number of elements observed in the latest cycle per entity kind.",
			},
			[]string{"kind"},
		),
		ChangesDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_changes_detected_total",
				Help: "Total number of change events raised by the diff engine.",
			},
			[]string{"kind", "change_type"},
		),
		NotificationStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_notifications_total",
				Help: "Notification delivery attempts by outcome.",
			},
			[]string{"kind", "status"},
		),
		OperationStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftwatch_operation_status",
				Help: "Status of pipeline operations (scan, persist, report).",
			},
			[]string{"operation", "status"},
		),
	}
}

// Register registers all metrics with Prometheus
func (m *Metrics) Register() {
	prometheus.MustRegister(
		m.ScanDuration,
		m.ObservedElements,
		m.ChangesDetected,
		m.NotificationStatus,
		m.OperationStatus,
	)
}

// -------------- Application --------------

// App represents the main application with its dependencies
type App struct {
	Config     *Config
	Logger     *zap.Logger
	Metrics    *Metrics
	Scanner    *ScanRunner
	Notifier   *WebhookNotifier
	Resolver   *Resolver
	PortStore  *SnapshotStore[int]
	HostStore  *SnapshotStore[string]
	MetricsSrv *http.Server
	runID      string
}

// NewApp creates a new application instance
func NewApp(config *Config, logger *zap.Logger) (*App, error) {
	app := &App{
		Config:    config,
		Logger:    logger,
		Metrics:   NewMetrics(),
		Scanner:   NewScanRunner(config, logger),
		Notifier:  NewWebhookNotifier(config, logger),
		PortStore: NewSnapshotStore[int](config.StateDir, logger),
		HostStore: NewSnapshotStore[string](config.StateDir, logger),
		runID:     uuid.New().String(),
	}

	if config.ResolveHostNames {
		resolver, err := NewResolver(config, logger)
		if err != nil {
			return nil, err
		}
		app.Resolver = resolver
	}

	return app, nil
}

// RunID returns the unique identifier for this invocation.
func (a *App) RunID() string {
	return a.runID
}

// -------------- Logging Initialization --------------

// SetupLogger configures and initializes the logger
func SetupLogger(config *Config) (*zap.Logger, error) {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}
	timestamp := time.Now().Format("20060102_150405")
	logFile := filepath.Join(config.LogDir, fmt.Sprintf("driftwatch_log_%s.log", timestamp))

	// Create custom encoder config
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig = encoderConfig
	cfg.OutputPaths = []string{logFile, "stdout"}
	cfg.Level = zap.NewAtomicLevelAt(parseLogLevel(config.LogLevel))
	cfg.Development = config.LogLevel == "debug"

	logger, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	logger = logger.With(
		zap.String("version", AppVersion),
		zap.String("pid", strconv.Itoa(os.Getpid())),
	)

	return logger, nil
}

// parseLogLevel converts a string log level to zapcore.Level
func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// -------------- Main --------------

// Run is the entry point for the application. One invocation performs one
// complete detection pass: two independent observe/diff/notify/persist cycles,
// then reports, then exit. Scheduling repeat runs belongs to an external
// timer, not to this process.
func Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	dryRun := flag.Bool("dry-run", false, "Log alerts instead of delivering them")
	flag.Parse()

	if *showVersion {
		fmt.Printf("driftwatch version %s\n", AppVersion)
		return nil
	}

	// Load configuration
	var config *Config
	if *configPath != "" {
		var err error
		config, err = LoadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		config = DefaultConfig()
		config.ApplyEnvOverrides()
	}

	if *dryRun {
		config.DryRun = true
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Setup logger
	logger, err := SetupLogger(config)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	// Initialize application
	app, err := NewApp(config, logger)
	if err != nil {
		return err
	}
	defer func() {
		if app.Resolver != nil {
			app.Resolver.Close()
		}
	}()

	logger.Info("Driftwatch starting...",
		zap.String("version", AppVersion),
		zap.String("run_id", app.runID),
		zap.String("target", config.Target),
		zap.String("subnet", config.Subnet),
	)

	// Register Prometheus metrics if enabled; the server stays up for the
	// duration of the run so a mid-scan scrape can observe progress.
	if config.MetricsEnabled {
		app.Metrics.Register()
		srv := app.startMetricsServer(config.MetricsPort, config.MetricsTLS)
		app.MetricsSrv = srv
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("Metrics server shutdown error", zap.Error(err))
			}
		}()
	}

	if err := app.RunOnce(ctx); err != nil {
		return err
	}

	logger.Info("Driftwatch run completed", zap.String("run_id", app.runID))
	return nil
}

// -------------- Run Orchestration --------------

// cycleSpec binds one entity kind's collaborators together for runCycle. The
// observe and parse hooks are the only per-kind behavior; the cycle sequence
// itself is shared.
type cycleSpec[T cmp.Ordered] struct {
	desc    KindDescriptor
	scope   string
	observe func(ctx context.Context) (string, error)
	parse   func(raw string) []T
	store   *SnapshotStore[T]
	// extraFields, when set, enriches an alert for a change (reverse-DNS
	// names on host alerts).
	extraFields func(ctx context.Context, change Change[T]) []EmbedField
}

// RunOnce executes the two observation cycles sequentially, writes the drift
// report, and returns an error only for fatal conditions (snapshot
// persistence failure). A failed scan skips that kind's cycle and leaves its
// snapshot untouched; the other kind still runs.
func (a *App) RunOnce(ctx context.Context) error {
	report := &DriftReport{
		RunID:     a.runID,
		Generated: time.Now(),
	}

	portSpec := cycleSpec[int]{
		desc:  PortsDescriptor(),
		scope: a.Config.Target,
		observe: func(ctx context.Context) (string, error) {
			return a.Scanner.PortScan(ctx, a.Config.Target)
		},
		parse: ParseGreppablePorts,
		store: a.PortStore,
	}

	hostSpec := cycleSpec[string]{
		desc:  HostsDescriptor(),
		scope: a.Config.Subnet,
		observe: func(ctx context.Context) (string, error) {
			return a.Scanner.HostSweep(ctx, a.Config.Subnet)
		},
		parse: ParseGreppableHosts,
		store: a.HostStore,
	}
	if a.Resolver != nil {
		hostSpec.extraFields = func(ctx context.Context, change Change[string]) []EmbedField {
			if field, ok := a.Resolver.NamesField(ctx, change.Elements); ok {
				return []EmbedField{field}
			}
			return nil
		}
	}

	portCycle, portErr := runCycle(ctx, a, portSpec)
	report.Cycles = append(report.Cycles, portCycle)
	if portErr != nil && IsPersistenceError(portErr) {
		return portErr
	}

	hostCycle, hostErr := runCycle(ctx, a, hostSpec)
	report.Cycles = append(report.Cycles, hostCycle)
	if hostErr != nil && IsPersistenceError(hostErr) {
		return hostErr
	}

	a.writeReports(report)

	a.Logger.Info("Scan cycles completed",
		zap.String("run_id", a.runID),
		zap.Int("port_count", len(portCycle.Current)),
		zap.Int("host_count", len(hostCycle.Current)),
	)
	return nil
}

// runCycle performs one entity kind's observe → parse → load → diff → notify
// → persist sequence. The returned error is nil for a clean cycle, a
// transient error when the observation step failed (cycle skipped), or a
// persistence error when the final save failed (fatal for the caller).
func runCycle[T cmp.Ordered](ctx context.Context, a *App, spec cycleSpec[T]) (CycleReport, error) {
	kind := spec.desc.Kind
	logger := a.Logger.With(
		zap.String("component", "orchestrator"),
		zap.String("kind", string(kind)),
		zap.String("scope", spec.scope),
	)
	cycle := CycleReport{Kind: kind, Scope: spec.scope}

	// 1) Observe. A scan failure aborts this kind's cycle before the
	// previous snapshot is even loaded: diffing against an observation that
	// never happened would raise false disappearance alerts.
	scanStart := time.Now()
	raw, err := spec.observe(ctx)
	a.Metrics.ScanDuration.WithLabelValues(string(kind)).Observe(time.Since(scanStart).Seconds())
	if err != nil {
		a.Metrics.OperationStatus.WithLabelValues("scan", "failure").Inc()
		logger.Error("Observation failed, skipping cycle", zap.Error(err))
		cycle.Skipped = true
		return cycle, err
	}
	a.Metrics.OperationStatus.WithLabelValues("scan", "success").Inc()

	// 2) Parse. Total: an unrecognizable scan output degrades to an empty
	// observation rather than an error.
	current := spec.parse(raw)
	a.Metrics.ObservedElements.WithLabelValues(string(kind)).Set(float64(len(current)))
	if len(current) == 0 {
		logger.Warn("Scan succeeded but nothing was observed")
	}

	// 3) Load previous snapshot (empty on absence or corruption).
	previous := spec.store.Load(kind)

	// 4) Diff and notify.
	changes := Evaluate(previous.Elements, current)
	for _, change := range changes {
		a.Metrics.ChangesDetected.WithLabelValues(string(kind), change.Type.String()).Inc()
		logger.Info("Change detected",
			zap.String("change_type", change.Type.String()),
			zap.Int("changed_count", len(change.Elements)),
			zap.Int("current_count", len(change.Current)),
		)

		var extra []EmbedField
		if spec.extraFields != nil {
			extra = spec.extraFields(ctx, change)
		}
		embed := BuildEmbed(spec.desc, spec.scope, change, extra...)

		status := "failure"
		if a.Notifier.Notify(ctx, embed) {
			status = "delivered"
		}
		a.Metrics.NotificationStatus.WithLabelValues(string(kind), status).Inc()
	}
	if len(changes) == 0 {
		logger.Info("No changes detected",
			zap.Int("current_count", len(current)),
		)
	}

	// 5) Persist unconditionally, whether or not anything fired.
	if err := spec.store.Save(kind, NewSnapshot(kind, current)); err != nil {
		a.Metrics.OperationStatus.WithLabelValues("persist", "failure").Inc()
		logger.Error("Failed to persist snapshot", zap.Error(err))
		return cycle, err
	}
	a.Metrics.OperationStatus.WithLabelValues("persist", "success").Inc()

	// Fill in the report entry.
	cycle.Current = renderElements(current)
	for _, change := range changes {
		switch change.Type {
		case ChangeFirstObservation:
			cycle.FirstRun = true
			cycle.Added = renderElements(change.Elements)
		case ChangeAdded:
			cycle.Added = renderElements(change.Elements)
		case ChangeRemoved:
			cycle.Removed = renderElements(change.Elements)
		}
	}
	return cycle, nil
}

// -------------- Report Generation --------------

// writeReports generates all configured report formats. Report failures are
// logged and swallowed: by this point notifications and persistence have
// already happened.
func (a *App) writeReports(report *DriftReport) {
	if err := os.MkdirAll(a.Config.ReportDir, 0755); err != nil {
		a.Metrics.OperationStatus.WithLabelValues("report", "failure").Inc()
		a.Logger.Error("Failed to create report directory", zap.Error(err))
		return
	}

	timestamp := report.Generated.Format("20060102_150405")
	for _, format := range a.Config.ReportFormats {
		var reportFilePath string
		var err error

		switch strings.ToLower(format) {
		case "json":
			reportFilePath = filepath.Join(a.Config.ReportDir, fmt.Sprintf("driftwatch_report_%s_%s.json", timestamp, a.runID))
			err = WriteJSONDriftReport(report, reportFilePath)

		case "csv":
			reportFilePath = filepath.Join(a.Config.ReportDir, fmt.Sprintf("driftwatch_report_%s_%s.csv", timestamp, a.runID))
			err = WriteCSVDriftReport(report, reportFilePath)

		case "pdf":
			reportFilePath = filepath.Join(a.Config.ReportDir, fmt.Sprintf("driftwatch_report_%s_%s.pdf", timestamp, a.runID))
			err = WritePDFDriftReport(report, reportFilePath)

		default:
			a.Logger.Warn("Unsupported report format", zap.String("format", format))
			continue
		}

		if err != nil {
			a.Metrics.OperationStatus.WithLabelValues("report", "failure").Inc()
			a.Logger.Error("Failed to write report",
				zap.String("format", format),
				zap.String("file", reportFilePath),
				zap.Error(err),
			)
		} else {
			a.Metrics.OperationStatus.WithLabelValues("report", "success").Inc()
			a.Logger.Info("Report generated",
				zap.String("format", format),
				zap.String("file", reportFilePath),
			)
		}
	}

	if a.Config.ConsoleReport {
		PrintConsoleSummary(report)
	}
}

// -------------- Metrics server --------------

// startMetricsServer initializes and starts the metrics HTTP server
func (a *App) startMetricsServer(port string, useTLS bool) *http.Server {
	mux := http.NewServeMux()

	var handler http.Handler = promhttp.Handler()
	if a.Config.MetricsAuth {
		handler = basicAuthMiddleware(handler, a.Config.MetricsUsername, a.Config.MetricsPassword)
	}

	// Rate limiting and request logging, outermost first
	handler = rateLimitMiddleware(handler, rate.NewLimiter(5, 10))
	handler = loggerMiddleware(handler, a.Logger)

	mux.Handle("/metrics", handler)
	mux.HandleFunc("/health", healthCheckHandler)
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "driftwatch version %s\n", AppVersion)
	})

	var srv *http.Server

	if useTLS {
		certManager := autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache("certs"),
			HostPolicy: autocert.HostWhitelist(a.Config.MetricsHostname),
		}

		srv = &http.Server{
			Addr:    ":" + port,
			Handler: mux,
			TLSConfig: &tls.Config{
				GetCertificate: certManager.GetCertificate,
				MinVersion:     tls.VersionTLS12,
			},
		}

		go func() {
			a.Logger.Info("Starting TLS metrics server", zap.String("port", port))
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				a.Logger.Error("Metrics server listen failed", zap.Error(err))
			}
		}()
	} else {
		srv = &http.Server{
			Addr:    ":" + port,
			Handler: mux,
		}

		go func() {
			a.Logger.Info("Starting metrics server", zap.String("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.Logger.Error("Metrics server listen failed", zap.Error(err))
			}
		}()
	}

	return srv
}

// -------------- HTTP Middleware --------------

// basicAuthMiddleware adds basic authentication to an HTTP handler
func basicAuthMiddleware(next http.Handler, username, password string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != username || pass != password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware adds rate limiting to an HTTP handler
func rateLimitMiddleware(next http.Handler, limiter *rate.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggerMiddleware adds request logging to an HTTP handler
func loggerMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{w, http.StatusOK}
		next.ServeHTTP(rw, r)

		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Int("status", rw.statusCode),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// responseWriter is a custom response writer that captures the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// healthCheckHandler responds to health check requests
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Command resourcecore runs the Open Finance resource-monitoring core:
// discovery, sync, validation, and monitoring jobs driven by the adaptive
// job worker, against a Postgres or in-memory repository.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"resourcecore/pkg/adaptive"
	"resourcecore/pkg/admission"
	"resourcecore/pkg/config"
	"resourcecore/pkg/domain"
	"resourcecore/pkg/institution"
	"resourcecore/pkg/logging"
	"resourcecore/pkg/pipeline"
	"resourcecore/pkg/repository"
	"resourcecore/pkg/repository/memory"
	"resourcecore/pkg/repository/postgres"
	"resourcecore/pkg/resilience"
	"resourcecore/pkg/telemetry"
)

func main() {
	var (
		configFile         = flag.String("config", "", "Configuration file path")
		discoveryEndpoints = flag.String("discovery-endpoints", "", "Comma-separated list of discovery directory URLs")
	)
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		os.Exit(1)
	}

	logLevel, err := logging.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %s\n", err)
		os.Exit(1)
	}
	logFormat := logging.TextFormat
	if cfg.Logging.Format == "json" {
		logFormat = logging.JSONFormat
	}
	logOutput, err := logging.ResolveOutput(cfg.Logging.Output, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log output: %s\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(&logging.Config{
		Level:            logLevel,
		Format:           logFormat,
		Output:           logOutput,
		Component:        "resourcecore",
		ShowCaller:       false,
		EnableSanitizing: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := buildRepository(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize repository", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer closeRepo()

	collector := telemetry.NewCollector()

	admCaps := admission.Capacities{
		Discovery:       int64(cfg.Admission.Discovery.Initial),
		Sync:            int64(cfg.Admission.Sync.Initial),
		Validation:      int64(cfg.Admission.Validation.Initial),
		Monitoring:      int64(cfg.Admission.Monitoring.Initial),
		APICall:         int64(cfg.Admission.ApiCall.Initial),
		BatchProcessing: int64(cfg.Admission.BatchProcessing.Initial),
	}
	admissionController := admission.NewController(admCaps, collector)

	adaptiveCfg := adaptive.DefaultConfig()
	adaptiveCfg.CPUHigh, adaptiveCfg.CPULow = cfg.Adaptive.CPUHigh, cfg.Adaptive.CPULow
	adaptiveCfg.MemHigh, adaptiveCfg.MemLow = cfg.Adaptive.MemHigh, cfg.Adaptive.MemLow
	adaptiveCfg.MinBatch, adaptiveCfg.MaxBatch = cfg.Adaptive.MinBatch, cfg.Adaptive.MaxBatch
	adaptiveCfg.MinConcurrency, adaptiveCfg.MaxConcurrency = cfg.Adaptive.MinConcurrency, cfg.Adaptive.MaxConcurrency
	adaptiveCfg.ControlPeriodMin = time.Duration(cfg.Adaptive.ControlPeriodMinMs) * time.Millisecond
	adaptiveCfg.ControlPeriodMax = time.Duration(cfg.Adaptive.ControlPeriodMaxMs) * time.Millisecond
	adaptiveCfg.PerClassMin = map[admission.Class][2]int64{
		admission.ClassDiscovery:  {int64(cfg.Admission.Discovery.Min), int64(cfg.Admission.Discovery.Max)},
		admission.ClassSync:       {int64(cfg.Admission.Sync.Min), int64(cfg.Admission.Sync.Max)},
		admission.ClassValidation: {int64(cfg.Admission.Validation.Min), int64(cfg.Admission.Validation.Max)},
		admission.ClassMonitoring: {int64(cfg.Admission.Monitoring.Min), int64(cfg.Admission.Monitoring.Max)},
		admission.ClassAPICall:    {int64(cfg.Admission.ApiCall.Min), int64(cfg.Admission.ApiCall.Max)},
	}

	sampler := adaptive.NewGopsutilSampler()
	adaptiveController := adaptive.NewController(adaptiveCfg, sampler, collector, admissionController)
	adaptiveController.Start()
	defer adaptiveController.Stop()

	resilienceManager := resilience.NewResilienceManager(resilience.DefaultResilienceManagerConfig())
	if err := resilienceManager.Start(); err != nil {
		logger.Error("failed to start resilience manager", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer resilienceManager.Stop()

	institutionClient := institution.New(institution.Config{
		BaseURL:        cfg.Institution.BaseURL,
		RequestTimeout: time.Duration(cfg.Institution.RequestTimeoutMs) * time.Millisecond,
	}, resilienceManager)

	operations := map[domain.JobType]pipeline.Operation{
		domain.JobTypeResourceSync:       pipeline.NewSyncOperation(admissionController, repo, institutionClient),
		domain.JobTypeResourceValidation: pipeline.NewValidationOperation(admissionController, repo),
		domain.JobTypeResourceMonitoring: pipeline.NewMonitoringOperation(admissionController, pipeline.NewMonitoringRegistry(), institutionClient),
	}

	workerConfig := pipeline.DefaultJobWorkerConfig()
	workerConfig.CPUHigh = cfg.Resources.AdaptiveCPUThreshold
	workerConfig.MemHigh = cfg.Resources.AdaptiveMemoryThreshold
	workerConfig.ShutdownGrace = time.Duration(cfg.Scheduler.ShutdownGraceMs) * time.Millisecond

	worker := pipeline.NewJobWorker(repo, operations, sampler, adaptiveController.State(), workerConfig, logger)

	if cfg.Scheduler.Enabled {
		worker.Start(ctx)
		logger.Info("job worker started", map[string]interface{}{"backup_interval_ms": cfg.Scheduler.BackupIntervalMs})
	}

	var endpoints []string
	if *discoveryEndpoints != "" {
		endpoints = strings.Split(*discoveryEndpoints, ",")
	}
	if len(endpoints) > 0 {
		discoveryRunner := pipeline.NewDiscoveryRunner(admissionController, repo, httpDirectoryClient{httpClient: &http.Client{Timeout: 30 * time.Second}}, logger)
		go runDiscoveryLoop(ctx, discoveryRunner, endpoints, logger)
	}

	go runBackupTriggerLoop(ctx, worker, time.Duration(cfg.Scheduler.BackupIntervalMs)*time.Millisecond)
	go logHealthSnapshotLoop(ctx, collector, logger)

	logger.Info("resourcecore started", nil)
	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight work", nil)

	if cfg.Scheduler.Enabled {
		worker.Stop()
	}
	logger.Info("resourcecore stopped", nil)
}

func buildRepository(ctx context.Context, cfg *config.Config) (repository.Repository, func(), error) {
	if cfg.Repository.ConnectionString == "" {
		return memory.New(), func() {}, nil
	}

	store, err := postgres.New(ctx, &postgres.Config{
		ConnectionString: cfg.Repository.ConnectionString,
		MaxConnections:   cfg.Repository.MaxConnections,
		MigrationsPath:   cfg.Repository.MigrationsPath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := store.MigrateToLatest(); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return store, store.Close, nil
}

// runBackupTriggerLoop invokes the scheduled backup trigger named in
// spec.md §4.5.5, independent of the main drain loop's own interval.
func runBackupTriggerLoop(ctx context.Context, worker *pipeline.JobWorker, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			worker.RunBackupTrigger(ctx)
		}
	}
}

// runDiscoveryLoop runs one discovery round every five minutes; a
// failed round is logged and retried on the next tick rather than
// crashing the process.
func runDiscoveryLoop(ctx context.Context, runner *pipeline.DiscoveryRunner, endpoints []string, logger *logging.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := runner.Run(ctx, endpoints); err != nil {
				logger.Warn("discovery round failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// logHealthSnapshotLoop periodically logs the HealthSnapshot contract
// named in spec.md §6 / SPEC_FULL.md §6.4; serving it over HTTP is the
// out-of-scope collaborator's job, this only proves the data is wired.
func logHealthSnapshotLoop(ctx context.Context, collector *telemetry.Collector, logger *logging.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := collector.GetReport()
			status := "UP"
			if report.ErrorRate > 0.25 || report.Efficiency < 0.60 {
				status = "DOWN"
			}
			logger.Info("health snapshot", map[string]interface{}{
				"status":             status,
				"error_rate":         report.ErrorRate,
				"throughput":         report.CurrentThroughput,
				"total_operations":   report.TotalOperations,
				"total_batches":      report.TotalBatches,
			})
		}
	}
}

// httpDirectoryClient implements pipeline.DirectoryClient over plain
// HTTP GET, decoding a JSON array of domain.Resource — the minimal
// concrete shape needed to exercise the discovery pipeline end to end;
// the real directory service's wire format is the out-of-scope
// collaborator's contract (spec.md §1).
type httpDirectoryClient struct {
	httpClient *http.Client
}

func (c httpDirectoryClient) ListResources(ctx context.Context, endpoint string) ([]domain.Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build discovery request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("discovery endpoint %s returned status %d", endpoint, resp.StatusCode)
	}

	var resources []domain.Resource
	if err := json.NewDecoder(resp.Body).Decode(&resources); err != nil {
		return nil, fmt.Errorf("failed to decode discovery response from %s: %w", endpoint, err)
	}
	return resources, nil
}

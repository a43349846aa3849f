package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/memharbor/memharbor/internal/app/pipeline"
	"github.com/memharbor/memharbor/internal/config"
	"github.com/memharbor/memharbor/internal/domain/forensics"
	"github.com/memharbor/memharbor/internal/infra/analyzers/clamav"
	"github.com/memharbor/memharbor/internal/infra/analyzers/regparse"
	"github.com/memharbor/memharbor/internal/infra/analyzers/virustotal"
	"github.com/memharbor/memharbor/internal/infra/archive"
	"github.com/memharbor/memharbor/internal/infra/engine/execengine"
	"github.com/memharbor/memharbor/internal/infra/index/elastic"
	intake "github.com/memharbor/memharbor/internal/infra/intake/kafka"
	notify "github.com/memharbor/memharbor/internal/infra/notify/kafka"
	forensicsStore "github.com/memharbor/memharbor/internal/infra/storage/forensics/postgres"
	"github.com/memharbor/memharbor/internal/symbols"
	"github.com/memharbor/memharbor/pkg/common"
	"github.com/memharbor/memharbor/pkg/common/logger"
	"github.com/memharbor/memharbor/pkg/common/otel"
)

const (
	serviceType = "worker"
)

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			// Output the error event with valid JSON details.
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("WORKER-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	// Setup signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("MEMHARBOR_CONFIG"))
	if err != nil {
		log.Error(ctx, "failed to load configuration", "error", err)
		os.Exit(1)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		log.Error(ctx, "kafka.brokers must be set, the worker consumes analysis requests from the broker")
		os.Exit(1)
	}

	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Otel.ServiceName,
		ExporterEndpoint: cfg.Otel.ExporterEndpoint,
		Probability:      cfg.Otel.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: true, // TODO: Come back to setup TLS.
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(cfg.Otel.ServiceName)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(cfg.Serve.HealthAddr, ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	go func() {
		if err := common.RunMetricsServer(cfg.Serve.MetricsAddr); err != nil {
			log.Error(ctx, "metrics server error", "error", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = cfg.Postgres.MinConns
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}

	log.Info(ctx, "Migrations applied successfully. Starting application...")

	dumpStore := forensicsStore.NewDumpStore(pool, tracer)
	pluginStore := forensicsStore.NewPluginStore(pool, tracer)
	resultStore := forensicsStore.NewResultStore(pool, tracer)
	extractedStore := forensicsStore.NewExtractedFileStore(pool, tracer)
	ruleStore := forensicsStore.NewRuleStore(pool, tracer)
	serviceStore := forensicsStore.NewServiceStore(pool, tracer)

	sink, err := elastic.NewSink(cfg.Elastic.Addresses, log, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect elasticsearch", "error", err)
		os.Exit(1)
	}

	notifier, err := notify.ConnectNotifier(&notify.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		ClientID: svcName,
	}, log, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect notifier", "error", err)
		os.Exit(1)
	}

	engine := execengine.NewEngine(cfg.Engine.Binary, log, tracer)

	if err := pipeline.SyncPluginCatalog(ctx, engine, pluginStore, log); err != nil {
		log.Error(ctx, "failed to synchronize plugin catalog", "error", err)
		os.Exit(1)
	}

	var antivirus forensics.AntivirusScanner
	if cfg.Clamav.Address != "" {
		antivirus = clamav.NewScanner(cfg.Clamav.Network, cfg.Clamav.Address)
	}

	var hives forensics.HiveParser
	if cfg.Regparse.Binary != "" {
		hives = regparse.NewExecParser(cfg.Regparse.Binary)
	}

	reputation := virustotal.NewClient(serviceStore, tracer)
	extractor := archive.NewSevenZipExtractor("")

	catalog := symbols.NewFileCatalog(cfg.Symbols.BannersFile)
	suggester := symbols.NewSuggester(log)

	metrics, err := pipeline.NewPipelineMetrics(otel.GetMeterProvider())
	if err != nil {
		log.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	workers := pipeline.NewWorkerPool(cfg.Pipeline.Workers, log, tracer)
	workers.Start(ctx)

	fanout := pipeline.NewFanout(cfg.Pipeline.Workers, extractedStore, reputation, hives, log, tracer, metrics)
	executor := pipeline.NewExecutor(
		resultStore,
		extractedStore,
		ruleStore,
		engine,
		antivirus,
		sink,
		notifier,
		fanout,
		cfg.Storage.Root,
		log,
		tracer,
		metrics,
	)
	preparer := pipeline.NewPreparer(dumpStore, pluginStore, extractor, executor, sink, cfg.Storage.Root, log, tracer)
	gate := pipeline.NewGate(catalog, suggester, log, tracer)
	orchestrator := pipeline.NewOrchestrator(
		dumpStore,
		pluginStore,
		resultStore,
		preparer,
		gate,
		executor,
		workers,
		notifier,
		log,
		tracer,
		metrics,
	)

	consumer, err := intake.ConnectConsumer(&intake.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.RequestsTopic,
		GroupID:  cfg.Kafka.GroupID,
		ClientID: svcName,
	}, orchestrator.ProcessDump, log, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect intake consumer", "error", err)
		os.Exit(1)
	}

	log.Info(ctx, "Pipeline initialized")
	ready.Store(true)

	errCh := make(chan error, 1)
	go func() {
		if err := consumer.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	// Wait for either a signal or consumer error.
	select {
	case sig := <-sigCh:
		log.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel() // Signal the consume loop to stop

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		// Close components in order.
		if err := consumer.Close(); err != nil {
			log.Error(shutdownCtx, "Failed to close intake consumer", "error", err)
		}
		workers.Stop(shutdownCtx)
		if err := notifier.Close(); err != nil {
			log.Error(shutdownCtx, "Failed to close notifier", "error", err)
		}

	case err := <-errCh:
		log.Error(ctx, "Intake consumer error", "error", err)
		os.Exit(1)
	}
}

// runMigrations uses golang-migrate to apply all up migrations from "db/migrations".
// runMigrations acquires a single pgx connection from the pool, runs migrations,
// and then releases the connection back to the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	// Acquire a connection from the pool
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release() // Ensure the connection is released

	db := stdlib.OpenDBFromPool(pool)

	driver, err := pgx.WithInstance(db, &pgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	const migrationsPath = "file://db/migrations"
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	// Run the migrations
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}

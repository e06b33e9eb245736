package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"telemetry-pipeline/internal/bootstrap"
	"telemetry-pipeline/internal/config"
	"telemetry-pipeline/internal/observability/metrics"
	"telemetry-pipeline/internal/queue"
	"telemetry-pipeline/internal/telemetry/application"
	telemetrypostgres "telemetry-pipeline/internal/telemetry/infrastructure/postgres"
	telemetryhttp "telemetry-pipeline/internal/telemetry/interfaces/http"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var queueDB *sql.DB
	if cfg.Queue.Driver == config.QueuePostgres {
		queueDB, err = bootstrap.OpenDB(ctx, cfg.Queue.DSN, cfg.Store.MaxOpenConns)
		if err != nil {
			logger.Printf("queue db unavailable: %v", err)
		} else {
			defer queueDB.Close()
		}
	}
	q, err := bootstrap.OpenQueue(cfg.Queue, queueDB)
	if err != nil {
		logger.Printf("queue not initialized (simulated mode): %v", err)
		q = nil
	}
	metrics.Init(queueDB, logger, metrics.QueueSource{
		Table:           cfg.Queue.Table,
		DeadLetterTable: cfg.Queue.DeadLetterTable,
		Topic:           cfg.Queue.Topic,
	})

	g, gctx := errgroup.WithContext(ctx)

	runWorker, err := bootstrap.StartWorker(cfg, q != nil)
	if err != nil {
		logger.Fatalf("worker: %v", err)
	}
	if cfg.RunsWorker() && !runWorker {
		logger.Printf("worker: queue unavailable, worker skipped; gateway stays in simulated mode")
	}

	if runWorker {
		storeDB := queueDB
		if storeDB == nil || cfg.Store.DSN != cfg.Queue.DSN {
			storeDB, err = bootstrap.OpenDB(ctx, cfg.Store.DSN, cfg.Store.MaxOpenConns)
			if err != nil {
				logger.Fatalf("store db error: %v", err)
			}
			defer storeDB.Close()
		}
		archiveStore, err := bootstrap.OpenArchive(ctx, cfg.Archive)
		if err != nil {
			logger.Fatalf("archive error: %v", err)
		}
		repo := telemetrypostgres.NewMeasurementRepository(storeDB,
			telemetrypostgres.WithTable(cfg.Store.Table),
			telemetrypostgres.WithWriteMode(telemetrypostgres.WriteMode(cfg.Store.WriteMode)),
		)
		worker, err := application.NewWorker(q, archiveStore, repo, logger,
			application.WithConcurrency(cfg.Worker.Concurrency),
			application.WithReceiveBackoff(cfg.Worker.ReceiveBackoff),
			application.WithPolicy(application.Policy{NackOnStoreFailure: cfg.Worker.NackOnStoreFailure}),
		)
		if err != nil {
			logger.Fatalf("worker error: %v", err)
		}
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	mux := http.NewServeMux()
	if cfg.RunsGateway() {
		var publisher queue.Publisher
		if q != nil {
			publisher = q
		}
		ingestService := application.NewIngestService(publisher, logger)
		if ingestService.Simulated() {
			logger.Printf("ingest: running in simulated mode, payloads are validated but not published")
		}
		ingestHandler, err := telemetryhttp.NewIngestHandler(ingestService, logger)
		if err != nil {
			logger.Fatalf("ingest handler error: %v", err)
		}
		mux.Handle("/ingest", ingestHandler)
		mux.HandleFunc("/", telemetryhttp.StatusHandler)
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: loggingMiddleware(mux, logger)}
	g.Go(func() error {
		logger.Printf("http listening on %s role=%s", cfg.HTTP.Addr, cfg.Role)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Printf("shutdown with error: %v", err)
		os.Exit(1)
	}
	logger.Printf("shutdown complete")
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

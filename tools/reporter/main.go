package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"telemetry-pipeline/internal/bootstrap"
	"telemetry-pipeline/internal/config"
	"telemetry-pipeline/internal/observability/metrics"
	reportapp "telemetry-pipeline/internal/reporting/application"
	reporting "telemetry-pipeline/internal/reporting/domain"
	reportpostgres "telemetry-pipeline/internal/reporting/infrastructure/postgres"
	"telemetry-pipeline/internal/reporting/notify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var (
		once    bool
		format  string
		dailyAt string
		window  time.Duration
		webhook string
	)
	flagSet := pflag.NewFlagSet("reporter", pflag.ContinueOnError)
	flagSet.BoolVar(&once, "once", false, "generate one report now and exit")
	flagSet.StringVar(&format, "format", cfg.Report.Format, "report format: csv, xlsx or pdf")
	flagSet.StringVar(&dailyAt, "daily-at", cfg.Report.DailyAt, "UTC time of day to run, HH:MM")
	flagSet.DurationVar(&window, "window", cfg.Report.Window, "aggregation window ending at run time")
	flagSet.StringVar(&webhook, "webhook", cfg.Report.WebhookURL, "optional webhook notified after each run")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	reportFormat, err := reporting.ParseFormat(format)
	if err != nil {
		return err
	}
	if _, _, err := reporting.ParseDailyAt(dailyAt); err != nil {
		return err
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := bootstrap.OpenDB(ctx, cfg.Store.DSN, cfg.Store.MaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()
	metrics.Init(nil, logger, metrics.QueueSource{})

	store, err := bootstrap.OpenArchive(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	query := reportpostgres.NewSummaryQuery(db, reportpostgres.WithTable(cfg.Store.Table))
	var opts []reportapp.JobOption
	if webhook != "" {
		opts = append(opts, reportapp.WithNotifier(notify.NewWebhookNotifier(webhook)))
	}
	job, err := reportapp.NewJob(query, store, reportFormat, window, logger, opts...)
	if err != nil {
		return err
	}

	if once {
		logger.Printf("reporter: generating daily report format=%s", reportFormat)
		_, err := job.Run(ctx, time.Now().UTC())
		return err
	}

	logger.Printf("reporter: scheduled daily_at=%s format=%s", dailyAt, reportFormat)
	scheduler, err := reportapp.NewScheduler(job, dailyAt, logger)
	if err != nil {
		return err
	}
	scheduler.Start(ctx)
	return nil
}

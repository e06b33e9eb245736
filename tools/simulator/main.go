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

	"telemetry-pipeline/internal/simulator"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		url      string
		deviceID string
		interval time.Duration
		count    int
		seed     int64
	)
	flagSet := pflag.NewFlagSet("simulator", pflag.ContinueOnError)
	flagSet.StringVar(&url, "url", getenvDefault("API_URL", "http://localhost:8080/ingest"), "ingest endpoint")
	flagSet.StringVar(&deviceID, "device", getenvDefault("DEVICE_ID", "device-001"), "device id to report as")
	flagSet.DurationVar(&interval, "interval", 2*time.Second, "delay between readings")
	flagSet.IntVar(&count, "count", 0, "stop after this many readings (0 runs until interrupted)")
	flagSet.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", interval)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	client, err := simulator.NewClient(url, nil)
	if err != nil {
		return err
	}
	gen := simulator.NewGenerator(deviceID, seed, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Printf("simulator: starting device=%s target=%s interval=%s", deviceID, url, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for sent := 0; count == 0 || sent < count; sent++ {
		evt := gen.Next()
		res, err := client.Send(ctx, evt)
		switch {
		case err != nil:
			logger.Printf("simulator: error sending data: %v", err)
		case res.OK():
			logger.Printf("simulator: sent %+v status=%d", evt, res.StatusCode)
		default:
			logger.Printf("simulator: failed status=%d body=%s", res.StatusCode, res.Body)
		}

		select {
		case <-ctx.Done():
			logger.Printf("simulator: stopped")
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

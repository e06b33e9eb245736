package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	reporting "telemetry-pipeline/internal/reporting/domain"
)

// Process roles.
const (
	RoleAll     = "all"
	RoleGateway = "gateway"
	RoleWorker  = "worker"
)

// Queue drivers.
const (
	QueuePostgres = "postgres"
	QueueMemory   = "memory"
)

// Archive drivers.
const (
	ArchiveFilesystem = "filesystem"
	ArchiveS3         = "s3"
	ArchiveMemory     = "memory"
)

// Config is the pipeline configuration.
type Config struct {
	Role    string        `yaml:"role"`
	HTTP    HTTPConfig    `yaml:"http"`
	Queue   QueueConfig   `yaml:"queue"`
	Archive ArchiveConfig `yaml:"archive"`
	Store   StoreConfig   `yaml:"store"`
	Worker  WorkerConfig  `yaml:"worker"`
	Report  ReportConfig  `yaml:"report"`
}

// HTTPConfig configures the ingestion gateway listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// QueueConfig configures the durable queue.
type QueueConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	Topic           string        `yaml:"topic"`
	Table           string        `yaml:"table"`
	DeadLetterTable string        `yaml:"dead_letter_table"`
	Lease           time.Duration `yaml:"lease"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
}

// ArchiveConfig configures the raw payload archive.
type ArchiveConfig struct {
	Driver          string `yaml:"driver"`
	Root            string `yaml:"root"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// StoreConfig configures the structured measurement store.
type StoreConfig struct {
	DSN          string `yaml:"dsn"`
	Table        string `yaml:"table"`
	WriteMode    string `yaml:"write_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// WorkerConfig configures the processing worker.
type WorkerConfig struct {
	Concurrency        int           `yaml:"concurrency"`
	NackOnStoreFailure bool          `yaml:"nack_on_store_failure"`
	ReceiveBackoff     time.Duration `yaml:"receive_backoff"`
}

// ReportConfig configures the daily report job.
type ReportConfig struct {
	DailyAt    string        `yaml:"daily_at"`
	Window     time.Duration `yaml:"window"`
	Format     string        `yaml:"format"`
	WebhookURL string        `yaml:"webhook_url"`
}

// Load builds the configuration from environment defaults, then the YAML
// file named by PIPELINE_CONFIG when set.
func Load() (Config, error) {
	databaseURL := getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", ""))
	cfg := Config{
		Role: getenvDefault("PIPELINE_ROLE", RoleAll),
		HTTP: HTTPConfig{
			Addr:            getenvDefault("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getenvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Queue: QueueConfig{
			Driver:          getenvDefault("QUEUE_DRIVER", QueuePostgres),
			DSN:             getenvDefault("QUEUE_DSN", databaseURL),
			Topic:           getenvDefault("QUEUE_TOPIC", "telemetry-topic"),
			Table:           getenvDefault("QUEUE_TABLE", ""),
			DeadLetterTable: getenvDefault("QUEUE_DEAD_LETTER_TABLE", ""),
			Lease:           getenvDuration("QUEUE_LEASE", 60*time.Second),
			PollInterval:    getenvDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
			MaxAttempts:     getenvIntDefault("QUEUE_MAX_ATTEMPTS", 5),
		},
		Archive: ArchiveConfig{
			Driver:          getenvDefault("ARCHIVE_DRIVER", ArchiveFilesystem),
			Root:            getenvDefault("ARCHIVE_ROOT", "var/archive"),
			Bucket:          getenvDefault("ARCHIVE_BUCKET", "raw-sensor-data"),
			Prefix:          getenvDefault("ARCHIVE_PREFIX", ""),
			Region:          getenvDefault("ARCHIVE_REGION", ""),
			Endpoint:        getenvDefault("ARCHIVE_ENDPOINT", ""),
			UsePathStyle:    getenvBool("ARCHIVE_USE_PATH_STYLE", false),
			AccessKeyID:     getenvDefault("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getenvDefault("ARCHIVE_SECRET_ACCESS_KEY", ""),
		},
		Store: StoreConfig{
			DSN:          databaseURL,
			Table:        getenvDefault("STORE_TABLE", "sensor_measurements"),
			WriteMode:    getenvDefault("STORE_WRITE_MODE", "insert"),
			MaxOpenConns: getenvIntDefault("STORE_MAX_OPEN_CONNS", 10),
		},
		Worker: WorkerConfig{
			Concurrency:        getenvIntDefault("WORKER_CONCURRENCY", 1),
			NackOnStoreFailure: getenvBool("WORKER_NACK_ON_STORE_FAILURE", false),
			ReceiveBackoff:     getenvDuration("WORKER_RECEIVE_BACKOFF", time.Second),
		},
		Report: ReportConfig{
			DailyAt:    getenvDefault("REPORT_DAILY_AT", "02:00"),
			Window:     getenvDuration("REPORT_WINDOW", 24*time.Hour),
			Format:     getenvDefault("REPORT_FORMAT", "csv"),
			WebhookURL: getenvDefault("REPORT_WEBHOOK_URL", ""),
		},
	}

	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks enumerations and required fields. An empty queue DSN is
// allowed; the gateway then runs in simulated mode.
func (c Config) Validate() error {
	var errs []error
	switch c.Role {
	case RoleAll, RoleGateway, RoleWorker:
	default:
		errs = append(errs, fmt.Errorf("config: unknown role %q", c.Role))
	}
	switch c.Queue.Driver {
	case QueuePostgres, QueueMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown queue driver %q", c.Queue.Driver))
	}
	if c.Queue.Topic == "" {
		errs = append(errs, errors.New("config: queue topic required"))
	}
	if c.Queue.Driver == QueueMemory && c.Role != RoleAll {
		errs = append(errs, errors.New("config: memory queue requires role all"))
	}
	switch c.Archive.Driver {
	case ArchiveFilesystem:
		if c.Archive.Root == "" {
			errs = append(errs, errors.New("config: archive root required"))
		}
	case ArchiveS3:
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("config: archive bucket required"))
		}
		if (c.Archive.AccessKeyID == "") != (c.Archive.SecretAccessKey == "") {
			errs = append(errs, errors.New("config: archive access key id and secret must be set together"))
		}
	case ArchiveMemory:
	default:
		errs = append(errs, fmt.Errorf("config: unknown archive driver %q", c.Archive.Driver))
	}
	switch c.Store.WriteMode {
	case "insert", "upsert":
	default:
		errs = append(errs, fmt.Errorf("config: unknown store write mode %q", c.Store.WriteMode))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("config: worker concurrency must be positive"))
	}
	if _, _, err := reporting.ParseDailyAt(c.Report.DailyAt); err != nil {
		errs = append(errs, err)
	}
	switch c.Report.Format {
	case "csv", "xlsx", "pdf":
	default:
		errs = append(errs, fmt.Errorf("config: unknown report format %q", c.Report.Format))
	}
	if c.Report.Window <= 0 {
		errs = append(errs, errors.New("config: report window must be positive"))
	}
	return errors.Join(errs...)
}

// RunsGateway reports whether the process serves the ingestion API.
func (c Config) RunsGateway() bool {
	return c.Role == RoleAll || c.Role == RoleGateway
}

// RunsWorker reports whether the process consumes the queue.
func (c Config) RunsWorker() bool {
	return c.Role == RoleAll || c.Role == RoleWorker
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

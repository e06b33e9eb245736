package integration_test

import (
	"context"
	"database/sql"
	"io"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	archivefs "telemetry-pipeline/internal/archive/filesystem"
	queuepostgres "telemetry-pipeline/internal/queue/postgres"
	"telemetry-pipeline/internal/telemetry/application"
	telemetry "telemetry-pipeline/internal/telemetry/domain"
	telemetrypostgres "telemetry-pipeline/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestMeasurementPerf_30dInsert_7dQuery(t *testing.T) {
	db := openDB(t, "sensor_measurements")
	defer db.Close()

	ctx := context.Background()
	deviceID := "device-perf"
	start := time.Now().UTC().AddDate(0, 0, -30).Truncate(24 * time.Hour)
	end := time.Now().UTC().Truncate(24 * time.Hour)

	_, _ = db.ExecContext(ctx, `
DELETE FROM sensor_measurements
WHERE device_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3`, deviceID, start, end)

	repo := telemetrypostgres.NewMeasurementRepository(db)

	insertStart := time.Now()
	for day := 0; day < 30; day++ {
		dayStart := start.AddDate(0, 0, day)
		for hour := 0; hour < 24; hour++ {
			m := telemetry.Measurement{
				MessageID:    uuid.NewString(),
				DeviceID:     deviceID,
				Timestamp:    dayStart.Add(time.Duration(hour) * time.Hour),
				Temperature:  20 + float64(hour)/4,
				Humidity:     50,
				BatteryLevel: 90,
			}
			if err := repo.InsertMeasurement(ctx, m); err != nil {
				t.Fatalf("insert measurement: %v", err)
			}
		}
	}
	insertElapsed := time.Since(insertStart)

	queryStart := time.Now()
	queryFrom := end.AddDate(0, 0, -7)
	var count int
	var avg sql.NullFloat64
	err := db.QueryRowContext(ctx, `
SELECT COUNT(*), AVG(temperature)
FROM sensor_measurements
WHERE device_id = $1 AND "timestamp" >= $2 AND "timestamp" < $3`, deviceID, queryFrom, end).Scan(&count, &avg)
	if err != nil {
		t.Fatalf("query window: %v", err)
	}
	if count != 7*24 {
		t.Fatalf("expected %d rows in 7d window, got %d", 7*24, count)
	}
	queryElapsed := time.Since(queryStart)

	t.Logf("perf insert 30d rows=%d elapsed=%s", 30*24, insertElapsed)
	t.Logf("perf query 7d rows=%d avg=%.2f elapsed=%s", count, avg.Float64, queryElapsed)
}

func TestPipeline_PostgresQueueToSinks(t *testing.T) {
	db := openDB(t, "sensor_measurements", "telemetry_queue", "telemetry_dead_letters")
	defer db.Close()

	ctx := context.Background()
	topic := "it-" + uuid.NewString()
	deviceID := "device-" + topic
	defer func() {
		_, _ = db.Exec("DELETE FROM telemetry_queue WHERE topic = $1", topic)
		_, _ = db.Exec("DELETE FROM sensor_measurements WHERE device_id = $1", deviceID)
	}()

	q, err := queuepostgres.NewQueue(db, topic, queuepostgres.WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	store, err := archivefs.New(t.TempDir())
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	logger := log.New(io.Discard, "", 0)
	svc := application.NewIngestService(q, logger)
	worker, err := application.NewWorker(q, store, telemetrypostgres.NewMeasurementRepository(db), logger)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}

	payload := `{"device_id":"` + deviceID + `","timestamp":"2024-01-01T00:00:00Z","temperature":22.5,"humidity":55.0,"battery_level":80.0}`
	res, err := svc.Ingest(ctx, []byte(payload))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	receiveCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := q.Receive(receiveCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	result := worker.Process(ctx, msg)
	if result.Action != application.ActionAck || result.SettleErr != nil || !result.Store.OK() || !result.Archive.OK() {
		t.Fatalf("unexpected result %+v", result)
	}

	archived, err := store.Get(result.Archive.Key)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if string(archived) != string(msg.Data()) {
		t.Fatalf("archive differs from queued payload")
	}
	if msg.ID() != res.MessageID {
		t.Fatalf("expected message %s, got %s", res.MessageID, msg.ID())
	}

	var rows int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sensor_measurements WHERE device_id = $1", deviceID).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one row, got %d", rows)
	}
}

func openDB(t *testing.T, tables ...string) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, table := range tables {
		if !tableExists(db, table) {
			db.Close()
			t.Skipf("%s missing; run migrations", table)
		}
	}
	return db
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}

package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telemetry-pipeline/internal/archive"
	archivememory "telemetry-pipeline/internal/archive/memory"
	"telemetry-pipeline/internal/queue"
	queuememory "telemetry-pipeline/internal/queue/memory"
	telemetry "telemetry-pipeline/internal/telemetry/domain"
)

type memoryRepo struct {
	mu   sync.Mutex
	rows []telemetry.Measurement
	err  error
}

func (r *memoryRepo) InsertMeasurement(_ context.Context, m telemetry.Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, m)
	return nil
}

func (r *memoryRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

type fakeMessage struct {
	id        string
	data      []byte
	published time.Time
	acks      int
	nacks     int
}

func (m *fakeMessage) ID() string                 { return m.id }
func (m *fakeMessage) Data() []byte               { return m.data }
func (m *fakeMessage) PublishTime() time.Time     { return m.published }
func (m *fakeMessage) Attempt() int               { return 1 }
func (m *fakeMessage) Ack(context.Context) error  { m.acks++; return nil }
func (m *fakeMessage) Nack(context.Context) error { m.nacks++; return nil }

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestWorker(t *testing.T, sub queue.Subscriber, store archive.ObjectStore, repo telemetry.MeasurementRepository, opts ...WorkerOption) *Worker {
	t.Helper()
	w, err := NewWorker(sub, store, repo, quietLogger(), opts...)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func TestDecide(t *testing.T) {
	ok := SinkOutcome{Attempted: true}
	failed := SinkOutcome{Attempted: true, Err: errors.New("down")}
	cases := []struct {
		name      string
		decodeErr error
		archived  SinkOutcome
		stored    SinkOutcome
		policy    Policy
		want      Action
	}{
		{name: "all ok", archived: ok, stored: ok, want: ActionAck},
		{name: "decode failure", decodeErr: errors.New("bad"), want: ActionNack},
		{name: "archive failure", archived: failed, stored: ok, want: ActionAck},
		{name: "store failure", archived: ok, stored: failed, want: ActionAck},
		{name: "both failed", archived: failed, stored: failed, want: ActionAck},
		{name: "store failure strict", archived: ok, stored: failed, policy: Policy{NackOnStoreFailure: true}, want: ActionNack},
		{name: "archive failure strict", archived: failed, stored: ok, policy: Policy{NackOnStoreFailure: true}, want: ActionAck},
	}
	for _, tc := range cases {
		if got := Decide(tc.decodeErr, tc.archived, tc.stored, tc.policy); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestProcess_EndToEnd(t *testing.T) {
	q := queuememory.New(queuememory.WithClock(func() time.Time { return jan1.Add(5 * time.Minute) }))
	store := archivememory.New()
	repo := &memoryRepo{}
	svc := NewIngestService(q, quietLogger())
	w := newTestWorker(t, q, store, repo)

	res, err := svc.Ingest(context.Background(), []byte(validEvent))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	msg, err := q.Receive(context.Background())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	result := w.Process(context.Background(), msg)

	key := "2024/01/01/" + res.MessageID + ".json"
	if result.Archive.Key != key || !result.Archive.OK() || !result.Store.OK() {
		t.Fatalf("unexpected outcomes %+v", result)
	}
	obj, found := store.Get(key)
	if !found {
		t.Fatalf("expected archive object at %s", key)
	}
	if string(obj.Data) != string(msg.Data()) || obj.ContentType != archive.ContentTypeJSON {
		t.Fatalf("archive content differs from published payload: %s", obj.Data)
	}
	if repo.count() != 1 {
		t.Fatalf("expected one row, got %d", repo.count())
	}
	row := repo.rows[0]
	if row.DeviceID != "d1" || row.Temperature != 22.5 || row.Humidity != 55 || row.BatteryLevel != 80 || !row.Timestamp.Equal(jan1) {
		t.Fatalf("unexpected row %+v", row)
	}
	if result.Action != ActionAck || result.Final() != StateAcknowledged {
		t.Fatalf("expected ack, got %s final=%s", result.Action, result.Final())
	}
	want := []State{StateReceived, StateArchiving, StatePersisting, StateAcknowledged}
	if len(result.States) != len(want) {
		t.Fatalf("unexpected state trail %v", result.States)
	}
	for i := range want {
		if result.States[i] != want[i] {
			t.Fatalf("unexpected state trail %v", result.States)
		}
	}
	if stats := q.Stats(); stats.Acked != 1 || stats.InFlight != 0 {
		t.Fatalf("unexpected queue stats %+v", stats)
	}
}

func TestProcess_PoisonMessageNacksWithoutWrites(t *testing.T) {
	store := archivememory.New()
	repo := &memoryRepo{}
	w := newTestWorker(t, queuememory.New(), store, repo)

	msg := &fakeMessage{id: "poison", data: []byte("not json"), published: jan1}
	result := w.Process(context.Background(), msg)

	if msg.nacks != 1 || msg.acks != 0 {
		t.Fatalf("expected exactly one nack, got acks=%d nacks=%d", msg.acks, msg.nacks)
	}
	if store.Puts() != 0 || repo.count() != 0 {
		t.Fatalf("expected no sink writes, got puts=%d rows=%d", store.Puts(), repo.count())
	}
	if !errors.Is(result.DecodeErr, telemetry.ErrDecode) || result.Final() != StateNacked {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Archive.Attempted || result.Store.Attempted {
		t.Fatalf("sinks must not be attempted for poison messages")
	}
}

func TestProcess_SinkFailuresStillAck(t *testing.T) {
	store := archivememory.New()
	store.FailWith(errors.New("bucket unavailable"))
	repo := &memoryRepo{err: errors.New("db down")}
	w := newTestWorker(t, queuememory.New(), store, repo)

	msg := &fakeMessage{id: "m1", data: []byte(validEvent), published: jan1}
	result := w.Process(context.Background(), msg)

	if msg.acks != 1 || msg.nacks != 0 {
		t.Fatalf("expected ack despite sink failures, got acks=%d nacks=%d", msg.acks, msg.nacks)
	}
	if !errors.Is(result.Archive.Err, telemetry.ErrSinkWrite) || !errors.Is(result.Store.Err, telemetry.ErrSinkWrite) {
		t.Fatalf("expected classified sink errors, got %+v", result)
	}
	if store.Puts() != 1 {
		t.Fatalf("archive must be attempted once, got %d", store.Puts())
	}
}

func TestProcess_StoreFailureNacksUnderStrictPolicy(t *testing.T) {
	repo := &memoryRepo{err: errors.New("db down")}
	w := newTestWorker(t, queuememory.New(), archivememory.New(), repo, WithPolicy(Policy{NackOnStoreFailure: true}))

	msg := &fakeMessage{id: "m1", data: []byte(validEvent), published: jan1}
	if result := w.Process(context.Background(), msg); result.Action != ActionNack || msg.nacks != 1 {
		t.Fatalf("expected nack, got %+v", result)
	}
}

func TestProcess_InvalidTimestampIsStoreFailure(t *testing.T) {
	store := archivememory.New()
	repo := &memoryRepo{}
	w := newTestWorker(t, queuememory.New(), store, repo)

	payload := `{"device_id":"d1","timestamp":"yesterday","temperature":1,"humidity":1,"battery_level":1}`
	msg := &fakeMessage{id: "m1", data: []byte(payload), published: jan1}
	result := w.Process(context.Background(), msg)

	if !result.Archive.OK() || result.Store.OK() || !errors.Is(result.Store.Err, telemetry.ErrInvalidTimestamp) {
		t.Fatalf("unexpected outcomes %+v", result)
	}
	if msg.acks != 1 || repo.count() != 0 {
		t.Fatalf("expected ack and no row, got acks=%d rows=%d", msg.acks, repo.count())
	}
}

func TestProcess_FallsBackToClockWithoutPublishTime(t *testing.T) {
	store := archivememory.New()
	w := newTestWorker(t, queuememory.New(), store, &memoryRepo{},
		WithClock(func() time.Time { return time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC) }))

	msg := &fakeMessage{id: "m1", data: []byte(validEvent)}
	result := w.Process(context.Background(), msg)
	if result.Archive.Key != "2024/02/29/m1.json" {
		t.Fatalf("unexpected key %s", result.Archive.Key)
	}
}

func TestProcess_RedeliveryAfterCrashRewritesSameKey(t *testing.T) {
	q := queuememory.New(queuememory.WithClock(func() time.Time { return jan1 }))
	store := archivememory.New()
	repo := &memoryRepo{}
	w := newTestWorker(t, q, store, repo)
	ctx := context.Background()

	id, err := q.Publish(ctx, []byte(validEvent))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	first, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	// Archive written, then the consumer dies before persisting or settling.
	if err := store.Put(ctx, archive.Key(first.PublishTime(), first.ID()), first.Data(), archive.ContentTypeJSON); err != nil {
		t.Fatalf("put: %v", err)
	}
	q.ExpireLeases()

	second, err := q.Receive(ctx)
	if err != nil {
		t.Fatalf("receive redelivery: %v", err)
	}
	result := w.Process(ctx, second)
	if result.Action != ActionAck || result.SettleErr != nil {
		t.Fatalf("unexpected redelivery result %+v", result)
	}
	if store.Len() != 1 {
		t.Fatalf("expected a single archive object, got %d", store.Len())
	}
	obj, _ := store.Get("2024/01/01/" + id + ".json")
	if string(obj.Data) != validEvent {
		t.Fatalf("archive content changed on rewrite: %s", obj.Data)
	}
	if repo.count() != 1 {
		t.Fatalf("expected one row, got %d", repo.count())
	}
}

func TestRun_DrainsAndStopsOnCancel(t *testing.T) {
	q := queuememory.New(queuememory.WithClock(func() time.Time { return jan1 }))
	store := archivememory.New()
	repo := &memoryRepo{}
	w := newTestWorker(t, q, store, repo, WithConcurrency(3))
	ctx, cancel := context.WithCancel(context.Background())

	const total = 20
	for i := 0; i < total; i++ {
		if _, err := q.Publish(ctx, []byte(validEvent)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for repo.count() < total {
		select {
		case <-deadline:
			t.Fatalf("worker processed %d of %d", repo.count(), total)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
	if stats := q.Stats(); stats.Acked != total || stats.InFlight != 0 {
		t.Fatalf("unexpected queue stats %+v", stats)
	}
	if store.Len() != total {
		t.Fatalf("expected %d archive objects, got %d", total, store.Len())
	}
}

type gatedStore struct {
	*archivememory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Put(ctx, key, data, contentType)
}

func TestRun_FinishesInFlightMessageAfterCancel(t *testing.T) {
	q := queuememory.New(queuememory.WithClock(func() time.Time { return jan1 }))
	store := &gatedStore{
		Store:   archivememory.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	repo := &memoryRepo{}
	w := newTestWorker(t, q, store, repo)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := q.Publish(ctx, []byte(validEvent)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("archive write never started")
	}
	cancel()

	select {
	case err := <-done:
		t.Fatalf("run returned before the in-flight message settled: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(store.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after the in-flight message")
	}
	if store.Len() != 1 {
		t.Fatalf("expected one archive object, got %d", store.Len())
	}
	if repo.count() != 1 {
		t.Fatalf("expected one row, got %d", repo.count())
	}
	if stats := q.Stats(); stats.Acked != 1 || stats.InFlight != 0 {
		t.Fatalf("unexpected queue stats %+v", stats)
	}
}

type flakySubscriber struct {
	mu    sync.Mutex
	calls int
	inner queue.Subscriber
}

func (s *flakySubscriber) Receive(ctx context.Context) (queue.Message, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		return nil, errors.New("transient")
	}
	return s.inner.Receive(ctx)
}

func TestRun_RetriesAfterReceiveError(t *testing.T) {
	q := queuememory.New()
	repo := &memoryRepo{}
	sub := &flakySubscriber{inner: q}
	w := newTestWorker(t, sub, archivememory.New(), repo, WithReceiveBackoff(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := q.Publish(ctx, []byte(validEvent)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for repo.count() < 1 {
		select {
		case <-deadline:
			t.Fatalf("worker did not recover from receive error")
		case <-time.After(5 * time.Millisecond):
		}
	}
	q.Close()
	if err := <-done; err != nil {
		t.Fatalf("run returned %v", err)
	}
}

func TestNewWorkerRejectsNilDependencies(t *testing.T) {
	q := queuememory.New()
	if _, err := NewWorker(nil, archivememory.New(), &memoryRepo{}, nil); err == nil {
		t.Fatalf("expected nil subscriber error")
	}
	if _, err := NewWorker(q, nil, &memoryRepo{}, nil); err == nil {
		t.Fatalf("expected nil store error")
	}
	if _, err := NewWorker(q, archivememory.New(), nil, nil); err == nil {
		t.Fatalf("expected nil repo error")
	}
}

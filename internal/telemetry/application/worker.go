package application

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"telemetry-pipeline/internal/archive"
	"telemetry-pipeline/internal/observability/metrics"
	"telemetry-pipeline/internal/queue"
	telemetry "telemetry-pipeline/internal/telemetry/domain"
)

// State is a step in the per-message lifecycle.
type State string

const (
	StateReceived     State = "received"
	StateArchiving    State = "archiving"
	StatePersisting   State = "persisting"
	StateAcknowledged State = "acknowledged"
	StateFailed       State = "failed"
	StateNacked       State = "nacked"
)

// Action is how a message is settled with the queue.
type Action string

const (
	ActionAck  Action = "ack"
	ActionNack Action = "nack"
)

// Sink names used in outcomes, logs and metrics.
const (
	SinkArchive = "archive"
	SinkStore   = "store"
)

// SinkOutcome is the result of one sink write.
type SinkOutcome struct {
	Sink      string
	Key       string
	Attempted bool
	Err       error
}

// OK reports whether the write was attempted and succeeded.
func (o SinkOutcome) OK() bool {
	return o.Attempted && o.Err == nil
}

// Policy tunes the settlement decision.
type Policy struct {
	// NackOnStoreFailure nacks instead of acking when the structured store
	// write fails, trading duplicate archive writes for no lost rows.
	NackOnStoreFailure bool
}

// Decide returns the settlement action for a processed message. Only a
// decode failure nacks under the default policy; sink failures are absorbed.
func Decide(decodeErr error, archived, stored SinkOutcome, policy Policy) Action {
	if decodeErr != nil {
		return ActionNack
	}
	if policy.NackOnStoreFailure && stored.Attempted && stored.Err != nil {
		return ActionNack
	}
	return ActionAck
}

// ProcessResult records what happened to one message.
type ProcessResult struct {
	MessageID string
	States    []State
	DecodeErr error
	Archive   SinkOutcome
	Store     SinkOutcome
	Action    Action
	SettleErr error
}

// Final returns the last state reached.
func (r ProcessResult) Final() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

const (
	defaultReceiveBackoff = time.Second
	defaultConsumerName   = "telemetry-worker"
)

// Worker consumes queued telemetry, archives the raw payload, persists a
// structured row and settles the message.
type Worker struct {
	sub            queue.Subscriber
	store          archive.ObjectStore
	repo           telemetry.MeasurementRepository
	logger         *log.Logger
	policy         Policy
	concurrency    int
	receiveBackoff time.Duration
	name           string
	now            func() time.Time
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPolicy sets the settlement policy.
func WithPolicy(policy Policy) WorkerOption {
	return func(w *Worker) {
		w.policy = policy
	}
}

// WithConcurrency runs n independent receive loops.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithReceiveBackoff sets the pause after a failed Receive.
func WithReceiveBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.receiveBackoff = d
		}
	}
}

// WithConsumerName labels the worker in metrics.
func WithConsumerName(name string) WorkerOption {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithClock overrides the time source used when a message has no publish time.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker constructs a worker.
func NewWorker(sub queue.Subscriber, store archive.ObjectStore, repo telemetry.MeasurementRepository, logger *log.Logger, opts ...WorkerOption) (*Worker, error) {
	if sub == nil {
		return nil, errors.New("telemetry worker: nil subscriber")
	}
	if store == nil {
		return nil, errors.New("telemetry worker: nil archive store")
	}
	if repo == nil {
		return nil, errors.New("telemetry worker: nil measurement repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	w := &Worker{
		sub:            sub,
		store:          store,
		repo:           repo,
		logger:         logger,
		concurrency:    1,
		receiveBackoff: defaultReceiveBackoff,
		name:           defaultConsumerName,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run consumes until ctx is cancelled or the subscription closes. A message
// already received when ctx is cancelled is still archived, persisted and
// settled before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Printf("telemetry worker: listening consumer=%s concurrency=%d", w.name, w.concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.loop(gctx)
		})
	}
	err := g.Wait()
	w.logger.Printf("telemetry worker: stopped consumer=%s", w.name)
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, err := w.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			w.logger.Printf("telemetry worker: receive error: %v", err)
			timer := time.NewTimer(w.receiveBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		w.Process(context.WithoutCancel(ctx), msg)
	}
}

// Process handles one delivery end to end and settles it.
func (w *Worker) Process(ctx context.Context, msg queue.Message) ProcessResult {
	start := time.Now()
	result := ProcessResult{MessageID: msg.ID(), States: []State{StateReceived}}
	w.logger.Printf("telemetry worker: received message id=%s attempt=%d", msg.ID(), msg.Attempt())
	if published := msg.PublishTime(); !published.IsZero() {
		metrics.ObserveConsumerLag(w.name, w.now().Sub(published))
	}

	evt, err := telemetry.ParseEvent(msg.Data())
	if err != nil {
		result.DecodeErr = &telemetry.DecodeError{MessageID: msg.ID(), Err: err}
		result.States = append(result.States, StateFailed)
		w.logger.Printf("telemetry worker: error processing message: %v", result.DecodeErr)
	} else {
		result.States = append(result.States, StateArchiving)
		result.Archive = w.archive(ctx, msg)

		result.States = append(result.States, StatePersisting)
		result.Store = w.persist(ctx, msg.ID(), evt)
	}

	result.Action = Decide(result.DecodeErr, result.Archive, result.Store, w.policy)
	if result.Action == ActionAck {
		result.SettleErr = msg.Ack(ctx)
		result.States = append(result.States, StateAcknowledged)
	} else {
		result.SettleErr = msg.Nack(ctx)
		result.States = append(result.States, StateNacked)
	}
	if result.SettleErr != nil {
		w.logger.Printf("telemetry worker: %s failed id=%s err=%v", result.Action, msg.ID(), result.SettleErr)
	}

	metrics.ObserveWorkerMessage(string(result.Action), time.Since(start))
	return result
}

func (w *Worker) archive(ctx context.Context, msg queue.Message) SinkOutcome {
	arrival := msg.PublishTime()
	if arrival.IsZero() {
		arrival = w.now()
	}
	key := archive.Key(arrival, msg.ID())
	outcome := SinkOutcome{Sink: SinkArchive, Key: key, Attempted: true}

	if err := w.store.Put(ctx, key, msg.Data(), archive.ContentTypeJSON); err != nil {
		outcome.Err = &telemetry.SinkWriteError{Sink: SinkArchive, Key: key, Err: err}
		w.logger.Printf("telemetry worker: archive save failed: %v", outcome.Err)
	} else {
		w.logger.Printf("telemetry worker: saved to archive key=%s", key)
	}
	metrics.IncSinkWrite(SinkArchive, outcome.Err)
	return outcome
}

func (w *Worker) persist(ctx context.Context, messageID string, evt telemetry.TelemetryEvent) SinkOutcome {
	outcome := SinkOutcome{Sink: SinkStore, Attempted: true}

	m, err := telemetry.NewMeasurement(messageID, evt)
	if err == nil {
		err = w.repo.InsertMeasurement(ctx, m)
	}
	if err != nil {
		outcome.Err = &telemetry.SinkWriteError{Sink: SinkStore, Err: err}
		w.logger.Printf("telemetry worker: db insert failed id=%s: %v", messageID, outcome.Err)
	} else {
		w.logger.Printf("telemetry worker: saved to db id=%s device=%s", messageID, evt.DeviceID)
	}
	metrics.IncSinkWrite(SinkStore, outcome.Err)
	return outcome
}

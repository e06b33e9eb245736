package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"telemetry-pipeline/internal/queue"
)

// Queue is an in-process queue with at-least-once semantics for local runs
// and tests. Nacked messages go back to the head of the queue.
type Queue struct {
	mu          sync.Mutex
	ready       []*entry
	inFlight    map[string]*entry
	dead        []queue.DeadLetter
	published   int
	acked       int
	nacked      int
	maxAttempts int
	now         func() time.Time
	signal      chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

type entry struct {
	id          string
	data        []byte
	publishedAt time.Time
	attempts    int
	lease       uint64
}

// Option configures the queue.
type Option func(*Queue)

// WithMaxAttempts dead-letters a message once it has been nacked after
// max deliveries. Zero keeps redelivering forever.
func WithMaxAttempts(max int) Option {
	return func(q *Queue) {
		if max >= 0 {
			q.maxAttempts = max
		}
	}
}

// WithClock overrides the publish time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New constructs an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		inFlight: make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish appends a copy of data and returns its id.
func (q *Queue) Publish(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	select {
	case <-q.done:
		return "", queue.ErrClosed
	default:
	}

	e := &entry{
		id:          uuid.NewString(),
		data:        append([]byte(nil), data...),
		publishedAt: q.now().UTC(),
	}
	q.mu.Lock()
	q.ready = append(q.ready, e)
	q.published++
	q.mu.Unlock()
	q.wake()
	return e.id, nil
}

// Receive blocks until a message is ready, ctx is done or the queue closes.
func (q *Queue) Receive(ctx context.Context) (queue.Message, error) {
	for {
		select {
		case <-q.done:
			return nil, queue.ErrClosed
		default:
		}

		q.mu.Lock()
		if len(q.ready) > 0 {
			e := q.ready[0]
			q.ready = q.ready[1:]
			e.attempts++
			e.lease++
			q.inFlight[e.id] = e
			msg := &message{queue: q, entry: e, lease: e.lease, attempt: e.attempts}
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return msg, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, queue.ErrClosed
		case <-q.signal:
		}
	}
}

// ExpireLeases returns every in-flight message to the queue, as a broker does
// when a consumer dies without settling. It returns the number requeued.
func (q *Queue) ExpireLeases() int {
	q.mu.Lock()
	count := 0
	for id, e := range q.inFlight {
		delete(q.inFlight, id)
		q.ready = append(q.ready, e)
		count++
	}
	q.mu.Unlock()
	if count > 0 {
		q.wake()
	}
	return count
}

// Close stops delivery; blocked receivers return queue.ErrClosed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Ready     int
	InFlight  int
	Dead      int
	Published int
	Acked     int
	Nacked    int
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Ready:     len(q.ready),
		InFlight:  len(q.inFlight),
		Dead:      len(q.dead),
		Published: q.published,
		Acked:     q.acked,
		Nacked:    q.nacked,
	}
}

// DeadLetters returns a copy of dead-lettered messages.
func (q *Queue) DeadLetters() []queue.DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.DeadLetter(nil), q.dead...)
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) ack(m *message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.inFlight[m.entry.id]
	if !ok || e.lease != m.lease {
		return queue.ErrLeaseLost
	}
	delete(q.inFlight, e.id)
	q.acked++
	return nil
}

func (q *Queue) nack(m *message) error {
	q.mu.Lock()
	e, ok := q.inFlight[m.entry.id]
	if !ok || e.lease != m.lease {
		q.mu.Unlock()
		return queue.ErrLeaseLost
	}
	delete(q.inFlight, e.id)
	q.nacked++
	if q.maxAttempts > 0 && e.attempts >= q.maxAttempts {
		q.dead = append(q.dead, queue.DeadLetter{
			ID:          e.id,
			Data:        e.data,
			Attempts:    e.attempts,
			PublishedAt: e.publishedAt,
			DeadAt:      q.now().UTC(),
		})
		q.mu.Unlock()
		return nil
	}
	q.ready = append([]*entry{e}, q.ready...)
	q.mu.Unlock()
	q.wake()
	return nil
}

type message struct {
	queue   *Queue
	entry   *entry
	lease   uint64
	attempt int

	mu      sync.Mutex
	settled bool
}

func (m *message) ID() string             { return m.entry.id }
func (m *message) Data() []byte           { return m.entry.data }
func (m *message) PublishTime() time.Time { return m.entry.publishedAt }
func (m *message) Attempt() int           { return m.attempt }

func (m *message) Ack(_ context.Context) error {
	if err := m.settle(); err != nil {
		return err
	}
	return m.queue.ack(m)
}

func (m *message) Nack(_ context.Context) error {
	if err := m.settle(); err != nil {
		return err
	}
	return m.queue.nack(m)
}

func (m *message) settle() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled {
		return queue.ErrAlreadySettled
	}
	m.settled = true
	return nil
}

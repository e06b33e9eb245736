package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"telemetry-pipeline/internal/queue"
)

const (
	defaultQueueTable      = "telemetry_queue"
	defaultDeadLetterTable = "telemetry_dead_letters"
	defaultLease           = 60 * time.Second
	defaultPollInterval    = 500 * time.Millisecond
)

// Queue is a Postgres-backed durable queue. Consumers lease one message at a
// time with FOR UPDATE SKIP LOCKED, so any number of worker processes can
// share a topic. Expired leases become visible again.
type Queue struct {
	db              *sql.DB
	topic           string
	table           string
	deadLetterTable string
	lease           time.Duration
	pollInterval    time.Duration
	maxAttempts     int
}

// Option configures the queue.
type Option func(*Queue)

// WithTable overrides the queue table name.
func WithTable(table string) Option {
	return func(q *Queue) {
		if table != "" {
			q.table = table
		}
	}
}

// WithDeadLetterTable overrides the dead-letter table name.
func WithDeadLetterTable(table string) Option {
	return func(q *Queue) {
		if table != "" {
			q.deadLetterTable = table
		}
	}
}

// WithLease sets how long a received message stays invisible to others.
func WithLease(lease time.Duration) Option {
	return func(q *Queue) {
		if lease > 0 {
			q.lease = lease
		}
	}
}

// WithPollInterval sets how often Receive polls an empty topic.
func WithPollInterval(interval time.Duration) Option {
	return func(q *Queue) {
		if interval > 0 {
			q.pollInterval = interval
		}
	}
}

// WithMaxAttempts moves a message to the dead-letter table when it is nacked
// after max deliveries. Zero disables dead-lettering.
func WithMaxAttempts(max int) Option {
	return func(q *Queue) {
		if max >= 0 {
			q.maxAttempts = max
		}
	}
}

// NewQueue constructs a queue bound to one topic.
func NewQueue(db *sql.DB, topic string, opts ...Option) (*Queue, error) {
	if db == nil {
		return nil, errors.New("postgres queue: nil db")
	}
	if topic == "" {
		return nil, errors.New("postgres queue: empty topic")
	}
	q := &Queue{
		db:              db,
		topic:           topic,
		table:           defaultQueueTable,
		deadLetterTable: defaultDeadLetterTable,
		lease:           defaultLease,
		pollInterval:    defaultPollInterval,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Publish inserts a ready message and returns its id.
func (q *Queue) Publish(ctx context.Context, data []byte) (string, error) {
	if q == nil || q.db == nil {
		return "", errors.New("postgres queue: nil db")
	}
	id := uuid.New()
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	topic,
	payload,
	state,
	attempts,
	published_at,
	updated_at
) VALUES (
	$1, $2, $3, 'ready', 0, $4, $4
)`, q.table)

	now := time.Now().UTC()
	if _, err := q.db.ExecContext(ctx, query, id, q.topic, data, now); err != nil {
		return "", fmt.Errorf("postgres queue: publish: %w", err)
	}
	return id.String(), nil
}

// Receive leases the oldest available message, polling until one appears or
// ctx is done.
func (q *Queue) Receive(ctx context.Context) (queue.Message, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("postgres queue: nil db")
	}
	for {
		msg, err := q.claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) claim(ctx context.Context) (*message, error) {
	query := fmt.Sprintf(`
WITH candidate AS (
	SELECT id
	FROM %s
	WHERE topic = $1
	  AND (state = 'ready' OR (state = 'in_flight' AND lease_until < now()))
	ORDER BY published_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
UPDATE %s q
SET state = 'in_flight',
	lease_id = $2,
	lease_until = now() + $3::bigint * interval '1 millisecond',
	attempts = q.attempts + 1,
	updated_at = now()
FROM candidate c
WHERE q.id = c.id
RETURNING q.id, q.payload, q.published_at, q.attempts`, q.table, q.table)

	leaseID := uuid.New()
	var (
		id          uuid.UUID
		payload     []byte
		publishedAt time.Time
		attempts    int
	)
	err := q.db.QueryRowContext(ctx, query, q.topic, leaseID, q.lease.Milliseconds()).Scan(&id, &payload, &publishedAt, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres queue: lease: %w", err)
	}
	return &message{
		queue:       q,
		id:          id,
		leaseID:     leaseID,
		data:        payload,
		publishedAt: publishedAt.UTC(),
		attempt:     attempts,
	}, nil
}

func (q *Queue) ack(ctx context.Context, m *message) error {
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE id = $1 AND lease_id = $2`, q.table)
	res, err := q.db.ExecContext(ctx, query, m.id, m.leaseID)
	if err != nil {
		return fmt.Errorf("postgres queue: ack: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres queue: ack: %w", err)
	}
	if affected == 0 {
		return queue.ErrLeaseLost
	}
	return nil
}

func (q *Queue) nack(ctx context.Context, m *message) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres queue: nack: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	selectQuery := fmt.Sprintf(`
SELECT attempts
FROM %s
WHERE id = $1 AND lease_id = $2
FOR UPDATE`, q.table)
	if err := tx.QueryRowContext(ctx, selectQuery, m.id, m.leaseID).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.ErrLeaseLost
		}
		return fmt.Errorf("postgres queue: nack: %w", err)
	}

	if q.maxAttempts > 0 && attempts >= q.maxAttempts {
		deadQuery := fmt.Sprintf(`
INSERT INTO %s (
	id,
	topic,
	payload,
	attempts,
	published_at,
	dead_at
)
SELECT id, topic, payload, attempts, published_at, $2
FROM %s
WHERE id = $1
ON CONFLICT (id)
DO UPDATE SET
	attempts = EXCLUDED.attempts,
	dead_at = EXCLUDED.dead_at`, q.deadLetterTable, q.table)
		if _, err := tx.ExecContext(ctx, deadQuery, m.id, time.Now().UTC()); err != nil {
			return fmt.Errorf("postgres queue: dead-letter: %w", err)
		}
		deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, q.table)
		if _, err := tx.ExecContext(ctx, deleteQuery, m.id); err != nil {
			return fmt.Errorf("postgres queue: dead-letter: %w", err)
		}
	} else {
		releaseQuery := fmt.Sprintf(`
UPDATE %s
SET state = 'ready',
	lease_id = NULL,
	lease_until = NULL,
	updated_at = now()
WHERE id = $1`, q.table)
		if _, err := tx.ExecContext(ctx, releaseQuery, m.id); err != nil {
			return fmt.Errorf("postgres queue: nack: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres queue: nack: %w", err)
	}
	return nil
}

// DeadLetters lists dead-lettered messages for the queue topic, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("postgres queue: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, payload, attempts, published_at, dead_at
FROM %s
WHERE topic = $1
ORDER BY dead_at DESC
LIMIT $2`, q.deadLetterTable)

	rows, err := q.db.QueryContext(ctx, query, q.topic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []queue.DeadLetter
	for rows.Next() {
		var (
			id     uuid.UUID
			letter queue.DeadLetter
		)
		if err := rows.Scan(&id, &letter.Data, &letter.Attempts, &letter.PublishedAt, &letter.DeadAt); err != nil {
			return nil, err
		}
		letter.ID = id.String()
		result = append(result, letter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type message struct {
	queue       *Queue
	id          uuid.UUID
	leaseID     uuid.UUID
	data        []byte
	publishedAt time.Time
	attempt     int
	settled     bool
}

func (m *message) ID() string             { return m.id.String() }
func (m *message) Data() []byte           { return m.data }
func (m *message) PublishTime() time.Time { return m.publishedAt }
func (m *message) Attempt() int           { return m.attempt }

// Ack deletes the message. A message is settled by one goroutine only.
func (m *message) Ack(ctx context.Context) error {
	if m.settled {
		return queue.ErrAlreadySettled
	}
	m.settled = true
	return m.queue.ack(ctx, m)
}

// Nack releases the lease for redelivery or dead-letters the message.
func (m *message) Nack(ctx context.Context) error {
	if m.settled {
		return queue.ErrAlreadySettled
	}
	m.settled = true
	return m.queue.nack(ctx, m)
}

// Package queue defines the durable, at-least-once message queue contract
// shared by the ingestion gateway (publisher side) and the processing worker
// (subscriber side).
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by Receive once the queue has been shut down.
	ErrClosed = errors.New("queue: closed")
	// ErrAlreadySettled is returned when a message is acked or nacked twice.
	ErrAlreadySettled = errors.New("queue: message already settled")
	// ErrLeaseLost is returned when a lease expired before settlement and the
	// message may already be redelivered elsewhere.
	ErrLeaseLost = errors.New("queue: lease lost")
)

// Message is one delivery of a queued payload.
//
// ID is assigned at publish time and is stable across redeliveries of the
// same physical message. Ack removes the message for good; Nack makes it
// eligible for redelivery (or dead-lettering, per broker policy).
type Message interface {
	ID() string
	Data() []byte
	PublishTime() time.Time
	Attempt() int
	Ack(ctx context.Context) error
	Nack(ctx context.Context) error
}

// Publisher enqueues payloads and returns the broker-assigned message id.
type Publisher interface {
	Publish(ctx context.Context, data []byte) (string, error)
}

// Subscriber pulls messages. Receive blocks until a message is available or
// ctx is done.
type Subscriber interface {
	Receive(ctx context.Context) (Message, error)
}

// DeadLetter is a message the broker stopped redelivering.
type DeadLetter struct {
	ID          string
	Data        []byte
	Attempts    int
	PublishedAt time.Time
	DeadAt      time.Time
}

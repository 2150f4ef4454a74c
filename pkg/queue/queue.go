package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotRunning = errors.New("queue not running")
	ErrNoJob      = errors.New("no job registered for type")
)

// Publisher enqueues messages for a job type.
type Publisher interface {
	Enqueue(ctx context.Context, msgType string, payload any) error
}

// Config contains the configuration for the queue
type Config struct {
	Workers     int           // number of workers
	RetryLimit  int           // number of maximum retries
	RetryDelay  time.Duration // base delay, multiplied by the attempt number
	PollTimeout time.Duration // BRPOP block time
	KeyPrefix   string
}

func (c *Config) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "storyrisk:queue"
	}
}

// Message represents a message in the queue
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	LastError  string          `json:"lastError,omitempty"`
}

// NewMessage encodes payload into a message of msgType. Byte slices and raw
// JSON are taken as already encoded.
func NewMessage(id, msgType string, payload any, now time.Time) (Message, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return Message{}, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return Message{}, fmt.Errorf("payload for %s is not valid JSON", msgType)
	}
	return Message{ID: id, Type: msgType, Payload: raw, EnqueuedAt: now}, nil
}

// Decode unmarshals a message payload into T.
func Decode[T any](msg Message) (*T, error) {
	var out T
	if err := json.Unmarshal(msg.Payload, &out); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &out, nil
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeRetry
	outcomeDead
)

// decide maps a handler result onto what happens to the message next.
func decide(msg *Message, err error, retryLimit int) outcome {
	switch {
	case err == nil:
		return outcomeDone
	case errors.Is(err, context.Canceled):
		return outcomeRetry
	case errors.Is(err, ErrNoJob):
		msg.LastError = err.Error()
		return outcomeDead
	}
	msg.LastError = err.Error()
	if msg.Attempts < retryLimit {
		msg.Attempts++
		return outcomeRetry
	}
	return outcomeDead
}

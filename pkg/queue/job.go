package queue

import "context"

// Job defines a queue job handler.
type Job interface {
	// Type returns the type of message that the job handles.
	Type() string

	// Handle processes one payload. A non-nil error schedules a retry.
	Handle(ctx context.Context, payload []byte) error
}

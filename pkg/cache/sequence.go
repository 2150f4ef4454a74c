package cache

import (
	"context"
	"errors"
	"fmt"
)

// Sequence hands out increasing integers from a cache counter.
type Sequence struct {
	cache Service
	key   string
}

// NewSequence makes sure the counter at key is at least floor.
func NewSequence(ctx context.Context, c Service, key string, floor int64) (*Sequence, error) {
	var cur int64
	err := c.Get(ctx, key, &cur)
	switch {
	case errors.Is(err, ErrCacheMiss):
		cur = 0
	case err != nil:
		return nil, fmt.Errorf("sequence %s: %w", key, err)
	}
	if cur < floor {
		if err := c.Set(ctx, key, floor, 0); err != nil {
			return nil, fmt.Errorf("sequence %s: %w", key, err)
		}
	}
	return &Sequence{cache: c, key: key}, nil
}

// Next returns the next value.
func (s *Sequence) Next(ctx context.Context) (int64, error) {
	return s.cache.Increment(ctx, s.key)
}

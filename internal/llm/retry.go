package llm

import (
	"context"
	"time"
)

// Policy is a bounded retry with exponential backoff, parameterized per call
// site instead of duplicated inline around each external call.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: time.Second}
}

// Do runs fn up to Attempts times, sleeping BaseDelay*2^n between attempts.
// The last error is returned; cancellation wins over further attempts.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		delay := p.BaseDelay * time.Duration(1<<i)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

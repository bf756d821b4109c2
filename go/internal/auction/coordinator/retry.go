package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/mcdev12/reverseauction/go/internal/auction/record"
	"github.com/rs/zerolog/log"
)

// RetryPolicy controls how durable writes are retried before a command is rejected.
// Backoff waits on wall time, independent of the auction clock.
type RetryPolicy struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// DefaultRetryPolicy tries four times starting at 50ms, doubling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// do runs fn until it succeeds, attempts run out or ctx ends. It returns the last error.
// A stale write is returned at once; repeating it cannot succeed.
func (p RetryPolicy) do(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := p.InitialDelay
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			if attempt > 1 {
				log.Info().Str("op", op).Int("attempt", attempt).Msg("write succeeded after retry")
			}
			return nil
		}
		if attempt == p.MaxAttempts || errors.Is(err, record.ErrStaleWrite) {
			break
		}

		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("write failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}

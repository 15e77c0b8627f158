package kafka

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffPolicy hands out a fresh schedule for every retried operation.
type BackoffPolicy interface {
	NewBackOff() backoff.BackOff
}

// ExponentialBackoff grows the delay by Multiplier per attempt up to Max,
// spreads it by +/- Jitter and gives up once the next wait would cross
// Ceiling.
type ExponentialBackoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	Jitter     float64
	Ceiling    time.Duration
}

func NewExponentialBackoff(ceiling time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		Initial:    100 * time.Millisecond,
		Multiplier: 2,
		Max:        time.Second,
		Jitter:     0.5,
		Ceiling:    ceiling,
	}
}

func (b *ExponentialBackoff) NewBackOff() backoff.BackOff {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     b.Initial,
		RandomizationFactor: b.Jitter,
		Multiplier:          b.Multiplier,
		MaxInterval:         b.Max,
		MaxElapsedTime:      b.Ceiling,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()
	return eb
}

// retry runs op until it succeeds. It stops with the last error of op when
// the policy gives up, or with ctx.Err().
func retry(ctx context.Context, policy BackoffPolicy, op func() error) error {
	start := time.Now()
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return op()
	}, backoff.WithContext(policy.NewBackOff(), ctx), func(err error, next time.Duration) {
		log.Printf("[retry] attempt %d failed, next in %s: %v", attempts, next.Round(time.Millisecond), err)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("gave up after %d attempts in %s: %w",
			attempts, time.Since(start).Round(time.Millisecond), err)
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

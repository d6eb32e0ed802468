package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes a bounded exponential backoff schedule. The zero value is
// not usable; call setDefaults (done by Do) or construct via configuration.
type Policy struct {
	// BaseDelay is the delay after the first failed attempt.
	BaseDelay time.Duration
	// MaxDelay caps the growth of the backoff.
	MaxDelay time.Duration
	// MaxAttempts bounds the total number of attempts. Zero means retry
	// until the context is cancelled.
	MaxAttempts int
	// JitterMax adds up to this much random delay on top of the backoff.
	JitterMax time.Duration

	Rand *rand.Rand

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func (p *Policy) setDefaults() {
	if p.BaseDelay == 0 {
		p.BaseDelay = 1 * time.Second
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 60 * time.Second
	}
	if p.Rand == nil {
		p.Rand = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	if p.sleep == nil {
		p.sleep = sleepCtx
	}
}

// Backoff returns the delay before attempt+1, growing geometrically from
// BaseDelay and capped at MaxDelay. attempts counts failures so far.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	// base * 2^(attempts-1)
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempts-1)))
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

func (p Policy) jitter() time.Duration {
	if p.JitterMax <= 0 || p.Rand == nil {
		return 0
	}
	// [0, JitterMax]
	return time.Duration(p.Rand.Int63n(int64(p.JitterMax) + 1)) //nolint:gosec
}

// Do runs op until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled. The last error from op is returned as-is so callers can match
// sentinels through it.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	p.setDefaults()

	var lastErr error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return lastErr
		}

		if err := p.sleep(ctx, p.Backoff(attempt)+p.jitter()); err != nil {
			return lastErr
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

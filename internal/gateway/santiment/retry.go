package santiment

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig bounds the attempts spent on one sub-request.
type RetryConfig struct {
	// MaxAttempts counts the first attempt too.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is a fraction in [0,1]; 0.2 means +/-20%.
	Jitter float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = def.Jitter
	}
	return c
}

// backoff returns the delay before retry number attempt (1-based). A
// server-provided retryAfter wins over the computed value.
func (c RetryConfig) backoff(attempt int, retryAfter time.Duration, rnd func() float64) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	base := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt-1))
	if base > float64(c.MaxBackoff) {
		base = float64(c.MaxBackoff)
	}
	if c.Jitter > 0 && rnd != nil {
		base *= 1 + c.Jitter*(2*rnd()-1)
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// sleep pauses the calling goroutine only; it returns early on ctx.Done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func defaultRand() float64 { return rand.Float64() }

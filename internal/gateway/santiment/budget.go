package santiment

import (
	"context"
	"fmt"
	"time"

	"sanmetrics/internal/fetcherr"

	"golang.org/x/time/rate"
)

// Budget is the process-wide request allowance shared by every attempt of
// every in-flight fetch. It admits Requests calls per Window, with a burst
// of Requests.
type Budget struct {
	limiter  *rate.Limiter
	requests int
	window   time.Duration
}

func NewBudget(requests int, window time.Duration) *Budget {
	if requests <= 0 {
		requests = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	every := window / time.Duration(requests)
	return &Budget{
		limiter:  rate.NewLimiter(rate.Every(every), requests),
		requests: requests,
		window:   window,
	}
}

// Unlimited returns a budget that never blocks.
func Unlimited() *Budget {
	return &Budget{limiter: rate.NewLimiter(rate.Inf, 0)}
}

// Acquire blocks the calling worker until one unit is available and reports
// how long it waited.
func (b *Budget) Acquire(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := b.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			// the limiter refuses waits that would outlive the deadline
			return time.Since(start), fmt.Errorf("rate budget: %w", fetcherr.ErrDeadlineTooSoon)
		}
		return time.Since(start), ctx.Err()
	}
	return time.Since(start), nil
}

func (b *Budget) String() string {
	if b.requests == 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d/%s", b.requests, b.window)
}

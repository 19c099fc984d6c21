// Package poll repeats an action until it reports completion or a deadline
// passes. It is used for endpoints that become consistent eventually, such
// as asynchronous jobs or replicated reads.
package poll

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/y0f/apiprobe/internal/check"
)

// Strategy selects how the wait between attempts grows.
type Strategy string

const (
	Constant    Strategy = "constant"
	Linear      Strategy = "linear"
	Exponential Strategy = "exponential"
)

// Config bounds a polling loop.
type Config struct {
	Interval    time.Duration // wait before the second attempt
	MaxInterval time.Duration // upper bound on any single wait, 0 means no cap
	Deadline    time.Duration // total time allowed for all attempts
	Strategy    Strategy
}

// AttemptFunc performs one attempt and reports whether polling is done.
type AttemptFunc func(ctx context.Context) (*check.Outcome, bool)

// Validate rejects configurations that would never terminate.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Deadline <= 0 {
		return fmt.Errorf("deadline must be positive")
	}
	if c.MaxInterval < 0 {
		return fmt.Errorf("max_interval must not be negative")
	}
	switch c.Strategy {
	case "", Constant, Linear, Exponential:
	default:
		return fmt.Errorf("strategy must be constant, linear or exponential, got %q", c.Strategy)
	}
	return nil
}

// Delay computes the wait after the given attempt (0-indexed). Growth
// saturates at MaxInterval, or at the largest Duration when uncapped.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := 1.0
	switch c.Strategy {
	case Exponential:
		factor = math.Pow(2, float64(attempt))
	case Linear:
		factor = float64(attempt) + 1
	}
	limit := time.Duration(math.MaxInt64)
	if c.MaxInterval > 0 {
		limit = c.MaxInterval
	}
	if d := float64(c.Interval) * factor; d < float64(limit) {
		return time.Duration(d)
	}
	return limit
}

// Until calls attempt until it reports done, the deadline passes or ctx
// ends. The returned outcome is the last attempt's when polling finished in
// time; otherwise it is a timeout outcome. Attempts is always set.
func Until(ctx context.Context, cfg Config, attempt AttemptFunc) *check.Outcome {
	start := time.Now()
	deadline := start.Add(cfg.Deadline)

	var last *check.Outcome
	for n := 0; ; n++ {
		if err := ctx.Err(); err != nil {
			return expired(last, n, start, fmt.Sprintf("polling stopped after %d attempts: %v", n, err))
		}

		out, done := attempt(ctx)
		last = out
		if done {
			return stamp(out, n+1)
		}

		wait := cfg.Delay(n)
		if wait > time.Until(deadline) {
			return expired(last, n+1, start,
				fmt.Sprintf("condition not met within %s after %d attempts%s", cfg.Deadline, n+1, lastState(last)))
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return expired(last, n+1, start, fmt.Sprintf("polling stopped after %d attempts: %v", n+1, ctx.Err()))
		}
	}
}

func stamp(o *check.Outcome, attempts int) *check.Outcome {
	if o == nil {
		o = check.Failed(check.TransportUnexpectedException, 0, "attempt returned no outcome")
	}
	o.Attempts = attempts
	return o
}

func expired(last *check.Outcome, attempts int, start time.Time, msg string) *check.Outcome {
	o := check.Failed(check.TransportTimeout, time.Since(start), msg)
	o.Attempts = attempts
	if last != nil {
		o.CertExpiry = last.CertExpiry
	}
	return o
}

func lastState(o *check.Outcome) string {
	switch {
	case o == nil:
		return ""
	case o.OK():
		return fmt.Sprintf(" (last status %d)", o.StatusCode)
	case o.Err != "":
		return fmt.Sprintf(" (last error: %s)", o.Err)
	}
	return ""
}

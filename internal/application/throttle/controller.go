// Package throttle wraps portal gateway calls with the reactive 429
// backoff and the proactive inter-call pacing the upstream service
// demands. The gateway itself never retries; all retry policy lives here.
package throttle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrRateLimited marks a single rate-limited (HTTP 429) round trip.
// Gateway implementations return it to request a retry.
var ErrRateLimited = errors.New("portal rate limit hit")

// ErrExhausted is terminal for the whole run: the retry cap was passed
// and the orchestrator must stop issuing new calls, flushing whatever
// it has buffered. It is not a per-call failure.
var ErrExhausted = errors.New("portal rate limit retries exhausted")

// state of one wrapped call.
type state int

const (
	stateAttempt state = iota
	stateBackoff
	stateDone
	stateExhausted
)

// Config tunes the controller.
type Config struct {
	// MaxRetries caps backoff-and-retry cycles after 429 responses.
	MaxRetries int
	// Backoff is the fixed sleep before each retry.
	Backoff time.Duration
	// Pace is the proactive delay applied before every detail fetch,
	// regardless of outcome.
	Pace time.Duration
}

// Controller executes gateway calls under the retry state machine.
type Controller struct {
	cfg    Config
	logger *zap.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// onRetry, when set, is told about each backoff cycle so progress
	// listeners can see the run is stalled, not dead.
	onRetry func(attempt, max int, backoff time.Duration)
}

// New creates a controller.
func New(cfg Config, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// OnRetry registers a callback invoked before each backoff sleep.
func (c *Controller) OnRetry(fn func(attempt, max int, backoff time.Duration)) {
	c.onRetry = fn
}

// Do runs op, retrying on ErrRateLimited up to MaxRetries times with a
// fixed backoff. Beyond the cap it returns ErrExhausted. Any other
// error from op is returned as-is, unretried. A canceled context
// surfaces as the context's error from the next suspension point.
func (c *Controller) Do(ctx context.Context, op func(ctx context.Context) error) error {
	retryCount := 0
	st := stateAttempt
	var opErr error

	for {
		switch st {
		case stateAttempt:
			opErr = op(ctx)
			switch {
			case opErr == nil:
				st = stateDone
			case errors.Is(opErr, ErrRateLimited):
				retryCount++
				if retryCount > c.cfg.MaxRetries {
					st = stateExhausted
				} else {
					st = stateBackoff
				}
			default:
				// Non-429 failures are the caller's problem, not ours.
				st = stateDone
			}

		case stateBackoff:
			c.logger.Warn("Rate limited by portal, backing off",
				zap.Int("retry", retryCount),
				zap.Int("max_retries", c.cfg.MaxRetries),
				zap.Duration("backoff", c.cfg.Backoff))
			if c.onRetry != nil {
				c.onRetry(retryCount, c.cfg.MaxRetries, c.cfg.Backoff)
			}
			if err := c.sleep(ctx, c.cfg.Backoff); err != nil {
				return err
			}
			st = stateAttempt

		case stateDone:
			return opErr

		case stateExhausted:
			c.logger.Warn("Rate limit retries exhausted, stopping run",
				zap.Int("retries", c.cfg.MaxRetries))
			return ErrExhausted
		}
	}
}

// Pace applies the proactive inter-call delay, honoring cancellation.
func (c *Controller) Pace(ctx context.Context) error {
	if c.cfg.Pace <= 0 {
		return ctx.Err()
	}
	return c.sleep(ctx, c.cfg.Pace)
}

// ShouldStop reports whether err means the run must stop issuing calls
// and flush its buffers. Exhaustion and cancellation share this path.
func ShouldStop(err error) bool {
	return errors.Is(err, ErrExhausted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

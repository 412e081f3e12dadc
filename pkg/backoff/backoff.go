package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// Config tunes an exponential back-off. Zero values are treated as
// "use a reasonable default".
type Config struct {
	InitialInterval     time.Duration
	RandomizationFactor float64
	Multiplier          float64
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration
}

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.5
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

// RetryableFunc is a unit of work that may be re-executed until it
// succeeds, the context is cancelled, or the strategy gives up.
type RetryableFunc func(ctx context.Context) error

// ErrMaxRetries is returned when fn kept failing until the strategy
// gave up.
type ErrMaxRetries struct {
	Err      error
	Attempts int
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: %d attempt(s) failed: %v", e.Attempts, e.Err)
}
func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Execute runs fn with exponential back-off, emitting metrics and
// structured logs via the supplied reporter/logger.
func Execute(ctx context.Context, cfg Config, logger log.Logger, reporter metrics.Reporter, fn RetryableFunc) error {
	cfg.applyDefaults()

	rep := reporter.Reporter(metrics.ReporterConf{Subsystem: `backoff`})
	retries := rep.Counter(metrics.MetricConf{Path: `retries_total`})
	failures := rep.Counter(metrics.MetricConf{Path: `failures_total`})
	successes := rep.Counter(metrics.MetricConf{Path: `successes_total`})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.RandomizationFactor = cfg.RandomizationFactor
	bo.Multiplier = cfg.Multiplier
	bo.MaxInterval = cfg.MaxInterval
	if cfg.MaxElapsedTime > 0 {
		bo.MaxElapsedTime = cfg.MaxElapsedTime
	} else {
		bo.MaxElapsedTime = 0 // never give up on elapsed time, only ctx cancellation
	}
	boCtx := backoff.WithContext(bo, ctx)

	attempts := 0
	operation := func() error {
		attempts++
		return fn(ctx)
	}

	notify := func(err error, delay time.Duration) {
		retries.Count(1, nil)
		logger.Warn(fmt.Sprintf(`back-off retry attempt=%d delay=%s err=%s`, attempts, delay, err))
	}

	if err := backoff.RetryNotify(operation, boCtx, notify); err != nil {
		failures.Count(1, nil)
		return &ErrMaxRetries{Err: err, Attempts: attempts}
	}

	successes.Count(1, nil)
	return nil
}

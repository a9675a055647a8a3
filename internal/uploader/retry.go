package uploader

import (
	"context"
	"time"

	"github.com/telemetrygov/logs-governor/internal/logging"
)

// Retry policy defaults.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 100 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultMultiplier      = 2.0
)

// Policy bounds the retry behavior applied to one encoded batch.
type Policy struct {
	// MaxRetries is the number of additional attempts beyond the first.
	MaxRetries uint32
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the delay between retries. Zero means uncapped.
	MaxInterval time.Duration
	// Multiplier grows the delay after each failed attempt.
	Multiplier float64
	// Enabled turns retrying on. When false exactly one attempt is made.
	Enabled bool
}

// DefaultPolicy returns the stock retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
		Enabled:         true,
	}
}

// maxAttempts returns the total attempt budget for the policy.
func (p Policy) maxAttempts() int {
	if !p.Enabled || p.MaxRetries == 0 {
		return 1
	}
	return int(p.MaxRetries) + 1
}

// UploadFunc performs a single upload attempt for one encoded batch.
type UploadFunc func(ctx context.Context, batch EncodedBatch) error

// sleepFunc waits for d or until ctx is canceled. Swapped out in tests.
type sleepFunc func(ctx context.Context, d time.Duration)

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// UploadWithRetry delivers one encoded batch, retrying failed attempts with
// capped exponential backoff. Every attempt is individually observable via
// logs and counters, but only the final outcome is returned; on terminal
// failure the last attempt's error is returned unmodified. The backoff wait
// blocks only the calling goroutine. Callers must not pass a batch with an
// empty payload.
func UploadWithRetry(ctx context.Context, batch EncodedBatch, policy Policy, upload UploadFunc) error {
	return uploadWithRetry(ctx, batch, policy, upload, sleepContext)
}

func uploadWithRetry(ctx context.Context, batch EncodedBatch, policy Policy, upload UploadFunc, sleep sleepFunc) error {
	maxAttempts := policy.maxAttempts()
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}

	delay := policy.InitialInterval
	for attempt := 1; ; attempt++ {
		err := upload(ctx, batch)
		if err == nil {
			if attempt > 1 {
				uploadRetrySuccessTotal.Inc()
				logging.Info("batch upload succeeded after retry", logging.F(
					"event_name", batch.EventName,
					"attempt", attempt,
				))
			}
			return nil
		}

		if attempt >= maxAttempts {
			uploadBatchesAbandonedTotal.Inc()
			logging.Warn("batch upload failed, retry budget exhausted", logging.F(
				"event_name", batch.EventName,
				"attempts", attempt,
				"error", err.Error(),
			))
			return err
		}

		uploadRetriesTotal.Inc()
		logging.Debug("batch upload failed, backing off", logging.F(
			"event_name", batch.EventName,
			"attempt", attempt,
			"delay", delay.String(),
			"error", err.Error(),
		))

		if delay > 0 {
			sleep(ctx, delay)
		}
		next := time.Duration(float64(delay) * multiplier)
		if policy.MaxInterval > 0 && next > policy.MaxInterval {
			next = policy.MaxInterval
		}
		delay = next
	}
}

package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"hostalerts/internal/logger"
	"hostalerts/internal/metrics"
	"hostalerts/internal/outbox"
)

const claimExpiredMessage = "claim expired"

type RetryQueue interface {
	ExpireClaims(ctx context.Context, before time.Time, errMsg string) (int, error)
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]outbox.Entry, error)
	Reschedule(ctx context.Context, id string, at time.Time) (bool, error)
}

type RequeueOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// ClaimTTL is how long an entry may stay processing before it is failed.
	ClaimTTL  time.Duration
	BatchSize int
}

type RequeueSummary struct {
	Expired     int `json:"expired"`
	Rescheduled int `json:"rescheduled"`
}

// Requeuer moves failed entries back to pending with exponential backoff
// until they run out of attempts.
type Requeuer struct {
	queue RetryQueue
	opts  RequeueOptions
	log   zerolog.Logger
	now   func() time.Time

	running sync.Mutex
}

func NewRequeuer(queue RetryQueue, opts RequeueOptions) *Requeuer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Minute
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 15 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Requeuer{queue: queue, opts: opts, log: logger.WithComponent("requeue"), now: time.Now}
}

func (r *Requeuer) WithClock(now func() time.Time) *Requeuer {
	r.now = now
	return r
}

func (r *Requeuer) Run(ctx context.Context) (RequeueSummary, error) {
	if !r.running.TryLock() {
		return RequeueSummary{}, ErrBusy
	}
	defer r.running.Unlock()

	var summary RequeueSummary
	now := r.now()
	expired, err := r.queue.ExpireClaims(ctx, now.Add(-r.opts.ClaimTTL), claimExpiredMessage)
	if err != nil {
		return summary, fmt.Errorf("expire claims: %w", err)
	}
	summary.Expired = expired
	metrics.ClaimsExpiredTotal.Add(float64(expired))
	if expired > 0 {
		r.log.Warn().Int("count", expired).Msg("expired stale claims")
	}

	retryable, err := r.queue.ListRetryable(ctx, r.opts.MaxAttempts, r.opts.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("list retryable: %w", err)
	}
	for _, e := range retryable {
		log := logger.WithEntry(r.log, e.ID, e.TenantID)
		at := now.Add(r.retryDelay(e.Attempts))
		ok, err := r.queue.Reschedule(ctx, e.ID, at)
		if err != nil {
			log.Error().Err(err).Msg("reschedule failed")
			continue
		}
		if !ok {
			continue
		}
		summary.Rescheduled++
		metrics.RequeuedTotal.Inc()
		log.Debug().
			Int("attempts", e.Attempts).
			Time("scheduled_at", at).
			Msg("entry rescheduled")
	}
	if summary.Rescheduled > 0 {
		r.log.Info().Int("rescheduled", summary.Rescheduled).Msg("requeue finished")
	}
	return summary, nil
}

// retryDelay is the wait before retrying an entry that has failed attempts
// times: BaseDelay doubled per earlier failure, capped at MaxDelay.
func (r *Requeuer) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = r.opts.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

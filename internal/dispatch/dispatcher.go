package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hostalerts/internal/channels"
	"hostalerts/internal/logger"
	"hostalerts/internal/metrics"
	"hostalerts/internal/outbox"
	"hostalerts/internal/rules"
)

// ErrBusy is returned when a dispatch pass is already running.
var ErrBusy = errors.New("dispatch already running")

const (
	defaultBatchSize   = 10
	statusWriteTimeout = 5 * time.Second
)

// BroadcastMaxPriority is the least urgent priority still sent to operators.
const BroadcastMaxPriority = rules.PriorityMedium

// Queue is the part of the outbox the dispatcher drives.
type Queue interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]outbox.Entry, error)
	Claim(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

type Options struct {
	BatchSize   int
	EntryDelay  time.Duration
	SendTimeout time.Duration
}

type Summary struct {
	Selected int `json:"selected"`
	Skipped  int `json:"skipped"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
}

// Dispatcher drains due outbox entries to the tenant channel and, for urgent
// entries, to the operator broadcast channel.
type Dispatcher struct {
	queue     Queue
	tenant    channels.Channel
	broadcast channels.Channel
	opts      Options
	log       zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	running sync.Mutex
}

// NewDispatcher builds a dispatcher. broadcast may be nil, in which case
// entries are only delivered to the tenant.
func NewDispatcher(queue Queue, tenant, broadcast channels.Channel, opts Options) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		queue:     queue,
		tenant:    tenant,
		broadcast: broadcast,
		opts:      opts,
		log:       logger.WithComponent("dispatch"),
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run delivers one batch of due entries, most urgent first.
func (d *Dispatcher) Run(ctx context.Context) (Summary, error) {
	if !d.running.TryLock() {
		metrics.DispatchRunsTotal.WithLabelValues("busy").Inc()
		return Summary{}, ErrBusy
	}
	defer d.running.Unlock()

	var summary Summary
	due, err := d.queue.ListDue(ctx, d.now(), d.opts.BatchSize)
	if err != nil {
		metrics.DispatchRunsTotal.WithLabelValues("error").Inc()
		return summary, fmt.Errorf("list due entries: %w", err)
	}
	summary.Selected = len(due)
	metrics.DispatchBatchSize.Observe(float64(len(due)))

	for i, entry := range due {
		if i > 0 && d.opts.EntryDelay > 0 {
			if err := d.sleep(ctx, d.opts.EntryDelay); err != nil {
				metrics.DispatchRunsTotal.WithLabelValues("cancelled").Inc()
				return summary, err
			}
		}
		if err := ctx.Err(); err != nil {
			metrics.DispatchRunsTotal.WithLabelValues("cancelled").Inc()
			return summary, err
		}

		log := logger.WithEntry(d.log, entry.ID, entry.TenantID)
		claimed, err := d.queue.Claim(ctx, entry.ID)
		if err != nil {
			log.Error().Err(err).Msg("claim failed")
			summary.Failed++
			continue
		}
		if !claimed {
			log.Debug().Msg("entry claimed elsewhere")
			summary.Skipped++
			continue
		}

		deliveryErr := d.deliver(ctx, entry)
		if deliveryErr == nil {
			if err := d.markSent(ctx, entry.ID); err != nil {
				log.Error().Err(err).Msg("mark sent failed")
				summary.Failed++
				continue
			}
			metrics.EntriesTotal.WithLabelValues(string(outbox.StatusSent)).Inc()
			log.Info().Str("alert_type", entry.AlertType).Int("priority", int(entry.Priority)).Msg("alert delivered")
			summary.Sent++
			continue
		}

		summary.Failed++
		metrics.EntriesTotal.WithLabelValues(string(outbox.StatusFailed)).Inc()
		log.Warn().Err(deliveryErr).Msg("alert delivery failed")
		if err := d.markFailed(ctx, entry.ID, deliveryErr.Error()); err != nil {
			log.Error().Err(err).Msg("mark failed failed")
		}
	}

	metrics.DispatchRunsTotal.WithLabelValues("ok").Inc()
	d.log.Info().
		Int("selected", summary.Selected).
		Int("skipped", summary.Skipped).
		Int("sent", summary.Sent).
		Int("failed", summary.Failed).
		Msg("dispatch finished")
	return summary, nil
}

// markSent and markFailed settle a claimed entry even when ctx was cancelled
// during delivery.
func (d *Dispatcher) markSent(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	return d.queue.MarkSent(ctx, id, d.now())
}

func (d *Dispatcher) markFailed(ctx context.Context, id, errMsg string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	return d.queue.MarkFailed(ctx, id, errMsg)
}

// deliver sends to every applicable channel and joins their errors.
func (d *Dispatcher) deliver(ctx context.Context, entry outbox.Entry) error {
	n := notificationFor(entry)
	var errs []error
	if err := d.send(ctx, d.tenant, n); err != nil {
		errs = append(errs, err)
	}
	if d.broadcast != nil && entry.Priority <= BroadcastMaxPriority {
		if err := d.send(ctx, d.broadcast, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) send(parent context.Context, ch channels.Channel, n channels.Notification) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Str("channel", ch.Name()).Msg("channel panicked")
			err = fmt.Errorf("%s: panic: %v", ch.Name(), rec)
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.DeliveriesTotal.WithLabelValues(ch.Name(), result).Inc()
	}()

	ctx, cancel := context.WithTimeout(parent, d.opts.SendTimeout)
	defer cancel()
	if err := ch.Send(ctx, n); err != nil {
		return fmt.Errorf("%s: %w", ch.Name(), err)
	}
	return nil
}

func notificationFor(e outbox.Entry) channels.Notification {
	return channels.Notification{
		EntryID:   e.ID,
		TenantID:  e.TenantID,
		RuleID:    e.RuleID,
		AlertType: e.AlertType,
		Title:     e.Title,
		Message:   e.Message,
		Data:      e.Data,
		Priority:  e.Priority,
		CreatedAt: e.CreatedAt,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

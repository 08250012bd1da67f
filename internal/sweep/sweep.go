package sweep

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hostalerts/internal/cooldown"
	"hostalerts/internal/evaluator"
	"hostalerts/internal/logger"
	"hostalerts/internal/metrics"
	"hostalerts/internal/outbox"
	"hostalerts/internal/rules"
)

// ErrBusy is returned when a sweep is already running on the coordinator.
var ErrBusy = errors.New("sweep already running")

type RuleSource interface {
	EnabledRules(ctx context.Context) ([]rules.AlertRule, error)
}

type Guard interface {
	Check(ctx context.Context, rule rules.AlertRule) (cooldown.Reason, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, rule rules.AlertRule) (*evaluator.Trigger, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, e outbox.Entry) (outbox.Entry, error)
}

type Options struct {
	// RuleDelay is the pause between two rules.
	RuleDelay time.Duration
	// EvalTimeout bounds the guard check, evaluation and enqueue of one rule.
	EvalTimeout time.Duration
}

type Summary struct {
	Rules      int           `json:"rules"`
	Evaluated  int           `json:"evaluated"`
	Suppressed int           `json:"suppressed"`
	Triggered  int           `json:"triggered"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"durationNs"`
}

type outcome string

const (
	outcomeSuppressed outcome = "suppressed"
	outcomeQuiet      outcome = "quiet"
	outcomeTriggered  outcome = "triggered"
	outcomeFailed     outcome = "failed"
)

// Coordinator runs one pass over every enabled rule, strictly in order.
type Coordinator struct {
	rules  RuleSource
	guard  Guard
	eval   Evaluator
	outbox Enqueuer
	opts   Options
	log    zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	running sync.Mutex
}

func NewCoordinator(src RuleSource, guard Guard, eval Evaluator, out Enqueuer, opts Options) *Coordinator {
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = 30 * time.Second
	}
	return &Coordinator{
		rules:  src,
		guard:  guard,
		eval:   eval,
		outbox: out,
		opts:   opts,
		log:    logger.WithComponent("sweep"),
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// WithClock replaces the coordinator clock.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Run evaluates every enabled rule once. A failure in one rule is logged and
// counted without stopping the sweep. The returned error is non-nil only when
// rules could not be loaded, the context ended, or a sweep was already running.
func (c *Coordinator) Run(ctx context.Context) (summary Summary, err error) {
	if !c.running.TryLock() {
		metrics.SweepRunsTotal.WithLabelValues("busy").Inc()
		return Summary{}, ErrBusy
	}
	defer c.running.Unlock()

	start := c.now()
	defer func() {
		summary.Duration = c.now().Sub(start)
		metrics.SweepDuration.Observe(summary.Duration.Seconds())
	}()

	enabled, err := c.rules.EnabledRules(ctx)
	if err != nil {
		metrics.SweepRunsTotal.WithLabelValues("error").Inc()
		return summary, fmt.Errorf("load rules: %w", err)
	}
	summary.Rules = len(enabled)

	for i, rule := range enabled {
		if i > 0 && c.opts.RuleDelay > 0 {
			if err := c.sleep(ctx, c.opts.RuleDelay); err != nil {
				metrics.SweepRunsTotal.WithLabelValues("cancelled").Inc()
				return summary, err
			}
		}
		if err := ctx.Err(); err != nil {
			metrics.SweepRunsTotal.WithLabelValues("cancelled").Inc()
			return summary, err
		}

		result := c.processRule(ctx, rule)
		metrics.RuleOutcomesTotal.WithLabelValues(string(rule.RuleType), string(result)).Inc()
		switch result {
		case outcomeSuppressed:
			summary.Suppressed++
		case outcomeQuiet:
			summary.Evaluated++
		case outcomeTriggered:
			summary.Evaluated++
			summary.Triggered++
		case outcomeFailed:
			summary.Failed++
		}
	}

	metrics.SweepRunsTotal.WithLabelValues("ok").Inc()
	c.log.Info().
		Int("rules", summary.Rules).
		Int("evaluated", summary.Evaluated).
		Int("suppressed", summary.Suppressed).
		Int("triggered", summary.Triggered).
		Int("failed", summary.Failed).
		Dur("duration", c.now().Sub(start)).
		Msg("sweep finished")
	return summary, nil
}

func (c *Coordinator) processRule(parent context.Context, rule rules.AlertRule) (result outcome) {
	log := logger.WithRule(c.log, rule.ID, rule.TenantID)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("rule evaluation panicked")
			result = outcomeFailed
		}
	}()

	ctx, cancel := context.WithTimeout(parent, c.opts.EvalTimeout)
	defer cancel()

	reason, err := c.guard.Check(ctx, rule)
	if err != nil {
		log.Error().Err(err).Msg("cooldown check failed")
		return outcomeFailed
	}
	if reason != cooldown.ReasonNone {
		log.Debug().Str("reason", string(reason)).Msg("rule suppressed")
		return outcomeSuppressed
	}

	started := time.Now()
	trigger, err := c.eval.Evaluate(ctx, rule)
	metrics.RuleEvaluationDuration.WithLabelValues(string(rule.RuleType)).Observe(time.Since(started).Seconds())
	if err != nil {
		log.Error().Err(err).Str("rule_type", string(rule.RuleType)).Msg("rule evaluation failed")
		return outcomeFailed
	}
	if trigger == nil {
		return outcomeQuiet
	}

	entry, err := c.outbox.Enqueue(ctx, outbox.Entry{
		RuleID:      trigger.RuleID,
		TenantID:    trigger.TenantID,
		AlertType:   trigger.AlertType,
		Title:       trigger.Title,
		Message:     trigger.Message,
		Data:        trigger.Data,
		Priority:    trigger.Priority,
		ScheduledAt: c.now(),
	})
	if err != nil {
		log.Error().Err(err).Msg("enqueue alert failed")
		return outcomeFailed
	}
	log.Info().
		Str("entry_id", entry.ID).
		Str("alert_type", trigger.AlertType).
		Int("priority", int(trigger.Priority)).
		Msg("alert queued")
	return outcomeTriggered
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

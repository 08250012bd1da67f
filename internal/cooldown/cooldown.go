package cooldown

import (
	"context"
	"fmt"
	"time"

	"hostalerts/internal/rules"
)

// WithinCooldown reports whether last falls inside the cooldown window ending at now.
// A zero or negative cooldown never blocks.
func WithinCooldown(last time.Time, cooldownHours float64, now time.Time) bool {
	if cooldownHours <= 0 {
		return false
	}
	window := time.Duration(cooldownHours * float64(time.Hour))
	return !last.Before(now.Add(-window))
}

// History is the part of the outbox the guard reads.
type History interface {
	LastSentAt(ctx context.Context, tenantID, ruleID string) (time.Time, bool, error)
	HasOpen(ctx context.Context, tenantID, ruleID string) (bool, error)
}

type Reason string

const (
	ReasonNone     Reason = ""
	ReasonCooldown Reason = "cooldown"
	ReasonPending  Reason = "pending"
)

// Guard suppresses rules that alerted recently or still have an undelivered entry.
type Guard struct {
	History         History
	SuppressPending bool
	now             func() time.Time
}

func NewGuard(history History, suppressPending bool) *Guard {
	return &Guard{History: history, SuppressPending: suppressPending, now: time.Now}
}

// WithClock replaces the guard clock.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Check returns a non-empty reason when the rule must be skipped this sweep.
func (g *Guard) Check(ctx context.Context, rule rules.AlertRule) (Reason, error) {
	if g.SuppressPending {
		open, err := g.History.HasOpen(ctx, rule.TenantID, rule.ID)
		if err != nil {
			return ReasonNone, fmt.Errorf("check open entries: %w", err)
		}
		if open {
			return ReasonPending, nil
		}
	}
	last, ok, err := g.History.LastSentAt(ctx, rule.TenantID, rule.ID)
	if err != nil {
		return ReasonNone, fmt.Errorf("check last sent: %w", err)
	}
	if ok && WithinCooldown(last, rule.CooldownHours, g.now()) {
		return ReasonCooldown, nil
	}
	return ReasonNone, nil
}

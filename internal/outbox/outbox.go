package outbox

import (
	"context"
	"errors"
	"time"

	"hostalerts/internal/rules"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSent, StatusFailed:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound   = errors.New("outbox entry not found")
	ErrNotClaimed = errors.New("outbox entry is not claimed")
)

// Entry is one alert waiting for, or finished with, delivery.
// SentAt is set if and only if Status is StatusSent.
type Entry struct {
	ID           string         `json:"id"`
	RuleID       string         `json:"ruleId"`
	TenantID     string         `json:"tenantId"`
	AlertType    string         `json:"alertType"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data"`
	Priority     rules.Priority `json:"priority"`
	Status       Status         `json:"status"`
	ScheduledAt  time.Time      `json:"scheduledAt"`
	SentAt       *time.Time     `json:"sentAt,omitempty"`
	Attempts     int            `json:"attempts"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Status   Status
	TenantID string
	RuleID   string
	Limit    int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func (f Filter) NormalizedLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}

// Store is the durable queue shared by the sweep and the dispatcher.
type Store interface {
	// Enqueue inserts a pending entry. ID, Status, CreatedAt and UpdatedAt are
	// assigned by the store.
	Enqueue(ctx context.Context, e Entry) (Entry, error)

	// LastSentAt returns the newest sent_at for the pair; ok is false if none.
	LastSentAt(ctx context.Context, tenantID, ruleID string) (last time.Time, ok bool, err error)

	// HasOpen reports whether a pending or processing entry exists for the pair.
	HasOpen(ctx context.Context, tenantID, ruleID string) (bool, error)

	// ListDue returns pending entries scheduled at or before now, ordered by
	// priority then creation time.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)

	// Claim moves a pending entry to processing. It returns false when another
	// worker got there first or the entry is no longer pending.
	Claim(ctx context.Context, id string) (bool, error)

	MarkSent(ctx context.Context, id string, sentAt time.Time) error

	// MarkFailed records a failed attempt, incrementing attempts.
	MarkFailed(ctx context.Context, id, errMsg string) error

	// ListRetryable returns failed entries with fewer than maxAttempts attempts.
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]Entry, error)

	// Reschedule moves a failed entry back to pending at the given time.
	Reschedule(ctx context.Context, id string, at time.Time) (bool, error)

	// ExpireClaims fails processing entries last touched before the cutoff.
	ExpireClaims(ctx context.Context, before time.Time, errMsg string) (int, error)

	Get(ctx context.Context, id string) (Entry, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
}

package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	seq     int64
	now     func() time.Time
}

type memEntry struct {
	Entry
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]*memEntry{}, now: time.Now}
}

// WithClock replaces the store clock.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.seq++
	e.ID = uuid.NewString()
	e.Status = StatusPending
	e.SentAt = nil
	e.Attempts = 0
	e.ErrorMessage = ""
	if e.ScheduledAt.IsZero() {
		e.ScheduledAt = now
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Data = cloneData(e.Data)
	s.entries[e.ID] = &memEntry{Entry: e, seq: s.seq}
	return copyEntry(e), nil
}

func (s *MemoryStore) LastSentAt(ctx context.Context, tenantID, ruleID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last time.Time
	found := false
	for _, e := range s.entries {
		if e.TenantID != tenantID || e.RuleID != ruleID || e.Status != StatusSent || e.SentAt == nil {
			continue
		}
		if !found || e.SentAt.After(last) {
			last = *e.SentAt
			found = true
		}
	}
	return last, found, nil
}

func (s *MemoryStore) HasOpen(ctx context.Context, tenantID, ruleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.TenantID == tenantID && e.RuleID == ruleID && (e.Status == StatusPending || e.Status == StatusProcessing) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	return s.collect(limit, func(e *memEntry) bool {
		return e.Status == StatusPending && !e.ScheduledAt.After(now)
	}, dueOrder), nil
}

func (s *MemoryStore) Claim(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.Status != StatusPending {
		return false, nil
	}
	e.Status = StatusProcessing
	e.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusProcessing {
		return ErrNotClaimed
	}
	at := sentAt
	e.Status = StatusSent
	e.SentAt = &at
	e.ErrorMessage = ""
	e.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != StatusProcessing {
		return ErrNotClaimed
	}
	e.Status = StatusFailed
	e.Attempts++
	e.ErrorMessage = errMsg
	e.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]Entry, error) {
	return s.collect(limit, func(e *memEntry) bool {
		return e.Status == StatusFailed && e.Attempts < maxAttempts
	}, updatedOrder), nil
}

func (s *MemoryStore) Reschedule(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.Status != StatusFailed {
		return false, nil
	}
	e.Status = StatusPending
	e.ScheduledAt = at
	e.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) ExpireClaims(ctx context.Context, before time.Time, errMsg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	now := s.now()
	for _, e := range s.entries {
		if e.Status != StatusProcessing || !e.UpdatedAt.Before(before) {
			continue
		}
		e.Status = StatusFailed
		e.Attempts++
		e.ErrorMessage = errMsg
		e.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return copyEntry(e.Entry), nil
}

// List returns matching entries, newest first.
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	return s.collect(f.NormalizedLimit(), func(e *memEntry) bool {
		return (f.Status == "" || e.Status == f.Status) &&
			(f.TenantID == "" || e.TenantID == f.TenantID) &&
			(f.RuleID == "" || e.RuleID == f.RuleID)
	}, newestOrder), nil
}

func (s *MemoryStore) collect(limit int, match func(*memEntry) bool, less func(a, b *memEntry) bool) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]*memEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if match(e) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]Entry, len(matched))
	for i, e := range matched {
		out[i] = copyEntry(e.Entry)
	}
	return out
}

func dueOrder(a, b *memEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

func updatedOrder(a, b *memEntry) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.seq < b.seq
}

func newestOrder(a, b *memEntry) bool {
	return a.seq > b.seq
}

func copyEntry(e Entry) Entry {
	if e.SentAt != nil {
		at := *e.SentAt
		e.SentAt = &at
	}
	e.Data = cloneData(e.Data)
	return e
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostalerts/internal/rules"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestEnqueueAssignsPendingState(t *testing.T) {
	clk := newClock()
	store := NewMemoryStore().WithClock(clk.Now)
	ctx := context.Background()

	e, err := store.Enqueue(ctx, Entry{RuleID: "r1", TenantID: "t1", Priority: rules.PriorityHigh, Status: StatusSent, Attempts: 4, Data: map[string]any{"k": 1}})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, 0, e.Attempts)
	assert.Nil(t, e.SentAt)
	assert.Equal(t, clk.Now(), e.ScheduledAt)
	assert.Equal(t, clk.Now(), e.CreatedAt)

	e.Data["k"] = 2
	stored, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Data["k"])
}

func TestListDueOrdersByPriorityThenAge(t *testing.T) {
	clk := newClock()
	store := NewMemoryStore().WithClock(clk.Now)
	ctx := context.Background()

	var ids []string
	for _, p := range []rules.Priority{3, 1, 2, 1} {
		e, err := store.Enqueue(ctx, Entry{RuleID: "r", TenantID: "t", Priority: p})
		require.NoError(t, err)
		ids = append(ids, e.ID)
		clk.Advance(time.Second)
	}
	future, err := store.Enqueue(ctx, Entry{RuleID: "r", TenantID: "t", Priority: 1, ScheduledAt: clk.Now().Add(time.Hour)})
	require.NoError(t, err)

	due, err := store.ListDue(ctx, clk.Now(), 10)
	require.NoError(t, err)
	got := make([]string, len(due))
	for i, e := range due {
		got[i] = e.ID
	}
	assert.Equal(t, []string{ids[1], ids[3], ids[2], ids[0]}, got)
	assert.NotContains(t, got, future.ID)

	limited, err := store.ListDue(ctx, clk.Now(), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestClaimIsExclusive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	e, err := store.Enqueue(ctx, Entry{RuleID: "r", TenantID: "t", Priority: 2})
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Claim(ctx, e.ID)
			if err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	_, err = store.Claim(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSentAtOnlyWhenSent(t *testing.T) {
	clk := newClock()
	store := NewMemoryStore().WithClock(clk.Now)
	ctx := context.Background()

	sent, _ := store.Enqueue(ctx, Entry{RuleID: "r1", TenantID: "t"})
	failed, _ := store.Enqueue(ctx, Entry{RuleID: "r2", TenantID: "t"})

	assert.ErrorIs(t, store.MarkSent(ctx, sent.ID, clk.Now()), ErrNotClaimed)

	_, err := store.Claim(ctx, sent.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkSent(ctx, sent.ID, clk.Now()))
	_, err = store.Claim(ctx, failed.ID)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, failed.ID, "broadcast: timeout"))

	all, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	for _, e := range all {
		assert.Equal(t, e.Status == StatusSent, e.SentAt != nil, e.ID)
	}

	got, _ := store.Get(ctx, failed.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "broadcast: timeout", got.ErrorMessage)

	last, ok, err := store.LastSentAt(ctx, "t", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, clk.Now(), last)

	_, ok, _ = store.LastSentAt(ctx, "t", "r2")
	assert.False(t, ok)
}

func TestHasOpen(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	e, _ := store.Enqueue(ctx, Entry{RuleID: "r", TenantID: "t"})

	open, err := store.HasOpen(ctx, "t", "r")
	require.NoError(t, err)
	assert.True(t, open)

	_, _ = store.Claim(ctx, e.ID)
	open, _ = store.HasOpen(ctx, "t", "r")
	assert.True(t, open)

	require.NoError(t, store.MarkSent(ctx, e.ID, time.Now()))
	open, _ = store.HasOpen(ctx, "t", "r")
	assert.False(t, open)

	open, _ = store.HasOpen(ctx, "other", "r")
	assert.False(t, open)
}

func TestRetryAndReschedule(t *testing.T) {
	clk := newClock()
	store := NewMemoryStore().WithClock(clk.Now)
	ctx := context.Background()

	e, _ := store.Enqueue(ctx, Entry{RuleID: "r", TenantID: "t"})
	_, _ = store.Claim(ctx, e.ID)
	require.NoError(t, store.MarkFailed(ctx, e.ID, "boom"))

	retryable, err := store.ListRetryable(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)

	none, _ := store.ListRetryable(ctx, 1, 10)
	assert.Empty(t, none)

	ok, err := store.Reschedule(ctx, e.ID, clk.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.Reschedule(ctx, e.ID, clk.Now())
	assert.False(t, ok, "only failed entries can be rescheduled")

	due, _ := store.ListDue(ctx, clk.Now(), 10)
	assert.Empty(t, due)
	clk.Advance(time.Minute)
	due, _ = store.ListDue(ctx, clk.Now(), 10)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
}

func TestExpireClaims(t *testing.T) {
	clk := newClock()
	store := NewMemoryStore().WithClock(clk.Now)
	ctx := context.Background()

	stale, _ := store.Enqueue(ctx, Entry{RuleID: "r1", TenantID: "t"})
	_, _ = store.Claim(ctx, stale.ID)
	clk.Advance(10 * time.Minute)
	fresh, _ := store.Enqueue(ctx, Entry{RuleID: "r2", TenantID: "t"})
	_, _ = store.Claim(ctx, fresh.ID)

	n, err := store.ExpireClaims(ctx, clk.Now().Add(-5*time.Minute), "claim expired")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := store.Get(ctx, stale.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	got, _ = store.Get(ctx, fresh.ID)
	assert.Equal(t, StatusProcessing, got.Status)
}

func TestListFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _ = store.Enqueue(ctx, Entry{RuleID: "r1", TenantID: "a"})
	second, _ := store.Enqueue(ctx, Entry{RuleID: "r2", TenantID: "b"})
	_, _ = store.Claim(ctx, second.ID)

	byTenant, _ := store.List(ctx, Filter{TenantID: "b"})
	require.Len(t, byTenant, 1)
	assert.Equal(t, second.ID, byTenant[0].ID)

	pending, _ := store.List(ctx, Filter{Status: StatusPending})
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].RuleID)

	all, _ := store.List(ctx, Filter{})
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
}

func TestFilterLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, Filter{}.NormalizedLimit())
	assert.Equal(t, MaxListLimit, Filter{Limit: 10000}.NormalizedLimit())
	assert.Equal(t, 5, Filter{Limit: 5}.NormalizedLimit())
	assert.True(t, StatusProcessing.Valid())
	assert.False(t, Status("queued").Valid())
}

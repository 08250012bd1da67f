package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"hostalerts/internal/outbox"
	"hostalerts/internal/rules"
)

// OutboxStore is the Postgres implementation of outbox.Store.
type OutboxStore struct {
	Store *Store
	now   func() time.Time
}

func NewOutboxStore(store *Store) *OutboxStore {
	return &OutboxStore{Store: store, now: time.Now}
}

var _ outbox.Store = (*OutboxStore)(nil)

const entryColumns = `id, rule_id, tenant_id, alert_type, title, message, data, priority, status,
	scheduled_at, sent_at, attempts, error_message, created_at, updated_at`

func (s *OutboxStore) Enqueue(ctx context.Context, e outbox.Entry) (outbox.Entry, error) {
	data, err := encodeData(e.Data)
	if err != nil {
		return outbox.Entry{}, err
	}
	now := s.now().UTC()
	e.ID = uuid.NewString()
	e.Status = outbox.StatusPending
	e.SentAt = nil
	e.Attempts = 0
	e.ErrorMessage = ""
	if e.ScheduledAt.IsZero() {
		e.ScheduledAt = now
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	_, err = s.Store.Pool.Exec(ctx, `
		INSERT INTO outbox_entries (id, rule_id, tenant_id, alert_type, title, message, data, priority, status, scheduled_at, attempts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11,$11)`,
		e.ID, e.RuleID, e.TenantID, e.AlertType, e.Title, e.Message, data, int16(e.Priority), string(e.Status), e.ScheduledAt, now)
	if err != nil {
		return outbox.Entry{}, fmt.Errorf("insert outbox entry: %w", err)
	}
	return e, nil
}

func (s *OutboxStore) LastSentAt(ctx context.Context, tenantID, ruleID string) (time.Time, bool, error) {
	var last *time.Time
	err := s.Store.Pool.QueryRow(ctx, `
		SELECT max(sent_at) FROM outbox_entries WHERE tenant_id=$1 AND rule_id=$2 AND status='sent'`,
		tenantID, ruleID).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last sent: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

func (s *OutboxStore) HasOpen(ctx context.Context, tenantID, ruleID string) (bool, error) {
	var open bool
	err := s.Store.Pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM outbox_entries WHERE tenant_id=$1 AND rule_id=$2 AND status IN ('pending','processing'))`,
		tenantID, ruleID).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("query open entries: %w", err)
	}
	return open, nil
}

func (s *OutboxStore) ListDue(ctx context.Context, now time.Time, limit int) ([]outbox.Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM outbox_entries
		WHERE status='pending' AND scheduled_at <= $1
		ORDER BY priority ASC, created_at ASC, id ASC LIMIT $2`, now, limit)
}

func (s *OutboxStore) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := s.Store.Pool.Exec(ctx, `
		UPDATE outbox_entries SET status='processing', updated_at=$2 WHERE id=$1 AND status='pending'`, id, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim outbox entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	tag, err := s.Store.Pool.Exec(ctx, `
		UPDATE outbox_entries SET status='sent', sent_at=$2, error_message=NULL, updated_at=$3
		WHERE id=$1 AND status='processing'`, id, sentAt.UTC(), s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox entry sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outbox.ErrNotClaimed
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id, errMsg string) error {
	tag, err := s.Store.Pool.Exec(ctx, `
		UPDATE outbox_entries SET status='failed', attempts=attempts+1, error_message=$2, updated_at=$3
		WHERE id=$1 AND status='processing'`, id, errMsg, s.now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox entry failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return outbox.ErrNotClaimed
	}
	return nil
}

func (s *OutboxStore) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]outbox.Entry, error) {
	return s.query(ctx, `SELECT `+entryColumns+` FROM outbox_entries
		WHERE status='failed' AND attempts < $1
		ORDER BY updated_at ASC, id ASC LIMIT $2`, maxAttempts, limit)
}

func (s *OutboxStore) Reschedule(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.Store.Pool.Exec(ctx, `
		UPDATE outbox_entries SET status='pending', scheduled_at=$2, updated_at=$3
		WHERE id=$1 AND status='failed'`, id, at.UTC(), s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("reschedule outbox entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *OutboxStore) ExpireClaims(ctx context.Context, before time.Time, errMsg string) (int, error) {
	tag, err := s.Store.Pool.Exec(ctx, `
		UPDATE outbox_entries SET status='failed', attempts=attempts+1, error_message=$2, updated_at=$3
		WHERE status='processing' AND updated_at < $1`, before.UTC(), errMsg, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire outbox claims: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *OutboxStore) Get(ctx context.Context, id string) (outbox.Entry, error) {
	entries, err := s.query(ctx, `SELECT `+entryColumns+` FROM outbox_entries WHERE id=$1`, id)
	if err != nil {
		return outbox.Entry{}, err
	}
	if len(entries) == 0 {
		return outbox.Entry{}, outbox.ErrNotFound
	}
	return entries[0], nil
}

func (s *OutboxStore) List(ctx context.Context, f outbox.Filter) ([]outbox.Entry, error) {
	where, args := listConditions(f)
	args = append(args, f.NormalizedLimit())
	query := `SELECT ` + entryColumns + ` FROM outbox_entries` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))
	return s.query(ctx, query, args...)
}

func listConditions(f outbox.Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.TenantID != "" {
		add("tenant_id", f.TenantID)
	}
	if f.RuleID != "" {
		add("rule_id", f.RuleID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *OutboxStore) query(ctx context.Context, sql string, args ...any) ([]outbox.Entry, error) {
	rows, err := s.Store.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()
	results := []outbox.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return results, nil
}

func scanEntry(row pgx.Row) (outbox.Entry, error) {
	var (
		e        outbox.Entry
		data     []byte
		priority int16
		status   string
		errMsg   *string
	)
	if err := row.Scan(&e.ID, &e.RuleID, &e.TenantID, &e.AlertType, &e.Title, &e.Message, &data, &priority, &status,
		&e.ScheduledAt, &e.SentAt, &e.Attempts, &errMsg, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return outbox.Entry{}, outbox.ErrNotFound
		}
		return outbox.Entry{}, fmt.Errorf("scan outbox entry: %w", err)
	}
	e.Priority = rules.Priority(priority)
	e.Status = outbox.Status(status)
	if errMsg != nil {
		e.ErrorMessage = *errMsg
	}
	decoded, err := decodeData(data)
	if err != nil {
		return outbox.Entry{}, fmt.Errorf("decode data for entry %s: %w", e.ID, err)
	}
	e.Data = decoded
	return e, nil
}

func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode entry data: %w", err)
	}
	return raw, nil
}

func decodeData(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

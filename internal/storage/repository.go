package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"hostalerts/internal/logger"
	"hostalerts/internal/metrics"
	"hostalerts/internal/rules"
)

type Repository struct {
	Store *Store
	log   zerolog.Logger
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store, log: logger.WithComponent("storage")}
}

const ruleColumns = `id, tenant_id, name, rule_type, threshold, cooldown_hours, enabled, priority, audience_target, created_at, updated_at`

func scanRule(row pgx.Row) (RuleRecord, error) {
	var rec RuleRecord
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Name, &rec.RuleType, &rec.Threshold, &rec.CooldownHours,
		&rec.Enabled, &rec.Priority, &rec.AudienceTarget, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// EnabledRules returns enabled rules that decode and validate, in load order.
// Malformed rows are logged and skipped.
func (r *Repository) EnabledRules(ctx context.Context) ([]rules.AlertRule, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE enabled = true ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer rows.Close()
	decoded := []rules.AlertRule{}
	for rows.Next() {
		rec, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule, err := rec.ToRule()
		if err != nil {
			r.log.Warn().Err(err).Str("rule_id", rec.ID).Msg("skipping malformed rule")
			continue
		}
		decoded = append(decoded, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	usable := rules.Usable(decoded, r.log)
	metrics.RulesLoaded.Set(float64(len(usable)))
	return usable, nil
}

// GetRule returns one rule by id, enabled or not.
func (r *Repository) GetRule(ctx context.Context, id string) (rules.AlertRule, error) {
	rec, err := scanRule(r.Store.Pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.AlertRule{}, ErrNotFound
	}
	if err != nil {
		return rules.AlertRule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	return rec.ToRule()
}

// UpsertRule inserts or replaces a rule by id.
func (r *Repository) UpsertRule(ctx context.Context, rule rules.AlertRule) error {
	if verr := rules.Validate(rule); verr != nil {
		return verr
	}
	rec, err := RuleToRecord(rule)
	if err != nil {
		return err
	}
	_, err = r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_rules (id, tenant_id, name, rule_type, threshold, cooldown_hours, enabled, priority, audience_target)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id=EXCLUDED.tenant_id, name=EXCLUDED.name, rule_type=EXCLUDED.rule_type,
			threshold=EXCLUDED.threshold, cooldown_hours=EXCLUDED.cooldown_hours, enabled=EXCLUDED.enabled,
			priority=EXCLUDED.priority, audience_target=EXCLUDED.audience_target, updated_at=now()`,
		rec.ID, rec.TenantID, rec.Name, rec.RuleType, rec.Threshold, rec.CooldownHours, rec.Enabled, rec.Priority, rec.AudienceTarget)
	if err != nil {
		return fmt.Errorf("upsert rule %s: %w", rule.ID, err)
	}
	return nil
}

type SyncResult struct {
	Written  int
	Skipped  int
	Disabled int
}

// SyncRules makes alert_rules match a rule file: every valid rule is
// upserted and enabled rows whose id is not among them are disabled.
// Invalid rules are logged and skipped, so their old rows are disabled too.
func (r *Repository) SyncRules(ctx context.Context, all []rules.AlertRule) (SyncResult, error) {
	var res SyncResult
	kept := make([]string, 0, len(all))
	for _, rule := range all {
		if verr := rules.Validate(rule); verr != nil {
			r.log.Warn().Str("rule_id", rule.ID).Interface("details", verr.Details).Msg("not syncing invalid rule")
			res.Skipped++
			continue
		}
		if err := r.UpsertRule(ctx, rule); err != nil {
			return res, err
		}
		kept = append(kept, rule.ID)
		res.Written++
	}
	tag, err := r.Store.Pool.Exec(ctx,
		`UPDATE alert_rules SET enabled = false, updated_at = now() WHERE enabled AND NOT (id = ANY($1))`, kept)
	if err != nil {
		return res, fmt.Errorf("disable removed rules: %w", err)
	}
	res.Disabled = int(tag.RowsAffected())
	return res, nil
}

func (r *Repository) InsertNotification(ctx context.Context, n NotificationRecord) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO notifications (id, tenant_id, entry_id, alert_type, title, message, data, priority, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		n.ID, n.TenantID, n.EntryID, n.AlertType, n.Title, n.Message, n.Data, n.Priority, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

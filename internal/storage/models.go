package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"hostalerts/internal/rules"
)

type RuleRecord struct {
	ID             string
	TenantID       string
	Name           string
	RuleType       string
	Threshold      []byte
	CooldownHours  float64
	Enabled        bool
	Priority       *int16
	AudienceTarget *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ToRule decodes the stored threshold into an AlertRule.
func (rec RuleRecord) ToRule() (rules.AlertRule, error) {
	rule := rules.AlertRule{
		ID:            rec.ID,
		TenantID:      rec.TenantID,
		Name:          rec.Name,
		RuleType:      rules.RuleType(rec.RuleType),
		CooldownHours: rec.CooldownHours,
		Enabled:       rec.Enabled,
	}
	if len(rec.Threshold) > 0 {
		if err := json.Unmarshal(rec.Threshold, &rule.Threshold); err != nil {
			return rules.AlertRule{}, fmt.Errorf("decode threshold for rule %s: %w", rec.ID, err)
		}
	}
	if rec.Priority != nil {
		rule.Priority = rules.Priority(*rec.Priority)
	}
	if rec.AudienceTarget != nil {
		rule.AudienceTarget = *rec.AudienceTarget
	}
	return rule, nil
}

// RuleToRecord is the inverse of ToRule.
func RuleToRecord(rule rules.AlertRule) (RuleRecord, error) {
	threshold, err := json.Marshal(rule.Threshold)
	if err != nil {
		return RuleRecord{}, fmt.Errorf("encode threshold: %w", err)
	}
	rec := RuleRecord{
		ID:            rule.ID,
		TenantID:      rule.TenantID,
		Name:          rule.Name,
		RuleType:      string(rule.RuleType),
		Threshold:     threshold,
		CooldownHours: rule.CooldownHours,
		Enabled:       rule.Enabled,
	}
	if rule.Priority != 0 {
		p := int16(rule.Priority)
		rec.Priority = &p
	}
	if rule.AudienceTarget != "" {
		a := rule.AudienceTarget
		rec.AudienceTarget = &a
	}
	return rec, nil
}

type NotificationRecord struct {
	ID        string
	TenantID  string
	EntryID   string
	AlertType string
	Title     string
	Message   string
	Data      []byte
	Priority  int16
	CreatedAt time.Time
}

package rules

import (
	"fmt"
	"sort"
	"strings"
)

type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint,omitempty"`
}

type ValidationError struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Details))
	for i, d := range e.Details {
		parts[i] = d.Field + " " + d.Problem
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, "; "))
}

// Validate checks a rule for configuration errors. Disabled rules are
// validated the same way; callers decide whether to skip them.
func Validate(rule AlertRule) *ValidationError {
	var details []ErrorDetail
	if strings.TrimSpace(rule.ID) == "" {
		details = append(details, ErrorDetail{Field: "id", Problem: "missing"})
	}
	if strings.TrimSpace(rule.TenantID) == "" {
		details = append(details, ErrorDetail{Field: "tenantId", Problem: "missing"})
	}
	if !rule.RuleType.Known() {
		details = append(details, ErrorDetail{Field: "ruleType", Problem: "unknown", Hint: fmt.Sprintf("got %q", rule.RuleType)})
	}
	if rule.CooldownHours < 0 {
		details = append(details, ErrorDetail{Field: "cooldownHours", Problem: "negative", Hint: "Use 0 to disable the cooldown"})
	}
	if rule.Priority != 0 && !rule.Priority.Valid() {
		details = append(details, ErrorDetail{Field: "priority", Problem: "out of range", Hint: "1 (high) to 3 (low)"})
	}
	th := rule.Threshold
	if th.WindowDays < 0 {
		details = append(details, ErrorDetail{Field: "threshold.windowDays", Problem: "negative"})
	}
	if th.WindowDays == 1 {
		details = append(details, ErrorDetail{Field: "threshold.windowDays", Problem: "too small", Hint: "Need at least 2 points to compare"})
	}
	for field, v := range map[string]float64{
		"threshold.minThreshold": th.MinThreshold,
		"threshold.minCost":      th.MinCost,
		"threshold.minClicks":    th.MinClicks,
	} {
		if v < 0 {
			details = append(details, ErrorDetail{Field: field, Problem: "negative"})
		}
	}
	if len(details) > 0 {
		sort.SliceStable(details, func(i, j int) bool { return details[i].Field < details[j].Field })
		return &ValidationError{Code: "RULE_INVALID", Message: fmt.Sprintf("rule %q failed validation", rule.ID), Details: details}
	}
	return nil
}

package evaluator

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"hostalerts/internal/rules"
)

const maxFactors = 3

// signedPct renders a change as a signed whole percentage, e.g. "+41%".
func signedPct(change float64) string {
	rounded := math.Round(change)
	if rounded == 0 {
		return "0%"
	}
	return fmt.Sprintf("%+.0f%%", rounded)
}

// formatNumber prints at most two decimals and drops trailing zeros.
func formatNumber(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', -1, 64)
}

func formatMoney(v float64) string {
	return strconv.FormatFloat(round2(v), 'f', 2, 64)
}

type factor struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// topFactors returns the largest attributes, ties broken by name.
func topFactors(attrs map[string]float64) []factor {
	out := make([]factor, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, factor{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > maxFactors {
		out = out[:maxFactors]
	}
	return out
}

func describeFactors(factors []factor) string {
	if len(factors) == 0 {
		return ""
	}
	parts := make([]string, len(factors))
	for i, f := range factors {
		parts[i] = fmt.Sprintf("%s (%s)", strings.ReplaceAll(f.Name, "_", " "), formatNumber(f.Value))
	}
	return " Top factors: " + strings.Join(parts, ", ") + "."
}

func audienceSuffix(rule rules.AlertRule) string {
	if rule.AudienceTarget == "" {
		return ""
	}
	return fmt.Sprintf(" Audience: %s.", rule.AudienceTarget)
}

// baseData is the payload shared by every trigger.
func baseData(rule rules.AlertRule, entityID, entityName string, change, delta float64) map[string]any {
	data := map[string]any{
		"ruleName":   rule.Label(),
		"entityId":   entityID,
		"entityName": entityName,
		"changePct":  round2(change),
		"delta":      delta,
	}
	if rule.AudienceTarget != "" {
		data["audienceTarget"] = rule.AudienceTarget
	}
	if rule.Priority != 0 {
		data["defaultPriority"] = int(rule.Priority)
	}
	return data
}

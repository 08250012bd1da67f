package evaluator

import (
	"context"
	"fmt"

	metricsource "hostalerts"
	"hostalerts/internal/rules"
)

const defaultTrendWindow = 7

// TrendSpike compares the latest value of a metric with the mean of the
// older points in the window. It backs the local activity rule and the
// audience demand indices.
type TrendSpike struct {
	Reader    MetricReader
	Metric    string
	AlertType string
	Subject   string
	ValueNoun string
}

func (e *TrendSpike) Evaluate(ctx context.Context, rule rules.AlertRule) (*Trigger, error) {
	entities, err := e.Reader.Entities(ctx, rule.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	window := rule.Threshold.Window(defaultTrendWindow)
	delta := spikeDelta(rule.Threshold)
	for _, entity := range entities {
		points, err := e.Reader.FetchWindow(ctx, rule.TenantID, entity.ID, metricsource.Query{Metric: e.Metric, Days: window})
		if err != nil {
			return nil, fmt.Errorf("fetch %s for %s: %w", e.Metric, entity.ID, err)
		}
		if len(points) < 2 {
			continue
		}
		values := metricsource.Values(points)
		latest := values[0]
		reference := Mean(values[1:])
		change, ok := PercentChange(latest, reference)
		if !ok || change < delta {
			continue
		}
		if rule.Threshold.MinThreshold > 0 && latest < rule.Threshold.MinThreshold {
			continue
		}
		return e.trigger(rule, entity, points[0], latest, reference, change, delta, len(values)-1), nil
	}
	return nil, nil
}

func (e *TrendSpike) trigger(rule rules.AlertRule, entity metricsource.Entity, latestPoint metricsource.Point, latest, reference, change, delta float64, history int) *Trigger {
	factors := topFactors(latestPoint.Attributes)
	data := baseData(rule, entity.ID, entity.Name, change, delta)
	data["metric"] = e.Metric
	data["current"] = latest
	data["reference"] = round2(reference)
	data["historyPoints"] = history
	data["minThreshold"] = rule.Threshold.MinThreshold
	data["factors"] = factors
	return &Trigger{
		RuleID:    rule.ID,
		TenantID:  rule.TenantID,
		AlertType: e.AlertType,
		Title:     fmt.Sprintf("%s up %s near %s", e.Subject, signedPct(change), entity.Name),
		Message: fmt.Sprintf("The %s for %s is %s today, %s against the %d-day average of %s.%s%s",
			e.ValueNoun, entity.Name, formatNumber(latest), signedPct(change), history, formatNumber(reference),
			describeFactors(factors), audienceSuffix(rule)),
		Data:     data,
		Priority: Escalate(change, delta),
	}
}

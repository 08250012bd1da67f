package evaluator

import (
	"context"
	"fmt"

	metricsource "hostalerts"
	"hostalerts/internal/rules"
)

const (
	metricAdSpend       = "ad_spend"
	metricAdConversions = "ad_conversions"
)

// AcquisitionCost flags a rise in cost per acquisition against the previous
// period. minCost is a floor on the current period's spend.
type AcquisitionCost struct {
	Reader MetricReader
}

func (e *AcquisitionCost) Evaluate(ctx context.Context, rule rules.AlertRule) (*Trigger, error) {
	entities, err := e.Reader.Entities(ctx, rule.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	window := rule.Threshold.Window(defaultTrendWindow)
	delta := spikeDelta(rule.Threshold)
	for _, entity := range entities {
		spend, err := e.Reader.FetchWindow(ctx, rule.TenantID, entity.ID, metricsource.Query{Metric: metricAdSpend, Days: 2 * window})
		if err != nil {
			return nil, fmt.Errorf("fetch %s for %s: %w", metricAdSpend, entity.ID, err)
		}
		conversions, err := e.Reader.FetchWindow(ctx, rule.TenantID, entity.ID, metricsource.Query{Metric: metricAdConversions, Days: 2 * window})
		if err != nil {
			return nil, fmt.Errorf("fetch %s for %s: %w", metricAdConversions, entity.ID, err)
		}
		spendValues, convValues := alignByTS(spend, conversions)
		if len(spendValues) < 2 {
			continue
		}
		curSpend, prevSpend, ok := splitPeriods(spendValues, window)
		if !ok {
			continue
		}
		curConv, prevConv, _ := splitPeriods(convValues, window)

		currentSpend := Sum(curSpend)
		currentConversions, previousConversions := Sum(curConv), Sum(prevConv)
		if currentConversions == 0 || previousConversions == 0 {
			continue
		}
		currentCPA := currentSpend / currentConversions
		previousCPA := Sum(prevSpend) / previousConversions
		change, ok := PercentChange(currentCPA, previousCPA)
		if !ok || change < delta {
			continue
		}
		if rule.Threshold.MinCost > 0 && currentSpend < rule.Threshold.MinCost {
			continue
		}

		data := baseData(rule, entity.ID, entity.Name, change, delta)
		data["currentCpa"] = round2(currentCPA)
		data["previousCpa"] = round2(previousCPA)
		data["currentSpend"] = round2(currentSpend)
		data["currentConversions"] = currentConversions
		data["periodDays"] = len(curSpend)
		data["minCost"] = rule.Threshold.MinCost
		return &Trigger{
			RuleID:    rule.ID,
			TenantID:  rule.TenantID,
			AlertType: "acquisition_cost_spike",
			Title:     fmt.Sprintf("Cost per booking up %s for %s", signedPct(change), entity.Name),
			Message: fmt.Sprintf("Advertising for %s cost %s per conversion over the last %d days, %s against %s in the period before (spend %s, %s conversions).%s",
				entity.Name, formatMoney(currentCPA), len(curSpend), signedPct(change), formatMoney(previousCPA),
				formatMoney(currentSpend), formatNumber(currentConversions), audienceSuffix(rule)),
			Data:     data,
			Priority: Escalate(change, delta),
		}, nil
	}
	return nil, nil
}

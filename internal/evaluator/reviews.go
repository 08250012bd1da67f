package evaluator

import (
	"context"
	"fmt"

	metricsource "hostalerts"
	"hostalerts/internal/rules"
)

const (
	metricReviews       = "reviews"
	defaultReviewWindow = 30
)

// ReviewVelocity compares reviews received over the window with the average
// of the entity's named competitors. minClicks is the minimum number of
// reviews observed across all of them before a comparison is made.
type ReviewVelocity struct {
	Reader MetricReader
}

func (e *ReviewVelocity) Evaluate(ctx context.Context, rule rules.AlertRule) (*Trigger, error) {
	entities, err := e.Reader.Entities(ctx, rule.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	window := rule.Threshold.Window(defaultReviewWindow)
	delta := dropDelta(rule.Threshold)
	q := metricsource.Query{Metric: metricReviews, Days: window}
	for _, entity := range entities {
		own, err := e.Reader.FetchWindow(ctx, rule.TenantID, entity.ID, q)
		if err != nil {
			return nil, fmt.Errorf("fetch %s for %s: %w", metricReviews, entity.ID, err)
		}
		if len(own) < 2 {
			continue
		}
		competitors, err := e.Reader.Competitors(ctx, rule.TenantID, entity.ID)
		if err != nil {
			return nil, fmt.Errorf("list competitors for %s: %w", entity.ID, err)
		}
		ownCount := Sum(metricsource.Values(own))
		observed := ownCount
		counts := make([]float64, 0, len(competitors))
		for _, c := range competitors {
			points, err := e.Reader.FetchWindow(ctx, ownerTenant(c, rule.TenantID), c.ID, q)
			if err != nil {
				return nil, fmt.Errorf("fetch %s for competitor %s: %w", metricReviews, c.ID, err)
			}
			if len(points) < 2 {
				continue
			}
			count := Sum(metricsource.Values(points))
			counts = append(counts, count)
			observed += count
		}
		if len(counts) == 0 {
			continue
		}
		if rule.Threshold.MinClicks > 0 && observed < rule.Threshold.MinClicks {
			continue
		}
		competitorAvg := Mean(counts)
		change, ok := PercentChange(ownCount, competitorAvg)
		if !ok || change > delta {
			continue
		}

		data := baseData(rule, entity.ID, entity.Name, change, delta)
		data["ownReviews"] = ownCount
		data["competitorAverage"] = round2(competitorAvg)
		data["competitors"] = len(counts)
		data["windowDays"] = window
		return &Trigger{
			RuleID:    rule.ID,
			TenantID:  rule.TenantID,
			AlertType: "review_velocity_drop",
			Title:     fmt.Sprintf("Review pace %s behind competitors for %s", signedPct(change), entity.Name),
			Message: fmt.Sprintf("%s received %s reviews in the last %d days while %d nearby competitors averaged %s (%s).%s",
				entity.Name, formatNumber(ownCount), window, len(counts), formatNumber(competitorAvg), signedPct(change),
				audienceSuffix(rule)),
			Data:     data,
			Priority: Escalate(change, delta),
		}, nil
	}
	return nil, nil
}

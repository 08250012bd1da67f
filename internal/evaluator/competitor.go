package evaluator

import (
	"context"
	"fmt"

	metricsource "hostalerts"
	"hostalerts/internal/rules"
)

// CompetitorSurge flags competitors whose booking growth outpaces the
// entity's own. The change is the gap in percentage points between the
// competitor average growth and the entity's growth; competitorGrowth is a
// floor on the competitor average.
type CompetitorSurge struct {
	Reader MetricReader
}

func (e *CompetitorSurge) Evaluate(ctx context.Context, rule rules.AlertRule) (*Trigger, error) {
	entities, err := e.Reader.Entities(ctx, rule.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	window := rule.Threshold.Window(defaultTrendWindow)
	delta := spikeDelta(rule.Threshold)
	for _, entity := range entities {
		ownGrowth, ok, err := e.growth(ctx, rule.TenantID, entity.ID, window)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		competitors, err := e.Reader.Competitors(ctx, rule.TenantID, entity.ID)
		if err != nil {
			return nil, fmt.Errorf("list competitors for %s: %w", entity.ID, err)
		}
		growths := make([]float64, 0, len(competitors))
		for _, c := range competitors {
			g, ok, err := e.growth(ctx, ownerTenant(c, rule.TenantID), c.ID, window)
			if err != nil {
				return nil, err
			}
			if ok {
				growths = append(growths, g)
			}
		}
		if len(growths) == 0 {
			continue
		}
		competitorGrowth := Mean(growths)
		gap := competitorGrowth - ownGrowth
		if gap < delta {
			continue
		}
		if rule.Threshold.CompetitorGrowth > 0 && competitorGrowth < rule.Threshold.CompetitorGrowth {
			continue
		}

		data := baseData(rule, entity.ID, entity.Name, gap, delta)
		data["ownGrowthPct"] = round2(ownGrowth)
		data["competitorGrowthPct"] = round2(competitorGrowth)
		data["competitors"] = len(growths)
		data["periodDays"] = window
		return &Trigger{
			RuleID:    rule.ID,
			TenantID:  rule.TenantID,
			AlertType: "competitor_surge",
			Title:     fmt.Sprintf("Competitors growing %s faster than %s", signedPct(gap), entity.Name),
			Message: fmt.Sprintf("Bookings at %d competitors of %s grew %s over the last %d days against %s for %s.%s",
				len(growths), entity.Name, signedPct(competitorGrowth), window, signedPct(ownGrowth), entity.Name,
				audienceSuffix(rule)),
			Data:     data,
			Priority: Escalate(gap, delta),
		}, nil
	}
	return nil, nil
}

// growth is the period-over-period booking change of one entity.
func (e *CompetitorSurge) growth(ctx context.Context, tenantID, entityID string, window int) (float64, bool, error) {
	points, err := e.Reader.FetchWindow(ctx, tenantID, entityID, metricsource.Query{Metric: metricBookings, Days: 2 * window})
	if err != nil {
		return 0, false, fmt.Errorf("fetch %s for %s: %w", metricBookings, entityID, err)
	}
	if len(points) < 2 {
		return 0, false, nil
	}
	current, previous, ok := splitPeriods(metricsource.Values(points), window)
	if !ok {
		return 0, false, nil
	}
	g, ok := PercentChange(Sum(current), Sum(previous))
	return g, ok, nil
}

package evaluator

import (
	"context"
	"fmt"

	metricsource "hostalerts"
	"hostalerts/internal/rules"
)

const (
	metricListingClicks = "listing_clicks"
	metricBookings      = "bookings"
)

// ConversionDrop flags a fall in bookings per listing click against the
// previous period. Both periods need at least minClicks clicks.
type ConversionDrop struct {
	Reader MetricReader
}

func (e *ConversionDrop) Evaluate(ctx context.Context, rule rules.AlertRule) (*Trigger, error) {
	entities, err := e.Reader.Entities(ctx, rule.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	window := rule.Threshold.Window(defaultTrendWindow)
	delta := dropDelta(rule.Threshold)
	for _, entity := range entities {
		clicks, err := e.Reader.FetchWindow(ctx, rule.TenantID, entity.ID, metricsource.Query{Metric: metricListingClicks, Days: 2 * window})
		if err != nil {
			return nil, fmt.Errorf("fetch %s for %s: %w", metricListingClicks, entity.ID, err)
		}
		bookings, err := e.Reader.FetchWindow(ctx, rule.TenantID, entity.ID, metricsource.Query{Metric: metricBookings, Days: 2 * window})
		if err != nil {
			return nil, fmt.Errorf("fetch %s for %s: %w", metricBookings, entity.ID, err)
		}
		clickValues, bookingValues := alignByTS(clicks, bookings)
		if len(clickValues) < 2 {
			continue
		}
		curClicks, prevClicks, ok := splitPeriods(clickValues, window)
		if !ok {
			continue
		}
		curBookings, prevBookings, _ := splitPeriods(bookingValues, window)

		currentClicks, previousClicks := Sum(curClicks), Sum(prevClicks)
		if currentClicks == 0 || previousClicks == 0 {
			continue
		}
		if floor := rule.Threshold.MinClicks; floor > 0 && (currentClicks < floor || previousClicks < floor) {
			continue
		}
		currentRate := Sum(curBookings) / currentClicks * 100
		previousRate := Sum(prevBookings) / previousClicks * 100
		change, ok := PercentChange(currentRate, previousRate)
		if !ok || change > delta {
			continue
		}

		data := baseData(rule, entity.ID, entity.Name, change, delta)
		data["currentRate"] = round2(currentRate)
		data["previousRate"] = round2(previousRate)
		data["currentClicks"] = currentClicks
		data["previousClicks"] = previousClicks
		data["periodDays"] = len(curClicks)
		data["minClicks"] = rule.Threshold.MinClicks
		return &Trigger{
			RuleID:    rule.ID,
			TenantID:  rule.TenantID,
			AlertType: "conversion_rate_drop",
			Title:     fmt.Sprintf("Booking conversion %s for %s", signedPct(change), entity.Name),
			Message: fmt.Sprintf("%s converted %s%% of %s listing clicks over the last %d days, down from %s%% in the period before (%s).%s",
				entity.Name, formatNumber(currentRate), formatNumber(currentClicks), len(curClicks),
				formatNumber(previousRate), signedPct(change), audienceSuffix(rule)),
			Data:     data,
			Priority: Escalate(change, delta),
		}, nil
	}
	return nil, nil
}

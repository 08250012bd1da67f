package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metricsource "hostalerts"
	"hostalerts/internal/rules"
)

func TestAcquisitionCostSpike(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.setNewest("prop-1", "ad_spend", 100, 100, 50, 50)
	reader.setNewest("prop-1", "ad_conversions", 2, 2, 2, 2)
	rule := rules.AlertRule{
		ID: "rule-cpa", TenantID: "host-1", RuleType: rules.AcquisitionCostSpike,
		Threshold: rules.Threshold{Delta: 20, WindowDays: 2, MinCost: 150}, Enabled: true,
	}
	reg := NewDefaultRegistry(reader)

	trigger, err := reg.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, rules.PriorityHigh, trigger.Priority)
	assert.Equal(t, 50.0, trigger.Data["currentCpa"])
	assert.Equal(t, 25.0, trigger.Data["previousCpa"])
	assert.Contains(t, trigger.Title, "+100%")
	assert.Contains(t, trigger.Message, "50.00 per conversion")

	// Spend of 200 is below the floor.
	rule.Threshold.MinCost = 300
	trigger, err = reg.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestAcquisitionCostNoConversions(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.setNewest("prop-1", "ad_spend", 100, 100, 50, 50)
	reader.setNewest("prop-1", "ad_conversions", 0, 0, 2, 2)
	rule := rules.AlertRule{ID: "rule-cpa", TenantID: "host-1", RuleType: rules.AcquisitionCostSpike, Threshold: rules.Threshold{Delta: 20, WindowDays: 2}}

	trigger, err := NewDefaultRegistry(reader).Evaluate(context.Background(), rule)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestAcquisitionCostPairsSpendAndConversionsByDay(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.setNewest("prop-1", "ad_spend", 100, 900, 50, 50)
	reader.setNewest("prop-1", "ad_conversions", 2, 9, 2, 2)
	reader.dropDay("prop-1", "ad_conversions", 1)
	rule := rules.AlertRule{ID: "rule-cpa", TenantID: "host-1", RuleType: rules.AcquisitionCostSpike, Threshold: rules.Threshold{Delta: 20, WindowDays: 2}}

	trigger, err := NewDefaultRegistry(reader).Evaluate(context.Background(), rule)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	// Day 1 has no conversions row, so its spend is left out too.
	assert.Equal(t, 50.0, trigger.Data["currentCpa"])
	assert.Equal(t, 25.0, trigger.Data["previousCpa"])
	assert.Equal(t, 100.0, trigger.Data["currentSpend"])
}

func TestConversionRateDrop(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.setNewest("prop-1", "listing_clicks", 100, 100, 100, 100)
	reader.setNewest("prop-1", "bookings", 2, 2, 5, 5)
	rule := rules.AlertRule{
		ID: "rule-conv", TenantID: "host-1", RuleType: rules.ConversionRateDrop,
		Threshold: rules.Threshold{Delta: 20, WindowDays: 2, MinClicks: 150}, Enabled: true,
	}
	reg := NewDefaultRegistry(reader)

	trigger, err := reg.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, rules.PriorityHigh, trigger.Priority)
	assert.Equal(t, -60.0, trigger.Data["changePct"])
	assert.Equal(t, -20.0, trigger.Data["delta"])
	assert.Contains(t, trigger.Title, "-60%")

	// A negative delta behaves the same as a positive one.
	rule.Threshold.Delta = -20
	again, err := reg.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	assert.Equal(t, trigger, again)
}

func TestConversionRateDropAbstainsBelowMinClicks(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.setNewest("prop-1", "listing_clicks", 100, 100, 100, 100)
	reader.setNewest("prop-1", "bookings", 0, 0, 5, 5)
	rule := rules.AlertRule{
		ID: "rule-conv", TenantID: "host-1", RuleType: rules.ConversionRateDrop,
		Threshold: rules.Threshold{Delta: 20, WindowDays: 2, MinClicks: 250},
	}
	trigger, err := NewDefaultRegistry(reader).Evaluate(context.Background(), rule)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestConversionRatePairsClicksAndBookingsByDay(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.setNewest("prop-1", "listing_clicks", 100, 400, 100, 100)
	reader.setNewest("prop-1", "bookings", 2, 0, 5, 5)
	reader.dropDay("prop-1", "bookings", 1)
	rule := rules.AlertRule{ID: "rule-conv", TenantID: "host-1", RuleType: rules.ConversionRateDrop, Threshold: rules.Threshold{Delta: 20, WindowDays: 2}}

	trigger, err := NewDefaultRegistry(reader).Evaluate(context.Background(), rule)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, 2.0, trigger.Data["currentRate"])
	assert.Equal(t, 5.0, trigger.Data["previousRate"])
	assert.Equal(t, 100.0, trigger.Data["currentClicks"])
}

func TestConversionRateRiseDoesNotTrigger(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.setNewest("prop-1", "listing_clicks", 100, 100, 100, 100)
	reader.setNewest("prop-1", "bookings", 9, 9, 5, 5)
	rule := rules.AlertRule{ID: "rule-conv", TenantID: "host-1", RuleType: rules.ConversionRateDrop, Threshold: rules.Threshold{Delta: 20, WindowDays: 2}}
	trigger, err := NewDefaultRegistry(reader).Evaluate(context.Background(), rule)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestReviewVelocityDrop(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.addCompetitor("prop-1", "host-2", "comp-1", "Seaside Inn")
	reader.addCompetitor("prop-1", "host-3", "comp-2", "Pier House")
	reader.setNewest("prop-1", "reviews", 1, 1, 1)
	reader.setNewest("comp-1", "reviews", 5, 5)
	reader.setNewest("comp-2", "reviews", 4, 6)
	rule := rules.AlertRule{
		ID: "rule-reviews", TenantID: "host-1", RuleType: rules.ReviewVelocityDrop,
		Threshold: rules.Threshold{Delta: 30, MinClicks: 20}, Enabled: true,
	}
	reg := NewDefaultRegistry(reader)

	trigger, err := reg.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, rules.PriorityHigh, trigger.Priority)
	assert.Equal(t, 10.0, trigger.Data["competitorAverage"])
	assert.Equal(t, 2, trigger.Data["competitors"])
	assert.Contains(t, trigger.Title, "-70%")
	assert.Contains(t, trigger.Message, "received 3 reviews in the last 30 days")

	// 23 reviews observed in total is below the sample floor.
	rule.Threshold.MinClicks = 50
	trigger, err = reg.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestReviewVelocityWithoutCompetitors(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.setNewest("prop-1", "reviews", 0, 0, 0)
	rule := rules.AlertRule{ID: "rule-reviews", TenantID: "host-1", RuleType: rules.ReviewVelocityDrop, Threshold: rules.Threshold{Delta: 30}}
	trigger, err := NewDefaultRegistry(reader).Evaluate(context.Background(), rule)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestCompetitorSurge(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.addCompetitor("prop-1", "host-2", "comp-1", "Seaside Inn")
	reader.setNewest("prop-1", "bookings", 10, 10, 10, 10)
	reader.setNewest("comp-1", "bookings", 15, 15, 10, 10)
	rule := rules.AlertRule{
		ID: "rule-surge", TenantID: "host-1", RuleType: rules.CompetitorSurge,
		Threshold: rules.Threshold{Delta: 20, WindowDays: 2, CompetitorGrowth: 30}, Enabled: true,
	}
	reg := NewDefaultRegistry(reader)

	trigger, err := reg.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, rules.PriorityHigh, trigger.Priority)
	assert.Equal(t, 50.0, trigger.Data["competitorGrowthPct"])
	assert.Equal(t, 0.0, trigger.Data["ownGrowthPct"])
	assert.Contains(t, trigger.Title, "+50%")

	rule.Threshold.CompetitorGrowth = 60
	trigger, err = reg.Evaluate(context.Background(), rule)
	require.NoError(t, err)
	assert.Nil(t, trigger)
}

func TestCompetitorOwnedByAnotherTenant(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("tenant-a", "a1", "Harbour Loft")
	reader.addCompetitor("a1", "tenant-b", "b1", "Seaside Inn")
	reader.setNewest("a1", "reviews", 1, 1)
	reader.setNewest("b1", "reviews", 6, 6)

	rule := rules.AlertRule{ID: "rule-reviews", TenantID: "tenant-a", RuleType: rules.ReviewVelocityDrop, Threshold: rules.Threshold{Delta: 30}}
	trigger, err := NewDefaultRegistry(reader).Evaluate(context.Background(), rule)
	require.NoError(t, err)
	require.NotNil(t, trigger)
	assert.Equal(t, 12.0, trigger.Data["competitorAverage"])
	assert.Equal(t, "tenant-a", trigger.TenantID)

	// Nothing of b1 is stored under tenant-a.
	points, err := reader.FetchWindow(context.Background(), "tenant-a", "b1", metricsource.Query{Metric: "reviews", Days: 30})
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestCompetitorWithoutTenantUsesTrackingTenant(t *testing.T) {
	reader := newFakeReader()
	reader.addEntity("host-1", "prop-1", "Harbour Loft")
	reader.competitors["prop-1"] = append(reader.competitors["prop-1"], metricsource.Entity{ID: "comp-1", Name: "Seaside Inn"})
	reader.owners["comp-1"] = "host-1"
	reader.setNewest("prop-1", "bookings", 10, 10, 10, 10)
	reader.setNewest("comp-1", "bookings", 15, 15, 10, 10)

	rule := rules.AlertRule{ID: "rule-surge", TenantID: "host-1", RuleType: rules.CompetitorSurge, Threshold: rules.Threshold{Delta: 20, WindowDays: 2}}
	trigger, err := NewDefaultRegistry(reader).Evaluate(context.Background(), rule)
	require.NoError(t, err)
	require.NotNil(t, trigger)
}

package evaluator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostalerts/internal/rules"
)

func TestDefaultRegistryCoversKnownTypes(t *testing.T) {
	reg := NewDefaultRegistry(newFakeReader())
	for _, rt := range rules.KnownTypes {
		e, err := reg.For(rt)
		require.NoError(t, err, string(rt))
		assert.NotNil(t, e)
	}
}

func TestRegistryUnknownType(t *testing.T) {
	_, err := NewRegistry().For("weather_spike")
	assert.True(t, errors.Is(err, ErrUnknownRuleType))

	var nilRegistry *Registry
	_, err = nilRegistry.For(rules.LocalActivitySpike)
	assert.Error(t, err)
}

func TestRegistryRegisterOverrides(t *testing.T) {
	reg := NewDefaultRegistry(newFakeReader())
	want := &Trigger{RuleID: "custom"}
	reg.Register(rules.LocalActivitySpike, EvaluatorFunc(func(ctx context.Context, rule rules.AlertRule) (*Trigger, error) {
		return want, nil
	}))
	got, err := reg.Evaluate(context.Background(), rules.AlertRule{RuleType: rules.LocalActivitySpike})
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestPercentChange(t *testing.T) {
	change, ok := PercentChange(60, 42.5)
	require.True(t, ok)
	assert.InDelta(t, 41.18, change, 0.01)

	_, ok = PercentChange(10, 0)
	assert.False(t, ok)
}

func TestEscalate(t *testing.T) {
	assert.Equal(t, rules.PriorityMedium, Escalate(30, 15))
	assert.Equal(t, rules.PriorityHigh, Escalate(30.1, 15))
	assert.Equal(t, rules.PriorityHigh, Escalate(-61, -30))
	assert.Equal(t, rules.PriorityMedium, Escalate(-45, 30))
}

func TestSplitPeriods(t *testing.T) {
	cur, prev, ok := splitPeriods([]float64{1, 2, 3, 4, 5}, 7)
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2}, cur)
	assert.Equal(t, []float64{3, 4}, prev)

	_, _, ok = splitPeriods([]float64{1}, 7)
	assert.False(t, ok)
}

func TestTemplates(t *testing.T) {
	assert.Equal(t, "+41%", signedPct(41.18))
	assert.Equal(t, "-60%", signedPct(-60))
	assert.Equal(t, "0%", signedPct(0.2))
	assert.Equal(t, "60", formatNumber(60))
	assert.Equal(t, "42.5", formatNumber(42.5))
	assert.Equal(t, "3.33", formatNumber(10.0/3))
	assert.Equal(t, "25.00", formatMoney(25))

	factors := topFactors(map[string]float64{"b": 2, "a": 2, "c": 5, "d": 1})
	require.Len(t, factors, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{factors[0].Name, factors[1].Name, factors[2].Name})
	assert.Equal(t, "", describeFactors(nil))
}

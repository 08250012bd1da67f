package evaluator

import (
	"math"

	metricsource "hostalerts"
	"hostalerts/internal/rules"
)

const (
	defaultSpikeDelta = 20.0
	defaultDropDelta  = -20.0
	escalationFactor  = 2.0
)

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

func Sum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

// PercentChange reports (latest-reference)/reference*100. ok is false when
// the reference is zero.
func PercentChange(latest, reference float64) (float64, bool) {
	if reference == 0 {
		return 0, false
	}
	return (latest - reference) / reference * 100, true
}

// Escalate returns high priority when the change is more than double the
// configured delta, medium otherwise.
func Escalate(change, delta float64) rules.Priority {
	if math.Abs(change) > escalationFactor*math.Abs(delta) {
		return rules.PriorityHigh
	}
	return rules.PriorityMedium
}

func spikeDelta(th rules.Threshold) float64 {
	if th.Delta == 0 {
		return defaultSpikeDelta
	}
	return math.Abs(th.Delta)
}

// dropDelta always returns a negative floor.
func dropDelta(th rules.Threshold) float64 {
	if th.Delta == 0 {
		return defaultDropDelta
	}
	return -math.Abs(th.Delta)
}

// splitPeriods divides a newest-first series into the current period and the
// one before it, each at most window long and of equal length.
func splitPeriods(values []float64, window int) (current, previous []float64, ok bool) {
	n := len(values) / 2
	if n > window {
		n = window
	}
	if n < 1 {
		return nil, nil, false
	}
	return values[:n], values[n : 2*n], true
}

// alignByTS pairs two series on timestamp and returns the values of the
// points present in both, in a's order.
func alignByTS(a, b []metricsource.Point) (x, y []float64) {
	byTS := make(map[int64]float64, len(b))
	for _, p := range b {
		byTS[p.TS.UnixNano()] = p.Value
	}
	for _, p := range a {
		if v, ok := byTS[p.TS.UnixNano()]; ok {
			x = append(x, p.Value)
			y = append(y, v)
		}
	}
	return x, y
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

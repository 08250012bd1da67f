package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	metricsource "hostalerts"
	"hostalerts/internal/rules"
)

var ErrUnknownRuleType = errors.New("unknown rule type")

// Evaluator decides whether a rule's current metrics merit an alert.
// A nil trigger with a nil error means there is nothing to report.
type Evaluator interface {
	Evaluate(ctx context.Context, rule rules.AlertRule) (*Trigger, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, rule rules.AlertRule) (*Trigger, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, rule rules.AlertRule) (*Trigger, error) {
	return f(ctx, rule)
}

// MetricReader is the read side of the metric source used by evaluators.
type MetricReader interface {
	Entities(ctx context.Context, tenantID string) ([]metricsource.Entity, error)
	Competitors(ctx context.Context, tenantID, entityID string) ([]metricsource.Entity, error)
	FetchWindow(ctx context.Context, tenantID, entityID string, q metricsource.Query) ([]metricsource.Point, error)
}

type Trigger struct {
	RuleID    string         `json:"ruleId"`
	TenantID  string         `json:"tenantId"`
	AlertType string         `json:"alertType"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data"`
	Priority  rules.Priority `json:"priority"`
}

type Registry struct {
	mu         sync.RWMutex
	evaluators map[rules.RuleType]Evaluator
}

func NewRegistry() *Registry {
	return &Registry{evaluators: map[rules.RuleType]Evaluator{}}
}

// NewDefaultRegistry registers an evaluator for every known rule type.
func NewDefaultRegistry(reader MetricReader) *Registry {
	r := NewRegistry()
	r.Register(rules.LocalActivitySpike, &TrendSpike{
		Reader:    reader,
		Metric:    "local_activity",
		AlertType: "local_activity_spike",
		Subject:   "Local activity",
		ValueNoun: "activity score",
	})
	r.Register(rules.FamilyIndexSpike, &TrendSpike{
		Reader:    reader,
		Metric:    "family_index",
		AlertType: "family_demand_spike",
		Subject:   "Family demand",
		ValueNoun: "family demand index",
	})
	r.Register(rules.BusinessIndexSpike, &TrendSpike{
		Reader:    reader,
		Metric:    "business_index",
		AlertType: "business_demand_spike",
		Subject:   "Business travel demand",
		ValueNoun: "business travel index",
	})
	r.Register(rules.RemoteWorkIndexSpike, &TrendSpike{
		Reader:    reader,
		Metric:    "remote_work_index",
		AlertType: "remote_work_demand_spike",
		Subject:   "Remote work demand",
		ValueNoun: "remote work index",
	})
	r.Register(rules.AcquisitionCostSpike, &AcquisitionCost{Reader: reader})
	r.Register(rules.ConversionRateDrop, &ConversionDrop{Reader: reader})
	r.Register(rules.ReviewVelocityDrop, &ReviewVelocity{Reader: reader})
	r.Register(rules.CompetitorSurge, &CompetitorSurge{Reader: reader})
	return r
}

// Register adds or replaces the evaluator for a rule type.
func (r *Registry) Register(ruleType rules.RuleType, e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[ruleType] = e
}

func (r *Registry) For(ruleType rules.RuleType) (Evaluator, error) {
	if r == nil {
		return nil, fmt.Errorf("evaluator registry not configured")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.evaluators[ruleType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRuleType, ruleType)
	}
	return e, nil
}

// Evaluate looks up the rule's evaluator and runs it.
func (r *Registry) Evaluate(ctx context.Context, rule rules.AlertRule) (*Trigger, error) {
	e, err := r.For(rule.RuleType)
	if err != nil {
		return nil, err
	}
	return e.Evaluate(ctx, rule)
}

// ownerTenant is the tenant that holds a competitor's points. Competitors
// are usually other hosts' properties; an empty tenant means the tracking
// tenant stores them itself.
func ownerTenant(c metricsource.Entity, tracking string) string {
	if c.TenantID != "" {
		return c.TenantID
	}
	return tracking
}

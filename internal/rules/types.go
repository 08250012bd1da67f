package rules

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no rule has the requested id.
var ErrNotFound = errors.New("rule not found")

type RuleType string

const (
	LocalActivitySpike   RuleType = "local_activity_spike"
	AcquisitionCostSpike RuleType = "acquisition_cost_spike"
	ConversionRateDrop   RuleType = "conversion_rate_drop"
	ReviewVelocityDrop   RuleType = "review_velocity_drop"
	CompetitorSurge      RuleType = "competitor_surge"
	FamilyIndexSpike     RuleType = "family_index_spike"
	BusinessIndexSpike   RuleType = "business_index_spike"
	RemoteWorkIndexSpike RuleType = "remote_work_index_spike"
)

// KnownTypes lists every rule type in registration order.
var KnownTypes = []RuleType{
	LocalActivitySpike,
	AcquisitionCostSpike,
	ConversionRateDrop,
	ReviewVelocityDrop,
	CompetitorSurge,
	FamilyIndexSpike,
	BusinessIndexSpike,
	RemoteWorkIndexSpike,
}

func (t RuleType) Known() bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Priority is a severity tier. Lower is more urgent.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Threshold holds the numeric parameters of a rule. Zero leaves a floor unset.
type Threshold struct {
	Delta            float64 `json:"delta,omitempty" yaml:"delta"`
	MinThreshold     float64 `json:"minThreshold,omitempty" yaml:"minThreshold"`
	WindowDays       int     `json:"windowDays,omitempty" yaml:"windowDays"`
	MinCost          float64 `json:"minCost,omitempty" yaml:"minCost"`
	MinClicks        float64 `json:"minClicks,omitempty" yaml:"minClicks"`
	CompetitorGrowth float64 `json:"competitorGrowth,omitempty" yaml:"competitorGrowth"`
}

// Window returns WindowDays or def when unset.
func (t Threshold) Window(def int) int {
	if t.WindowDays > 0 {
		return t.WindowDays
	}
	return def
}

type AlertRule struct {
	ID             string    `json:"id" yaml:"id"`
	TenantID       string    `json:"tenantId" yaml:"tenantId"`
	Name           string    `json:"name,omitempty" yaml:"name"`
	RuleType       RuleType  `json:"ruleType" yaml:"ruleType"`
	Threshold      Threshold `json:"threshold" yaml:"threshold"`
	CooldownHours  float64   `json:"cooldownHours" yaml:"cooldownHours"`
	Enabled        bool      `json:"enabled" yaml:"enabled"`
	Priority       Priority  `json:"priority,omitempty" yaml:"priority"`
	AudienceTarget string    `json:"audienceTarget,omitempty" yaml:"audienceTarget"`
}

// Label is the rule's display name, falling back to its type.
func (r AlertRule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return string(r.RuleType)
}

// Package events provides the in-process event bus for cycle and strategy
// lifecycle notifications.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	StrategyEvaluated    EventType = "STRATEGY_EVALUATED"
	StrategyFailed       EventType = "STRATEGY_FAILED"
	StrategiesExcluded   EventType = "STRATEGIES_EXCLUDED"
	AllocationAggregated EventType = "ALLOCATION_AGGREGATED"
	PlanGenerated        EventType = "PLAN_GENERATED"
	CycleCompleted       EventType = "CYCLE_COMPLETED"
	CycleFailed          EventType = "CYCLE_FAILED"
	BarsImported         EventType = "BARS_IMPORTED"
	ErrorOccurred        EventType = "ERROR_OCCURRED"
)

// Event is a published event. Data holds the typed payload.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

package events

import "time"

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// StrategyEvaluatedData is emitted for every strategy that resolved.
type StrategyEvaluatedData struct {
	CycleID    string            `json:"cycle_id"`
	StrategyID string            `json:"strategy_id"`
	Weights    map[string]string `json:"weights"`
	DurationMs int64             `json:"duration_ms"`
}

// EventType returns the event type for StrategyEvaluatedData
func (d *StrategyEvaluatedData) EventType() EventType {
	return StrategyEvaluated
}

// StrategyFailedData is emitted for every strategy that failed to parse or evaluate.
type StrategyFailedData struct {
	CycleID    string `json:"cycle_id"`
	StrategyID string `json:"strategy_id"`
	Kind       string `json:"kind"`
	Error      string `json:"error"`
	Symbol     string `json:"symbol,omitempty"`
	Indicator  string `json:"indicator,omitempty"`
	Window     int    `json:"window,omitempty"`
}

// EventType returns the event type for StrategyFailedData
func (d *StrategyFailedData) EventType() EventType {
	return StrategyFailed
}

// StrategiesExcludedData records the failure policy's decision to carry on
// without some strategies.
type StrategiesExcludedData struct {
	CycleID      string   `json:"cycle_id"`
	Policy       string   `json:"policy"`
	StrategyIDs  []string `json:"strategy_ids"`
	Renormalised bool     `json:"renormalised"`
}

// EventType returns the event type for StrategiesExcludedData
func (d *StrategiesExcludedData) EventType() EventType {
	return StrategiesExcluded
}

// AllocationAggregatedData carries the consolidated target allocation.
type AllocationAggregatedData struct {
	CycleID     string            `json:"cycle_id"`
	Strategies  int               `json:"strategies"`
	Weights     map[string]string `json:"weights"`
	CashReserve string            `json:"cash_reserve"`
}

// EventType returns the event type for AllocationAggregatedData
func (d *AllocationAggregatedData) EventType() EventType {
	return AllocationAggregated
}

// PlanGeneratedData summarises a rebalance plan.
type PlanGeneratedData struct {
	CycleID  string `json:"cycle_id"`
	Sells    int    `json:"sells"`
	Buys     int    `json:"buys"`
	NetValue string `json:"net_value"`
	Turnover string `json:"turnover"`
}

// EventType returns the event type for PlanGeneratedData
func (d *PlanGeneratedData) EventType() EventType {
	return PlanGenerated
}

// CycleCompletedData is emitted when a cycle produced a plan.
type CycleCompletedData struct {
	CycleID    string    `json:"cycle_id"`
	AsOf       time.Time `json:"as_of"`
	Evaluated  int       `json:"evaluated"`
	Excluded   int       `json:"excluded"`
	Trades     int       `json:"trades"`
	DurationMs int64     `json:"duration_ms"`
}

// EventType returns the event type for CycleCompletedData
func (d *CycleCompletedData) EventType() EventType {
	return CycleCompleted
}

// CycleFailedData is emitted when a cycle stopped without a plan.
type CycleFailedData struct {
	CycleID string    `json:"cycle_id"`
	AsOf    time.Time `json:"as_of"`
	Kind    string    `json:"kind"`
	Error   string    `json:"error"`
}

// EventType returns the event type for CycleFailedData
func (d *CycleFailedData) EventType() EventType {
	return CycleFailed
}

// BarsImportedData is emitted after a price history import.
type BarsImportedData struct {
	Symbol   string `json:"symbol"`
	Bars     int    `json:"bars"`
	Warnings int    `json:"warnings"`
}

// EventType returns the event type for BarsImportedData
func (d *BarsImportedData) EventType() EventType {
	return BarsImported
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

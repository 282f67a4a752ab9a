package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/cycle"
	"github.com/aristath/symphony/internal/modules/dsl"
	"github.com/aristath/symphony/internal/modules/evaluation"
	"github.com/aristath/symphony/internal/modules/strategies"
)

// StrategyHandlers serves the roster and one-off evaluation.
type StrategyHandlers struct {
	source strategies.Source
	runner *cycle.Runner
	log    zerolog.Logger
}

// NewStrategyHandlers creates strategy handlers.
func NewStrategyHandlers(source strategies.Source, runner *cycle.Runner, log zerolog.Logger) *StrategyHandlers {
	return &StrategyHandlers{
		source: source,
		runner: runner,
		log:    log.With().Str("service", "strategy_handlers").Logger(),
	}
}

// StrategyResponse is one roster entry as served by the API.
type StrategyResponse struct {
	ID      string                  `json:"id"`
	Name    string                  `json:"name"`
	Weight  decimal.Decimal         `json:"weight"`
	Ready   bool                    `json:"ready"`
	Symbols []string                `json:"symbols,omitempty"`
	Failure *evaluation.FailureInfo `json:"failure,omitempty"`
}

// HandleList returns the roster with each strategy's parse status.
func (h *StrategyHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	roster, err := h.source.Roster(r.Context())
	if err != nil {
		writeFailure(w, err, h.log)
		return
	}

	out := make([]StrategyResponse, 0, len(roster.All()))
	for _, s := range roster.All() {
		resp := StrategyResponse{
			ID:      s.ID,
			Name:    s.DisplayName(),
			Weight:  s.Weight,
			Ready:   s.Ready(),
			Failure: evaluation.Describe(s.ParseErr),
		}
		if s.Ready() {
			resp.Symbols = dsl.Symbols(s.Symphony.Root)
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out, h.log)
}

// EvaluationResponse is the result of evaluating one strategy.
type EvaluationResponse struct {
	StrategyID string                `json:"strategy_id"`
	AsOf       string                `json:"as_of"`
	Allocation allocation.Allocation `json:"allocation"`
	DurationMS int64                 `json:"duration_ms"`
}

// HandleEvaluate evaluates one strategy outside of a cycle.
// POST /api/strategies/{id}/evaluate
func (h *StrategyHandlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req asOfRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err), h.log)
		return
	}
	asOf, err := req.resolve()
	if err != nil {
		writeError(w, http.StatusBadRequest, err, h.log)
		return
	}

	id := chi.URLParam(r, "id")
	result, err := h.runner.EvaluateStrategy(r.Context(), id, asOf)
	if err != nil {
		if errors.Is(err, cycle.ErrStrategyNotFound) {
			writeError(w, http.StatusNotFound, err, h.log)
			return
		}
		writeFailure(w, err, h.log)
		return
	}
	if result.Err != nil {
		writeFailure(w, result.Err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, EvaluationResponse{
		StrategyID: id,
		AsOf:       asOf.Format(time.RFC3339),
		Allocation: result.Allocation,
		DurationMS: result.Duration.Milliseconds(),
	}, h.log)
}

type parseRequest struct {
	Source string `json:"source"`
}

// ParseResponse describes a parsed symphony.
type ParseResponse struct {
	Name             string       `json:"name,omitempty"`
	Options          []dsl.Option `json:"options,omitempty"`
	Canonical        string       `json:"canonical"`
	Symbols          []string     `json:"symbols"`
	IndicatorSymbols []string     `json:"indicator_symbols"`
}

// HandleParse validates symphony source and returns its canonical form.
// Parse errors answer 400 with the position and construct.
func (h *StrategyHandlers) HandleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err), h.log)
		return
	}

	s, err := dsl.ParseSymphony(req.Source)
	if err != nil {
		var parseErr *dsl.ParseError
		if errors.As(err, &parseErr) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error": err.Error(),
				"parse": parseErr,
			}, h.log)
			return
		}
		writeFailure(w, err, h.log)
		return
	}

	writeJSON(w, http.StatusOK, ParseResponse{
		Name:             s.Name,
		Options:          s.Options,
		Canonical:        dsl.PrintSymphony(s),
		Symbols:          nonNil(dsl.Symbols(s.Root)),
		IndicatorSymbols: nonNil(dsl.IndicatorSymbols(s.Root)),
	}, h.log)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/symphony/internal/domain"
	"github.com/aristath/symphony/internal/modules/allocation"
	"github.com/aristath/symphony/internal/modules/artifacts"
	"github.com/aristath/symphony/internal/modules/cycle"
	"github.com/aristath/symphony/internal/modules/rebalancing"
)

const defaultCycleLimit = 20

// CycleHandlers runs cycles, serves their records and plans ad hoc
// rebalances.
type CycleHandlers struct {
	runner   *cycle.Runner
	cycles   artifacts.Repository
	planner  *rebalancing.Planner
	holdings domain.HoldingsProvider
	log      zerolog.Logger
}

// NewCycleHandlers creates cycle handlers.
func NewCycleHandlers(
	runner *cycle.Runner,
	cycles artifacts.Repository,
	planner *rebalancing.Planner,
	holdings domain.HoldingsProvider,
	log zerolog.Logger,
) *CycleHandlers {
	return &CycleHandlers{
		runner:   runner,
		cycles:   cycles,
		planner:  planner,
		holdings: holdings,
		log:      log.With().Str("service", "cycle_handlers").Logger(),
	}
}

// HandleRun runs a cycle now and returns its record. A failed cycle is
// still recorded and returned, with an error status.
// POST /api/cycles
func (h *CycleHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
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

	res, err := h.runner.Run(r.Context(), asOf)
	if errors.Is(err, cycle.ErrCycleInProgress) {
		writeError(w, http.StatusConflict, err, h.log)
		return
	}
	if res == nil {
		writeFailure(w, err, h.log)
		return
	}

	record := cycle.Record(res)
	status := http.StatusCreated
	if !res.Succeeded() {
		status = failureStatus(record.FailureKind)
	}
	writeJSON(w, status, record, h.log)
}

// HandleList returns recent cycles, newest first.
// GET /api/cycles?limit=N
func (h *CycleHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultCycleLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"), h.log)
			return
		}
		limit = n
	}

	records, err := h.cycles.ListCycles(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list cycles")
		writeError(w, http.StatusInternalServerError, err, h.log)
		return
	}
	if records == nil {
		records = []*artifacts.CycleRecord{}
	}
	writeJSON(w, http.StatusOK, records, h.log)
}

// HandleLatest returns the most recently started cycle.
func (h *CycleHandlers) HandleLatest(w http.ResponseWriter, r *http.Request) {
	record, err := h.cycles.LatestCycle(r.Context())
	h.writeRecord(w, record, err)
}

// HandleGet returns one cycle by id.
func (h *CycleHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	record, err := h.cycles.GetCycle(r.Context(), chi.URLParam(r, "id"))
	h.writeRecord(w, record, err)
}

func (h *CycleHandlers) writeRecord(w http.ResponseWriter, record *artifacts.CycleRecord, err error) {
	switch {
	case errors.Is(err, artifacts.ErrNotFound):
		writeError(w, http.StatusNotFound, err, h.log)
	case err != nil:
		h.log.Error().Err(err).Msg("Failed to load cycle")
		writeError(w, http.StatusInternalServerError, err, h.log)
	default:
		writeJSON(w, http.StatusOK, record, h.log)
	}
}

// PlanRequest asks for a plan from target to current weights. When Current
// is omitted the configured holdings snapshot is used, including its total
// value unless TotalValue is given.
type PlanRequest struct {
	Target     allocation.Allocation      `json:"target"`
	Current    map[string]decimal.Decimal `json:"current,omitempty"`
	TotalValue *decimal.Decimal           `json:"total_value,omitempty"`
	Threshold  *decimal.Decimal           `json:"threshold,omitempty"`
}

// HandlePlan plans a rebalance without running any strategy.
// POST /api/rebalance/plan
func (h *CycleHandlers) HandlePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err), h.log)
		return
	}
	if req.Target.IsEmpty() {
		writeError(w, http.StatusBadRequest, errors.New("target is required"), h.log)
		return
	}

	current := req.Current
	total := decimal.Zero
	if current == nil {
		if h.holdings == nil {
			writeError(w, http.StatusBadRequest, errors.New("current is required"), h.log)
			return
		}
		snapshot, err := h.holdings.Snapshot(r.Context())
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to load holdings")
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("failed to load holdings: %w", err), h.log)
			return
		}
		current, total = snapshot.Weights, snapshot.TotalValue
	}
	if req.TotalValue != nil {
		total = *req.TotalValue
	}

	threshold := rebalancing.DefaultThreshold
	if h.runner != nil {
		threshold = h.runner.Config().Threshold
	}
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	plan, err := h.planner.Plan(req.Target, current, total, threshold)
	if err != nil {
		if errors.Is(err, rebalancing.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err, h.log)
			return
		}
		writeError(w, http.StatusInternalServerError, err, h.log)
		return
	}
	writeJSON(w, http.StatusOK, plan, h.log)
}

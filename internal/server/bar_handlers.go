package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/symphony/internal/modules/marketdata"
)

const maxImportBytes = 32 << 20

var errNoHistory = errors.New("price history is not configured")

// BarHandlers imports daily bars and reports history coverage.
type BarHandlers struct {
	importer *marketdata.Importer
	history  *marketdata.HistoryRepository
	log      zerolog.Logger
}

// NewBarHandlers creates bar handlers. Either dependency may be nil.
func NewBarHandlers(importer *marketdata.Importer, history *marketdata.HistoryRepository, log zerolog.Logger) *BarHandlers {
	return &BarHandlers{
		importer: importer,
		history:  history,
		log:      log.With().Str("service", "bar_handlers").Logger(),
	}
}

// HandleCoverage lists every stored symbol with its date range.
// GET /api/bars
func (h *BarHandlers) HandleCoverage(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, errNoHistory, h.log)
		return
	}
	coverage, err := h.history.Symbols(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read history coverage")
		writeError(w, http.StatusInternalServerError, err, h.log)
		return
	}
	if coverage == nil {
		coverage = []marketdata.Coverage{}
	}
	writeJSON(w, http.StatusOK, coverage, h.log)
}

// HandleImport stores the CSV request body as the symbol's history.
// POST /api/bars/{symbol}
func (h *BarHandlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	if h.importer == nil {
		writeError(w, http.StatusServiceUnavailable, errNoHistory, h.log)
		return
	}

	result, err := h.importer.Import(r.Context(), chi.URLParam(r, "symbol"), io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err, h.log)
		return
	}
	writeJSON(w, http.StatusOK, result, h.log)
}

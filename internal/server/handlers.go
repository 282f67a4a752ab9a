package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/aristath/symphony/internal/modules/evaluation"
	"github.com/aristath/symphony/internal/modules/marketdata"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "symphony",
	}, s.log)
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string                  `json:"error"`
	Failure *evaluation.FailureInfo `json:"failure,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, err error, log zerolog.Logger) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()}, log)
}

// writeFailure reports an evaluation-side error with its classified kind.
func writeFailure(w http.ResponseWriter, err error, log zerolog.Logger) {
	info := evaluation.Describe(err)
	writeJSON(w, failureStatus(info.Kind), ErrorResponse{Error: err.Error(), Failure: info}, log)
}

func failureStatus(kind string) int {
	switch kind {
	case evaluation.KindParse, evaluation.KindMalformedTree, evaluation.KindInvalidIndicator, evaluation.KindConfiguration:
		return http.StatusBadRequest
	case evaluation.KindInsufficientHistory, evaluation.KindCycleAborted:
		return http.StatusUnprocessableEntity
	case evaluation.KindProvider:
		return http.StatusBadGateway
	case evaluation.KindCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeJSON reads an optional JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// asOfRequest is the body shared by the evaluate and cycle endpoints.
type asOfRequest struct {
	AsOf string `json:"as_of,omitempty"`
}

// resolve returns the requested time, or now in UTC when none was given.
// A bare date is midnight UTC.
func (a asOfRequest) resolve() (time.Time, error) {
	if a.AsOf == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, a.AsOf); err == nil {
		return t, nil
	}
	day, err := time.Parse(marketdata.DateLayout, a.AsOf)
	if err != nil {
		return time.Time{}, errors.New("as_of must be a date (2006-01-02) or an RFC3339 timestamp")
	}
	return day, nil
}

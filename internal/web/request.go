package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"devicetrack/internal/apperr"
	"devicetrack/internal/model"
)

const (
	actorHeader  = "X-Actor"
	defaultActor = "anonymous"
	maxBodySize  = 1 << 20
)

// actor returns the acting identity for a request.
func actor(r *http.Request) string {
	if a := r.Header.Get(actorHeader); a != "" {
		return a
	}
	return defaultActor
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Code: apperr.InvalidRequest})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

type errorBody struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code,omitempty"`
}

// writeError maps an error to its HTTP status. Persistence failures and
// unclassified errors are logged and their details withheld.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindPersistence:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: apperr.CodeOf(err)})
		return
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
		return
	}

	var ae *apperr.Error
	msg := err.Error()
	if errors.As(err, &ae) && ae.Msg != "" {
		msg = ae.Msg
	}
	s.writeJSON(w, status, errorBody{Error: msg, Code: apperr.CodeOf(err)})
}

func badQuery(name, value string) error {
	return apperr.Validation(apperr.InvalidRequest, "invalid %s %q", name, value)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badQuery(name, v)
	}
	return n, nil
}

func queryFloat(r *http.Request, name string) (float64, error) {
	v := r.URL.Query().Get(name)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, badQuery(name, v)
	}
	return f, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badQuery(name, v)
	}
	return b, nil
}

// queryTime accepts RFC 3339 or Unix milliseconds.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, badQuery(name, v)
	}
	t = t.UTC()
	return &t, nil
}

// searchCriteria reads page, pageSize, and includeDeleted.
func searchCriteria(r *http.Request) (model.SearchCriteria, error) {
	var c model.SearchCriteria
	var err error
	if c.Page, err = queryInt(r, "page", 1); err != nil {
		return c, err
	}
	if c.PageSize, err = queryInt(r, "pageSize", 0); err != nil {
		return c, err
	}
	if c.IncludeDeleted, err = queryBool(r, "includeDeleted"); err != nil {
		return c, err
	}
	return c, nil
}

// dateRangeCriteria adds the start and end bounds to searchCriteria.
func dateRangeCriteria(r *http.Request) (model.DateRangeSearchCriteria, error) {
	var c model.DateRangeSearchCriteria
	var err error
	if c.SearchCriteria, err = searchCriteria(r); err != nil {
		return c, err
	}
	if c.StartDate, err = queryTime(r, "start"); err != nil {
		return c, err
	}
	if c.EndDate, err = queryTime(r, "end"); err != nil {
		return c, err
	}
	return c, nil
}

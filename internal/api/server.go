// Package api serves the planner over HTTP/JSON.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/speedplan/internal/db"
	pj "github.com/banshee-data/speedplan/internal/piecewisejerk"
	"github.com/banshee-data/speedplan/internal/planner"
	"github.com/banshee-data/speedplan/internal/units"
	"github.com/banshee-data/speedplan/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	maxRequestBytes = 1 << 20
	maxBatch        = 64
	defaultRunLimit = 50
)

type Server struct {
	svc   *planner.Service
	store *db.RunStore
	units string
}

// NewServer returns a Server. store may be nil, which disables run
// recording and the /api/runs endpoints. units is the default display unit
// for charts.
func NewServer(svc *planner.Service, store *db.RunStore, units string) *Server {
	return &Server{
		svc:   svc,
		store: store,
		units: units,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/solve", s.handleSolve)
	mux.HandleFunc("POST /api/solve/batch", s.handleSolveBatch)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("GET /api/runs/{id}/chart", s.runChart)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// httpStatus maps a planner error to a response code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, pj.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, pj.ErrOptimizationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, planner.ErrBudgetExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) record(req *planner.Request, resp *planner.Response, solveErr error) {
	if s.store == nil {
		return
	}
	if _, err := s.store.Record(req, resp, solveErr); err != nil {
		log.Printf("api: failed to record run: %v", err)
	}
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	req, err := planner.DecodeRequest(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.svc.Solve(r.Context(), req)
	s.record(req, resp, err)
	if err != nil {
		s.writeJSONError(w, httpStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// batchItem is one entry of a batch response: a response or an error.
type batchItem struct {
	*planner.Response
	Error string `json:"error,omitempty"`
}

func (s *Server) handleSolveBatch(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatch*maxRequestBytes))
	dec.DisallowUnknownFields()
	var reqs []*planner.Request
	if err := dec.Decode(&reqs); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode batch: %v", err))
		return
	}
	if len(reqs) == 0 || len(reqs) > maxBatch {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("batch must hold 1 to %d requests, got %d", maxBatch, len(reqs)))
		return
	}
	for i, req := range reqs {
		if req == nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("request %d is null", i))
			return
		}
	}

	results := s.svc.SolveAll(r.Context(), reqs)
	items := make([]batchItem, len(results))
	for i, res := range results {
		s.record(reqs[i], res.Response, res.Err)
		items[i].Response = res.Response
		if res.Err != nil {
			items[i].Error = res.Err.Error()
		}
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"units":   s.units,
		"version": version.String(),
		"planner": s.svc.Config(),
		"budget":  s.svc.Budget().String(),
	})
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "run storage is disabled")
		return false
	}
	return true
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	limit := defaultRunLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	runs, err := s.store.List(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list runs: %v", err))
		return
	}
	if runs == nil {
		runs = []*db.Run{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*db.Run, bool) {
	if !s.requireStore(w) {
		return nil, false
	}
	run, err := s.store.Get(r.PathValue("id"))
	if errors.Is(err, db.ErrRunNotFound) {
		s.writeJSONError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return run, true
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if run, ok := s.lookupRun(w, r); ok {
		s.writeJSON(w, http.StatusOK, run)
	}
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	err := s.store.Delete(r.PathValue("id"))
	switch {
	case errors.Is(err, db.ErrRunNotFound):
		s.writeJSONError(w, http.StatusNotFound, err.Error())
	case err != nil:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) displayUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid units %q, want one of %s", u, units.GetValidUnitsString())
	}
	return u, nil
}

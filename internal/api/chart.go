package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/banshee-data/speedplan/internal/report"
)

// runChart renders a stored run as html (default), png or csv.
func (s *Server) runChart(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	resp, err := run.Response()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resp == nil {
		s.writeJSONError(w, http.StatusConflict, fmt.Sprintf("run %s has no profile (status %s)", run.RunID, run.Status))
		return
	}
	unit, err := s.displayUnits(r)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	title := fmt.Sprintf("Run %s", run.RunID)
	var (
		buf         bytes.Buffer
		contentType string
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "html":
		contentType = "text/html; charset=utf-8"
		err = report.WriteHTML(&buf, title, resp, unit)
	case "png":
		contentType = "image/png"
		err = report.WritePNG(&buf, title, resp, unit)
	case "csv":
		contentType = "text/csv"
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=run-%s.csv", run.RunID))
		err = report.WriteCSV(&buf, resp, unit)
	default:
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q", format))
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write(buf.Bytes())
}

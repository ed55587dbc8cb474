package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
)

const maxUploadBytes = 10 << 20

func (s *Server) handlePendingLeads(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.ListPending(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count": len(pending),
		"leads": pending,
	})
}

// handleUploadLeads accepts either a multipart form with a "file" field or a
// raw text/csv body.
func (s *Server) handleUploadLeads(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, "missing_file", "multipart field \"file\" is required")
			return
		}
		defer file.Close()
		src = file
	}

	parsed, err := leads.ReadLeadsCSV(src)
	var missing *leads.MissingColumnsError
	switch {
	case errors.As(err, &missing):
		respondError(w, http.StatusBadRequest, "missing_columns", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, "invalid_csv", err.Error())
		return
	}

	n, err := s.store.ImportLeads(r.Context(), parsed)
	if err != nil {
		s.logger.Error("import leads", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	s.logger.Info("leads imported", zap.Int("count", n))
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "uploaded",
		"imported": n,
	})
}

func (s *Server) handleLeadTemplate(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	if err := leads.WriteTemplate(&buf); err != nil {
		respondError(w, http.StatusInternalServerError, "template_failed", err.Error())
		return
	}
	writeCSV(w, "leads_template.csv", buf.Bytes())
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDownloadResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.ListResults(r.Context(), 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_failed", err.Error())
		return
	}
	if len(results) == 0 {
		respondError(w, http.StatusNotFound, "no_results", "no call results recorded yet")
		return
	}
	var buf bytes.Buffer
	if err := leads.WriteResultsCSV(&buf, results); err != nil {
		respondError(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}
	writeCSV(w, "call_results.csv", buf.Bytes())
}

func writeCSV(w http.ResponseWriter, filename string, body []byte) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

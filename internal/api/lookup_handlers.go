package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/certlookup/internal/grading"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type lookupResponse struct {
	Success      bool                        `json:"success"`
	CertNumber   grading.CertificationNumber `json:"certNumber"`
	ResultsFound int                         `json:"resultsFound"`
	Results      []grading.SourceResult      `json:"results"`
}

type historyResponse struct {
	CertNumber grading.CertificationNumber `json:"certNumber"`
	Lookups    []grading.LookupRecord      `json:"lookups"`
}

// lookupCertification handles GET /api/video-games/{certNumber}. It answers
// 400 for a malformed number, 404 when no service recognises it, and 500 for
// anything else.
func (s *Server) lookupCertification(w http.ResponseWriter, r *http.Request) {
	cert, err := grading.ParseCertificationNumber(chi.URLParam(r, "certNumber"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid certification number format")
		return
	}
	logger := s.logger.With(zap.String("request_id", RequestID(r.Context())), zap.String("cert_number", cert.String()))
	logger.Info("looking up certification")

	result, err := s.lookups.Lookup(r.Context(), cert)
	if err != nil {
		if errors.Is(err, grading.ErrAggregateNotFound) {
			writeError(w, http.StatusNotFound, grading.ErrAggregateNotFound.Error())
			return
		}
		logger.Error("lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	logger.Info("lookup complete", zap.Int("results", len(result.Results)))
	writeJSON(w, http.StatusOK, lookupResponse{
		Success:      true,
		CertNumber:   result.CertNumber,
		ResultsFound: len(result.Results),
		Results:      result.Results,
	})
}

// lookupHistory handles GET /api/video-games/{certNumber}/history?limit=.
func (s *Server) lookupHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "lookup history unavailable")
		return
	}
	cert, err := grading.ParseCertificationNumber(chi.URLParam(r, "certNumber"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid certification number format")
		return
	}
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.history.ListLookups(r.Context(), cert, limit)
	if err != nil {
		s.logger.Error("list lookups failed", zap.String("cert_number", cert.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list lookups")
		return
	}
	if records == nil {
		records = []grading.LookupRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{CertNumber: cert, Lookups: records})
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.lookups.Sources()})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

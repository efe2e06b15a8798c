package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querymend/querymend/core/history"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

const historyDefaultLimit = 50

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	s.router.Get("/openapi.json", s.handleOpenAPI)
	s.router.Get("/llms.txt", s.handleLLMsTxt)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Get("/datasources", s.handleDataSources)
		r.Get("/history", s.handleHistory)
	})

	routes := []string{
		"GET  /healthz",
		"GET  /metrics",
		"GET  /openapi.json",
		"GET  /llms.txt",
		"POST /v1/query",
		"GET  /v1/datasources",
		"GET  /v1/history",
	}
	s.log.Infof("Routes registered: %d", len(routes))
	for _, route := range routes {
		s.log.Debugf("  %s", route)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Success: true, Version: s.version})
}

func (s *Server) handleDataSources(w http.ResponseWriter, _ *http.Request) {
	sources := s.catalog.List()
	summaries := make([]DataSourceSummary, 0, len(sources))
	for _, ds := range sources {
		summaries = append(summaries, DataSourceSummary{
			ID:       ds.ID,
			Category: string(ds.Category),
			Dialect:  string(ds.EffectiveDialect()),
			Host:     ds.Connection.Host,
			Port:     ds.Connection.Port,
			Database: ds.Connection.Database,
			Path:     ds.Connection.Path,
		})
	}
	s.writeJSON(w, http.StatusOK, DataSourcesResponse{Success: true, DataSources: summaries})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, apperrors.NewAppError(apperrors.ErrCodeInternalError,
			"run history is not available", nil))
		return
	}

	limit := historyDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, apperrors.NewAppError(apperrors.ErrCodeInvalidInput,
				"limit must be a non-negative integer", nil))
			return
		}
		limit = parsed
	}
	if limit > 500 {
		limit = 500
	}

	records, err := s.history.Recent(r.Context(), limit, r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	s.writeJSON(w, http.StatusOK, HistoryResponse{Success: true, Runs: records})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.NewAppError(apperrors.ErrCodeInternalError, err.Error(), err)
	}
	s.writeJSON(w, appErr.Status, ErrorResponse{
		Success: false,
		Error:   appErr.Message,
		Code:    string(appErr.Code),
	})
}

func (s *Server) writeValidationError(w http.ResponseWriter, err error) {
	var details []ErrorDetail
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, fieldErr := range validationErrs {
			details = append(details, ErrorDetail{
				Field:   fieldErr.Field(),
				Tag:     fieldErr.Tag(),
				Message: "Validation failed",
			})
		}
	}
	s.writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Success: false,
		Error:   "Validation failed",
		Details: details,
	})
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/querymend/querymend/core/history"
	"github.com/querymend/querymend/core/observability"
	"github.com/querymend/querymend/core/pipeline"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

// handleQuery runs one question, or fans out several, and answers with the
// full run result. Pipeline failures come back inside the result body with a
// matching HTTP status, not as transport errors.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Success: false, Error: "Invalid JSON"})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeValidationError(w, err)
		return
	}

	session := chimiddleware.GetReqID(r.Context())
	s.log.Infof("Query against '%s' (session %s)", req.SourceID, session)

	if len(req.Questions) > 0 {
		s.runBatch(w, r, session, req)
		return
	}

	preq := pipeline.Request{
		Question:    req.Question,
		SourceID:    req.SourceID,
		Intent:      req.Intent,
		RequireRows: req.RequireRows,
	}
	start := time.Now()
	res := s.pipeline.Run(r.Context(), preq)
	s.archive(r.Context(), session, preq, res, time.Since(start))

	s.writeJSON(w, runStatusCode(res), res)
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, session string, req QueryRequest) {
	reqs := make([]pipeline.Request, len(req.Questions))
	for i, question := range req.Questions {
		reqs[i] = pipeline.Request{
			Question:    question,
			SourceID:    req.SourceID,
			Intent:      req.Intent,
			RequireRows: req.RequireRows,
		}
	}

	start := time.Now()
	runs := s.pipeline.RunAll(r.Context(), reqs)
	elapsed := time.Since(start)
	for i, res := range runs {
		s.archive(r.Context(), session, reqs[i], res, elapsed)
	}

	// Per-slot outcomes live inside each run; the batch itself is a 200.
	s.writeJSON(w, http.StatusOK, BatchQueryResponse{Runs: runs})
}

// archive records the run in the metrics stream and the history store. Runs
// are archived even when the request context is already cancelled.
func (s *Server) archive(ctx context.Context, session string, req pipeline.Request, res *pipeline.RunResult, elapsed time.Duration) {
	ctx = context.WithoutCancel(ctx)
	observability.RecordRun(ctx, req.SourceID, string(res.Status), float64(elapsed.Milliseconds()))

	if s.history == nil {
		return
	}
	rec := history.FromRun(session, req, res)
	if rec.Elapsed == 0 {
		rec.Elapsed = elapsed
	}
	if _, err := s.history.Save(ctx, rec); err != nil {
		s.log.Warnf("Failed to archive run: %v", err)
	}
}

func runStatusCode(res *pipeline.RunResult) int {
	err := res.Err()
	if err == nil {
		return http.StatusOK
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

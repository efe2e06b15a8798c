package server

import (
	"github.com/querymend/querymend/core/history"
	"github.com/querymend/querymend/core/pipeline"
	"github.com/querymend/querymend/core/schema"
)

// QueryRequest asks one question, or several independent ones, against a
// data source. Exactly one of Question and Questions must be set.
type QueryRequest struct {
	Question    string        `json:"question" validate:"required_without=Questions,excluded_with=Questions"`
	Questions   []string      `json:"questions" validate:"required_without=Question,omitempty,min=1,max=16,dive,min=1"`
	SourceID    string        `json:"source_id" validate:"required"`
	Intent      schema.Intent `json:"intent"`
	RequireRows bool          `json:"require_rows"`
}

// BatchQueryResponse carries one result per question, in request order.
type BatchQueryResponse struct {
	Runs []*pipeline.RunResult `json:"runs"`
}

// DataSourceSummary is a data source without its credentials.
type DataSourceSummary struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Dialect  string `json:"dialect"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Path     string `json:"path,omitempty"`
}

// DataSourcesResponse lists the catalog.
type DataSourcesResponse struct {
	Success     bool                `json:"success"`
	DataSources []DataSourceSummary `json:"data_sources"`
}

// HistoryResponse lists archived runs, newest first.
type HistoryResponse struct {
	Success bool             `json:"success"`
	Runs    []history.Record `json:"runs"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Success bool   `json:"success"`
	Version string `json:"version"`
}

// ErrorResponse is the transport-level error shape. Pipeline failures are
// reported inside the run result instead.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

// ErrorDetail names one failed validation constraint.
type ErrorDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Tag     string `json:"tag"`
}

// ValidationErrorResponse reports request body validation failures.
type ValidationErrorResponse struct {
	Success bool          `json:"success"`
	Error   string        `json:"error"`
	Details []ErrorDetail `json:"details,omitempty"`
}

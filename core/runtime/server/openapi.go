package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pb33f/libopenapi"
)

// buildOpenAPISpec assembles the OpenAPI 3.0 document for the fixed route
// set and validates it through libopenapi before serving.
func (s *Server) buildOpenAPISpec(baseURL string) ([]byte, error) {
	runResultSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{
				"type": "string",
				"enum": []string{"success", "partial", "critical_failure"},
			},
			"sql": map[string]any{"type": "string"},
			"result": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"columns":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"rows":      map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
					"row_count": map[string]any{"type": "integer"},
				},
			},
			"attempts": map[string]any{"type": "integer"},
			"history": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
			"failure": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code":     map[string]any{"type": "string"},
					"category": map[string]any{"type": "string"},
					"message":  map[string]any{"type": "string"},
					"excerpt":  map[string]any{"type": "string"},
				},
			},
		},
	}

	errorSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success": map[string]any{"type": "boolean", "example": false},
			"error":   map[string]any{"type": "string"},
			"code":    map[string]any{"type": "string"},
		},
	}

	jsonContent := func(schema map[string]any) map[string]any {
		return map[string]any{
			"application/json": map[string]any{"schema": schema},
		}
	}

	spec := map[string]any{
		"openapi": "3.0.0",
		"info": map[string]any{
			"title":       "querymend API",
			"version":     s.version,
			"description": "Ask analytics questions in natural language. The pipeline generates SQL, executes it, and repairs failures automatically.",
		},
		"servers": []map[string]any{
			{"url": baseURL, "description": "querymend server"},
		},
		"paths": map[string]any{
			"/v1/query": map[string]any{
				"post": map[string]any{
					"summary":     "Run a question against a data source",
					"description": "Set 'question' for a single run or 'questions' to fan out several independent runs. Exactly one of the two must be present.",
					"operationId": "runQuery",
					"requestBody": map[string]any{
						"required": true,
						"content": jsonContent(map[string]any{
							"type": "object",
							"properties": map[string]any{
								"question": map[string]any{
									"type":    "string",
									"example": "total revenue by region this quarter",
								},
								"questions": map[string]any{
									"type":     "array",
									"items":    map[string]any{"type": "string"},
									"maxItems": 16,
								},
								"source_id": map[string]any{
									"type":    "string",
									"example": "warehouse",
								},
								"intent": map[string]any{
									"type": "object",
									"properties": map[string]any{
										"aggregation":      map[string]any{"type": "string"},
										"group_columns":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
										"time_granularity": map[string]any{"type": "string"},
										"filter_count":     map[string]any{"type": "integer"},
									},
								},
								"require_rows": map[string]any{"type": "boolean"},
							},
							"required": []string{"source_id"},
						}),
					},
					"responses": map[string]any{
						"200": map[string]any{
							"description": "Run finished with usable results. Batch requests always answer 200 with per-run outcomes.",
							"content":     jsonContent(runResultSchema),
						},
						"400": map[string]any{
							"description": "Invalid request body",
							"content":     jsonContent(errorSchema),
						},
						"404": map[string]any{
							"description": "Unknown data source",
							"content":     jsonContent(runResultSchema),
						},
						"500": map[string]any{
							"description": "Run exhausted its retry budget",
							"content":     jsonContent(runResultSchema),
						},
					},
				},
			},
			"/v1/datasources": map[string]any{
				"get": map[string]any{
					"summary":     "List configured data sources",
					"operationId": "listDataSources",
					"responses": map[string]any{
						"200": map[string]any{
							"description": "Sources without credentials",
							"content": jsonContent(map[string]any{
								"type": "object",
								"properties": map[string]any{
									"success": map[string]any{"type": "boolean"},
									"data_sources": map[string]any{
										"type": "array",
										"items": map[string]any{
											"type": "object",
											"properties": map[string]any{
												"id":       map[string]any{"type": "string"},
												"category": map[string]any{"type": "string"},
												"dialect":  map[string]any{"type": "string"},
												"host":     map[string]any{"type": "string"},
												"port":     map[string]any{"type": "integer"},
												"database": map[string]any{"type": "string"},
											},
										},
									},
								},
							}),
						},
					},
				},
			},
			"/v1/history": map[string]any{
				"get": map[string]any{
					"summary":     "List archived runs, newest first",
					"operationId": "listHistory",
					"parameters": []map[string]any{
						{
							"name":        "limit",
							"in":          "query",
							"description": "Maximum number of runs to return",
							"schema":      map[string]any{"type": "integer", "default": historyDefaultLimit},
						},
						{
							"name":        "q",
							"in":          "query",
							"description": "Substring filter on question and statement",
							"schema":      map[string]any{"type": "string"},
						},
					},
					"responses": map[string]any{
						"200": map[string]any{
							"description": "Archived runs",
							"content": jsonContent(map[string]any{
								"type": "object",
								"properties": map[string]any{
									"success": map[string]any{"type": "boolean"},
									"runs":    map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
								},
							}),
						},
					},
				},
			},
			"/healthz": map[string]any{
				"get": map[string]any{
					"summary":     "Liveness probe",
					"operationId": "health",
					"responses": map[string]any{
						"200": map[string]any{
							"description": "Server is up",
							"content": jsonContent(map[string]any{
								"type": "object",
								"properties": map[string]any{
									"success": map[string]any{"type": "boolean"},
									"version": map[string]any{"type": "string"},
								},
							}),
						},
					},
				},
			},
		},
	}

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal openapi spec: %w", err)
	}

	document, err := libopenapi.NewDocument(specJSON)
	if err != nil {
		return nil, fmt.Errorf("create openapi document: %w", err)
	}
	if _, err := document.BuildV3Model(); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}

	return specJSON, nil
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	specJSON, err := s.buildOpenAPISpec(fmt.Sprintf("http://localhost:%s", s.port))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var spec map[string]any
	if err := json.Unmarshal(specJSON, &spec); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(spec); err != nil {
		s.log.Errorf("Failed to encode OpenAPI spec: %v", err)
	}
}

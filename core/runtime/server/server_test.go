package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/dialect"
	"github.com/querymend/querymend/core/generation"
	"github.com/querymend/querymend/core/history"
	"github.com/querymend/querymend/core/pipeline"
	"github.com/querymend/querymend/core/runtime/engines"
	"github.com/querymend/querymend/core/runtime/executor"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

const warehouseRows = `{"meta":[{"name":"total","type":"Float64"}],"data":[{"total":42.5},{"total":7.25}],"rows":2}`

type staticCatalog struct {
	sources map[string]catalog.DataSource
}

func (s staticCatalog) Get(id string) (catalog.DataSource, error) {
	ds, ok := s.sources[id]
	if !ok {
		return catalog.DataSource{}, apperrors.NewAppError(apperrors.ErrCodeSourceNotFound,
			fmt.Sprintf("data source '%s' not found", id), nil)
	}
	return ds, nil
}

func (s staticCatalog) List() []catalog.DataSource {
	out := make([]catalog.DataSource, 0, len(s.sources))
	for _, ds := range s.sources {
		out = append(out, ds)
	}
	return out
}

// stubWarehouse answers schema introspection from a fixed table and every
// query attempt with two rows.
type stubWarehouse struct {
	mu   sync.Mutex
	seen []string
	srv  *httptest.Server
}

func newStubWarehouse(t *testing.T) *stubWarehouse {
	t.Helper()
	w := &stubWarehouse{}
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		statement := string(body)
		switch {
		case strings.Contains(statement, "system.columns"):
			rw.Write([]byte(`{"meta":[],"data":[
				{"table_name":"orders","column_name":"id","data_type":"UInt64","is_nullable":"NO"},
				{"table_name":"orders","column_name":"total","data_type":"Float64","is_nullable":"YES"}
			]}`))
		case strings.Contains(statement, "system.tables"):
			rw.Write([]byte(`{"meta":[],"data":[{"table_name":"orders","row_count":500}]}`))
		default:
			w.mu.Lock()
			w.seen = append(w.seen, statement)
			w.mu.Unlock()
			rw.Write([]byte(warehouseRows))
		}
	}))
	t.Cleanup(w.srv.Close)
	return w
}

func (w *stubWarehouse) queries() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.seen...)
}

func warehousePort(t *testing.T, srvURL string) int {
	t.Helper()
	u, err := url.Parse(srvURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

type testServer struct {
	server    *Server
	warehouse *stubWarehouse
	store     *history.Store
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()

	w := newStubWarehouse(t)
	cat := staticCatalog{sources: map[string]catalog.DataSource{
		"events": {
			ID:       "events",
			Category: dialect.CategoryWarehouse,
			Connection: catalog.Connection{
				Host:     "127.0.0.1",
				Port:     warehousePort(t, w.srv.URL),
				Database: "analytics",
				User:     "reporting",
				Password: "hunter2",
			},
		},
	}}

	gen := generation.GeneratorFunc(func(_ context.Context, req generation.Request) (string, error) {
		if strings.Contains(req.Question, "customers") {
			return "SELECT id FROM orders LIMIT 10", nil
		}
		return "SELECT total FROM orders", nil
	})

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	cache, err := executor.NewCache(config.CacheConfig{Backend: "memory"})
	require.NoError(t, err)
	exec := executor.New(cat, engines.NewManager(), cache, time.Minute)
	t.Cleanup(exec.Close)

	pipe := pipeline.New(cat, gen, exec, cfg.Pipeline, cfg.Generation.ContextWindow)

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &testServer{
		server:    New(cfg, cat, pipe, store, "8080", WithVersion("test")),
		warehouse: w,
		store:     store,
	}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	health := decodeJSON[HealthResponse](t, rec)
	assert.True(t, health.Success)
	assert.Equal(t, "test", health.Version)
}

func TestQuerySingleRun(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/query", QueryRequest{
		Question: "total revenue from orders",
		SourceID: "events",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	res := decodeJSON[pipeline.RunResult](t, rec)
	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.Equal(t, "SELECT total FROM orders", res.SQL)
	require.NotNil(t, res.Result)
	assert.Equal(t, 2, res.Result.RowCount)
	assert.Equal(t, 1, res.Attempts)

	assert.Equal(t, []string{"SELECT total FROM orders"}, ts.warehouse.queries())

	records, err := ts.store.Recent(context.Background(), 0, "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "total revenue from orders", records[0].Question)
	assert.Equal(t, string(pipeline.StatusSuccess), records[0].Status)
	assert.NotEmpty(t, records[0].Session)
}

func TestQueryBatchFansOut(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/query", QueryRequest{
		Questions: []string{"revenue by day", "top customers by spend"},
		SourceID:  "events",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	batch := decodeJSON[BatchQueryResponse](t, rec)
	require.Len(t, batch.Runs, 2)
	assert.Equal(t, pipeline.StatusSuccess, batch.Runs[0].Status)
	assert.Equal(t, pipeline.StatusSuccess, batch.Runs[1].Status)
	assert.Equal(t, "SELECT total FROM orders", batch.Runs[0].SQL)
	assert.Equal(t, "SELECT id FROM orders LIMIT 10", batch.Runs[1].SQL)

	assert.Len(t, ts.warehouse.queries(), 2)

	// Both runs land in history under the same request session.
	records, err := ts.store.Recent(context.Background(), 0, "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, records[0].Session, records[1].Session)
	assert.NotEmpty(t, records[0].Session)
}

func TestQueryValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	// Missing source_id.
	rec := ts.do(t, http.MethodPost, "/v1/query", map[string]any{
		"question": "total revenue",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeJSON[ValidationErrorResponse](t, rec)
	assert.False(t, resp.Success)
	require.NotEmpty(t, resp.Details)
	fields := make([]string, 0, len(resp.Details))
	for _, d := range resp.Details {
		fields = append(fields, d.Field)
	}
	assert.Contains(t, fields, "SourceID")

	// Question and questions are mutually exclusive.
	rec = ts.do(t, http.MethodPost, "/v1/query", map[string]any{
		"question":  "total revenue",
		"questions": []string{"orders per day"},
		"source_id": "events",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Neither question nor questions.
	rec = ts.do(t, http.MethodPost, "/v1/query", map[string]any{
		"source_id": "events",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed JSON body.
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)
	assert.Contains(t, raw.Body.String(), "Invalid JSON")
}

func TestQueryUnknownSourceMapsTo404(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/v1/query", QueryRequest{
		Question: "total revenue",
		SourceID: "ghost",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	res := decodeJSON[pipeline.RunResult](t, rec)
	assert.Equal(t, pipeline.StatusFailed, res.Status)
	require.NotNil(t, res.Failure)
	assert.Equal(t, apperrors.ErrCodeSourceNotFound, res.Failure.Code)
}

func TestDataSourcesOmitCredentials(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/v1/datasources", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON[DataSourcesResponse](t, rec)
	require.Len(t, resp.DataSources, 1)
	assert.Equal(t, "events", resp.DataSources[0].ID)
	assert.Equal(t, "clickhouse", resp.DataSources[0].Dialect)
	assert.Equal(t, "analytics", resp.DataSources[0].Database)

	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.NotContains(t, rec.Body.String(), "reporting")
}

func TestHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ctx := context.Background()

	for _, rec := range []history.Record{
		{Question: "monthly revenue", SourceID: "events", Status: "success",
			CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		{Question: "active users", SourceID: "events", Status: "success",
			CreatedAt: time.Date(2025, 6, 1, 12, 0, 1, 0, time.UTC)},
	} {
		_, err := ts.store.Save(ctx, rec)
		require.NoError(t, err)
	}

	rec := ts.do(t, http.MethodGet, "/v1/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON[HistoryResponse](t, rec)
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "active users", resp.Runs[0].Question)

	rec = ts.do(t, http.MethodGet, "/v1/history?q=revenue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeJSON[HistoryResponse](t, rec)
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, "monthly revenue", resp.Runs[0].Question)

	rec = ts.do(t, http.MethodGet, "/v1/history?limit=nope", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decodeJSON[ErrorResponse](t, rec)
	assert.Equal(t, string(apperrors.ErrCodeInvalidInput), errResp.Code)
}

func TestHistoryUnavailableWithoutStore(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := New(config.Default(), ts.server.catalog, ts.server.pipeline, nil, "8080")

	req := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "run history is not available")
}

func TestOpenAPIDocument(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/openapi.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var spec map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	assert.Equal(t, "3.0.0", spec["openapi"])

	info, ok := spec["info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "querymend API", info["title"])
	assert.Equal(t, "test", info["version"])

	paths, ok := spec["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v1/query")
	assert.Contains(t, paths, "/v1/datasources")
	assert.Contains(t, paths, "/v1/history")
	assert.Contains(t, paths, "/healthz")
}

func TestLLMsTxt(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/llms.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")

	doc := rec.Body.String()
	assert.Contains(t, doc, "/v1/query")
	assert.Contains(t, doc, "`events`")
	assert.Contains(t, doc, "critical_failure")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	// Serve one request first so the request counter has a sample.
	_ = ts.do(t, http.MethodGet, "/healthz", nil)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRateLimitByIP(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = 2
	})

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodGet, "/healthz", nil)
		require.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/dialect"
	"github.com/querymend/querymend/core/runtime/engines"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

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

// fakeWarehouse answers the ClickHouse HTTP protocol: introspection queries
// get a tiny schema, everything else gets data rows.
func fakeWarehouse(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		statement := string(body)
		switch {
		case strings.Contains(statement, "system.columns"):
			w.Write([]byte(`{"meta":[],"data":[
				{"table_name":"orders","column_name":"id","data_type":"UInt64","is_nullable":"NO"},
				{"table_name":"orders","column_name":"total","data_type":"Float64","is_nullable":"YES"}
			]}`))
		case strings.Contains(statement, "system.tables"):
			w.Write([]byte(`{"meta":[],"data":[{"table_name":"orders","row_count":120}]}`))
		case strings.Contains(statement, "WHERE 0"):
			w.Write([]byte(`{"meta":[{"name":"n","type":"UInt8"}],"data":[]}`))
		default:
			w.Write([]byte(`{"meta":[{"name":"n","type":"UInt8"}],"data":[{"n":1}]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testExecutor(t *testing.T, srvURL string) *Executor {
	t.Helper()
	u, err := url.Parse(srvURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cat := staticCatalog{sources: map[string]catalog.DataSource{
		"events": {
			ID:         "events",
			Category:   dialect.CategoryWarehouse,
			Connection: catalog.Connection{Port: port},
		},
	}}

	exec := New(cat, engines.NewManager(), newMemoryCache(), time.Minute)
	t.Cleanup(exec.Close)
	return exec
}

func TestExecutorCachesNonEmptyResults(t *testing.T) {
	var hits atomic.Int32
	srv := fakeWarehouse(t, &hits)
	exec := testExecutor(t, srv.URL)

	first, err := exec.Execute(context.Background(), "events", "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.RowCount)

	second, err := exec.Execute(context.Background(), "events", "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, first.Rows, second.Rows)
	assert.Equal(t, int32(1), hits.Load(), "second execution is served from cache")

	exec.InvalidateCaches()
	_, err = exec.Execute(context.Background(), "events", "SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestExecutorDoesNotCacheEmptyResults(t *testing.T) {
	var hits atomic.Int32
	srv := fakeWarehouse(t, &hits)
	exec := testExecutor(t, srv.URL)

	for i := 0; i < 2; i++ {
		res, err := exec.Execute(context.Background(), "events", "SELECT 1 WHERE 0")
		require.NoError(t, err)
		assert.Equal(t, 0, res.RowCount)
	}
	assert.Equal(t, int32(2), hits.Load(), "empty results are re-executed")
}

func TestExecutorUnknownSource(t *testing.T) {
	var hits atomic.Int32
	srv := fakeWarehouse(t, &hits)
	exec := testExecutor(t, srv.URL)

	_, err := exec.Execute(context.Background(), "nope", "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSourceNotFound, apperrors.CodeOf(err))
}

func TestExecutorSnapshotIntrospectsAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := fakeWarehouse(t, &hits)
	exec := testExecutor(t, srv.URL)

	snap, err := exec.Snapshot(context.Background(), "events")
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())

	orders, ok := snap.Table("orders")
	require.True(t, ok)
	assert.Len(t, orders.Columns, 2)
	assert.Equal(t, int64(120), orders.RowCount)
	introspectionHits := hits.Load()

	_, err = exec.Snapshot(context.Background(), "events")
	require.NoError(t, err)
	assert.Equal(t, introspectionHits, hits.Load(), "snapshot is cached")

	exec.InvalidateCaches()
	_, err = exec.Snapshot(context.Background(), "events")
	require.NoError(t, err)
	assert.Greater(t, hits.Load(), introspectionHits)
}

func TestMemoryCacheIsolation(t *testing.T) {
	cache := newMemoryCache()
	defer cache.Close()

	original := &engines.Result{
		Columns:  []string{"n"},
		Rows:     []map[string]any{{"n": 1}},
		RowCount: 1,
	}
	cache.Set(context.Background(), "k", original, time.Minute)

	got, ok := cache.Get(context.Background(), "k")
	require.True(t, ok)
	got.Rows[0]["n"] = 99

	again, ok := cache.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, 1, again.Rows[0]["n"], "cached rows are cloned on read")
}

func TestBuildCacheKey(t *testing.T) {
	assert.NotEqual(t,
		buildCacheKey("a", "SELECT 1"),
		buildCacheKey("b", "SELECT 1"))
	assert.Equal(t,
		buildCacheKey("a", "SELECT 1"),
		buildCacheKey("a", "SELECT 1"))
}

func TestNewCacheBackends(t *testing.T) {
	mem, err := NewCache(config.CacheConfig{Backend: "memory"})
	require.NoError(t, err)
	mem.Close()

	none, err := NewCache(config.CacheConfig{Backend: "none"})
	require.NoError(t, err)
	_, ok := none.Get(context.Background(), "k")
	assert.False(t, ok)

	_, err = NewCache(config.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)
}

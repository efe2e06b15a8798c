package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querymend/querymend/core/dialect"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datasources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validCatalog = `
data_sources:
  - id: events
    category: warehouse
    connection:
      host: warehouse.internal
      port: 8123
      database: analytics
      user: reader
      password: "{{ env.TEST_WAREHOUSE_PASSWORD }}"
      container_alias: clickhouse
  - id: app
    category: database
    dialect: postgres
    connection:
      host: localhost
      port: 5432
      database: app
      user: app
      password: secret
  - id: exports
    category: file
    connection:
      path: /data/exports.duckdb
`

func TestFileCatalogLoadsAndSubstitutesEnv(t *testing.T) {
	t.Setenv("TEST_WAREHOUSE_PASSWORD", "s3cr3t")

	cat, err := NewFileCatalog(writeCatalog(t, validCatalog))
	require.NoError(t, err)

	ds, err := cat.Get("events")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", ds.Connection.Password)
	assert.Equal(t, dialect.ClickHouse, ds.EffectiveDialect())

	app, err := cat.Get("app")
	require.NoError(t, err)
	assert.Equal(t, dialect.Postgres, app.EffectiveDialect())

	exports, err := cat.Get("exports")
	require.NoError(t, err)
	assert.Equal(t, dialect.DuckDB, exports.EffectiveDialect())

	ids := make([]string, 0, 3)
	for _, ds := range cat.List() {
		ids = append(ids, ds.ID)
	}
	assert.Equal(t, []string{"app", "events", "exports"}, ids)
}

func TestFileCatalogMissingEnvVarFails(t *testing.T) {
	path := writeCatalog(t, `
data_sources:
  - id: events
    category: warehouse
    connection:
      password: "{{ env.QUERYMEND_TEST_UNSET_VAR }}"
`)
	_, err := NewFileCatalog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUERYMEND_TEST_UNSET_VAR")
}

func TestFileCatalogGetUnknownSource(t *testing.T) {
	t.Setenv("TEST_WAREHOUSE_PASSWORD", "x")
	cat, err := NewFileCatalog(writeCatalog(t, validCatalog))
	require.NoError(t, err)

	_, err = cat.Get("nope")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeSourceNotFound, apperrors.CodeOf(err))
}

func TestFileCatalogRejectsDuplicateIDs(t *testing.T) {
	path := writeCatalog(t, `
data_sources:
  - id: events
    category: warehouse
  - id: events
    category: database
`)
	_, err := NewFileCatalog(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate data source id")
}

func TestFileCatalogRejectsInvalidCategory(t *testing.T) {
	path := writeCatalog(t, `
data_sources:
  - id: events
    category: spreadsheet
`)
	_, err := NewFileCatalog(path)
	require.Error(t, err)
}

func TestFileCatalogReloadSwapsSourcesAndFiresHooks(t *testing.T) {
	path := writeCatalog(t, `
data_sources:
  - id: events
    category: warehouse
`)
	cat, err := NewFileCatalog(path)
	require.NoError(t, err)

	fired := 0
	cat.OnReload(func() { fired++ })

	require.NoError(t, os.WriteFile(path, []byte(`
data_sources:
  - id: sales
    category: database
    dialect: mysql
`), 0o644))
	require.NoError(t, cat.Reload())

	assert.Equal(t, 1, fired)
	_, err = cat.Get("events")
	assert.Error(t, err)
	ds, err := cat.Get("sales")
	require.NoError(t, err)
	assert.Equal(t, dialect.MySQL, ds.EffectiveDialect())
}

func TestFileCatalogReloadFailureKeepsPrevious(t *testing.T) {
	path := writeCatalog(t, `
data_sources:
  - id: events
    category: warehouse
`)
	cat, err := NewFileCatalog(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`data_sources: []`), 0o644))
	require.Error(t, cat.Reload())

	_, err = cat.Get("events")
	assert.NoError(t, err)
}

func TestDataSourceEndpoints(t *testing.T) {
	ds := DataSource{
		ID:       "events",
		Category: dialect.CategoryWarehouse,
		Connection: Connection{
			Host:           "warehouse.internal",
			Port:           8123,
			ContainerAlias: "clickhouse",
		},
	}
	assert.Equal(t, []string{
		"http://127.0.0.1:8123",
		"http://warehouse.internal:8123",
		"http://clickhouse:8123",
	}, ds.Endpoints())

	loop := DataSource{Connection: Connection{Host: "127.0.0.1"}}
	assert.Equal(t, []string{"http://127.0.0.1:8123"}, loop.Endpoints(),
		"declared host identical to loopback collapses to one candidate")
}

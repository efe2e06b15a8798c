// Package engines executes SQL against the catalog's data sources.
// All engines implementing the Engine interface automatically benefit from
// parallel initialization and shutdown via Manager.
package engines

import (
	"context"
	"fmt"
	"time"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/dialect"
)

// Result is a normalized query response. RowCount is always recomputed
// locally from the row slice, engines that report their own count are not
// trusted.
type Result struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Elapsed  time.Duration    `json:"elapsed"`
	Source   string           `json:"source"`
	Endpoint string           `json:"endpoint,omitempty"`
}

// Engine executes statements against one data source.
type Engine interface {
	// Execute runs a statement. The context carries cancellation and
	// timeout propagation from HTTP requests.
	Execute(ctx context.Context, statement string) (*Result, error)

	// Dialect reports the SQL dialect the engine speaks.
	Dialect() dialect.Dialect

	// Close closes the engine and releases resources.
	Close() error
}

// NewEngine creates an engine for the data source, selected by its
// effective dialect.
func NewEngine(ctx context.Context, ds catalog.DataSource) (Engine, error) {
	switch d := ds.EffectiveDialect(); d {
	case dialect.ClickHouse:
		return NewClickHouseEngine(ds), nil
	case dialect.Postgres:
		return NewPostgresEngine(ctx, ds)
	case dialect.MySQL:
		return NewMySQLEngine(ds)
	case dialect.DuckDB:
		return NewDuckDBEngine(ds)
	default:
		return nil, fmt.Errorf("unsupported dialect '%s' for data source '%s'", d, ds.ID)
	}
}

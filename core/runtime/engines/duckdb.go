package engines

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/dialect"
)

// DuckDBEngine executes SQL against a local DuckDB file. An empty path
// opens an in-memory database.
type DuckDBEngine struct {
	source string
	db     *sql.DB
}

// NewDuckDBEngine opens and pings the database file.
func NewDuckDBEngine(ds catalog.DataSource) (*DuckDBEngine, error) {
	db, err := sql.Open("duckdb", ds.Connection.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb database: %w", err)
	}

	return &DuckDBEngine{source: ds.ID, db: db}, nil
}

// Execute executes a SQL statement against DuckDB with context support.
func (d *DuckDBEngine) Execute(ctx context.Context, statement string) (*Result, error) {
	start := time.Now()
	rows, err := d.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, results, err := scanRows(rows)
	if err != nil {
		return nil, err
	}

	return &Result{
		Columns:  columns,
		Rows:     results,
		RowCount: len(results),
		Elapsed:  time.Since(start),
		Source:   d.source,
	}, nil
}

// Dialect reports the SQL dialect the engine speaks.
func (d *DuckDBEngine) Dialect() dialect.Dialect { return dialect.DuckDB }

// Close closes the database connection.
func (d *DuckDBEngine) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// scanRows drains a database/sql row set into column names and row maps.
// []byte values become strings for better JSON serialization.
func scanRows(rows *sql.Rows) ([]string, []map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any)
		for i, col := range columns {
			val := values[i]
			if b, ok := val.([]byte); ok {
				rowMap[col] = string(b)
			} else {
				rowMap[col] = val
			}
		}
		results = append(results, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return columns, results, nil
}

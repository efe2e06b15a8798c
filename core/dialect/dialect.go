// Package dialect captures the SQL capability profile of each supported
// engine and rewrites or annotates statements to fit it.
package dialect

// Dialect identifies the SQL capability profile of a query engine.
type Dialect string

const (
	ClickHouse Dialect = "clickhouse"
	Postgres   Dialect = "postgres"
	MySQL      Dialect = "mysql"
	DuckDB     Dialect = "duckdb"
)

// Category groups data sources by how they are reached; it decides the
// default dialect when a source declares none.
type Category string

const (
	// CategoryWarehouse is an HTTP-queryable column store.
	CategoryWarehouse Category = "warehouse"
	// CategoryDatabase is a row-store reached over a SQL driver.
	CategoryDatabase Category = "database"
	// CategoryFile is an embedded analytical engine over local files.
	CategoryFile Category = "file"
)

// Resolve returns the effective dialect. Explicit declarations win; the
// category default applies otherwise.
func Resolve(declared Dialect, category Category) Dialect {
	if declared != "" {
		return declared
	}
	switch category {
	case CategoryWarehouse:
		return ClickHouse
	case CategoryFile:
		return DuckDB
	default:
		return Postgres
	}
}

// SupportsWindowFunctions reports whether ranking and offset window
// functions may be sent to this dialect. The column-store profile forbids
// them; the recovery path must rewrite such statements.
func (d Dialect) SupportsWindowFunctions() bool {
	return d != ClickHouse
}

// Valid reports whether d is one of the known dialects.
func (d Dialect) Valid() bool {
	switch d {
	case ClickHouse, Postgres, MySQL, DuckDB:
		return true
	}
	return false
}

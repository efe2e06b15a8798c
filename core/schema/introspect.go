package schema

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/querymend/querymend/core/dialect"
)

// Querier runs one read-only statement against a data source. The runtime
// engines satisfy it.
type Querier interface {
	Query(ctx context.Context, statement string) ([]map[string]any, error)
}

type catalogQueries struct {
	columns  string
	rowCount string
}

var introspection = map[dialect.Dialect]catalogQueries{
	dialect.Postgres: {
		columns: `SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = 'public'
ORDER BY table_name, ordinal_position`,
		rowCount: `SELECT relname AS table_name, n_live_tup AS row_count FROM pg_stat_user_tables`,
	},
	dialect.MySQL: {
		columns: `SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = DATABASE()
ORDER BY table_name, ordinal_position`,
		rowCount: `SELECT table_name, table_rows AS row_count
FROM information_schema.tables
WHERE table_schema = DATABASE()`,
	},
	dialect.ClickHouse: {
		columns: `SELECT table AS table_name, name AS column_name, type AS data_type,
if(startsWith(type, 'Nullable'), 'YES', 'NO') AS is_nullable
FROM system.columns
WHERE database = currentDatabase()
ORDER BY table, position`,
		rowCount: `SELECT name AS table_name, total_rows AS row_count
FROM system.tables
WHERE database = currentDatabase()`,
	},
	dialect.DuckDB: {
		columns: `SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`,
		rowCount: `SELECT table_name, estimated_size AS row_count FROM duckdb_tables()`,
	},
}

// Introspect builds a Snapshot from the source's system catalog. Row counts
// are estimates; a failing row-count query degrades to zero counts rather
// than failing the snapshot.
func Introspect(ctx context.Context, q Querier, d dialect.Dialect) (*Snapshot, error) {
	queries, ok := introspection[d]
	if !ok {
		return nil, fmt.Errorf("no introspection queries for dialect %q", d)
	}

	rows, err := q.Query(ctx, queries.columns)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}

	order := make([]string, 0, 16)
	byTable := make(map[string]*Table)
	for _, row := range rows {
		tableName := asString(row["table_name"])
		if tableName == "" {
			continue
		}
		t, seen := byTable[tableName]
		if !seen {
			t = &Table{Name: tableName}
			byTable[tableName] = t
			order = append(order, tableName)
		}
		t.Columns = append(t.Columns, Column{
			Name:     asString(row["column_name"]),
			Type:     asString(row["data_type"]),
			Nullable: strings.EqualFold(asString(row["is_nullable"]), "YES"),
		})
	}

	if counts, err := q.Query(ctx, queries.rowCount); err == nil {
		for _, row := range counts {
			if t, seen := byTable[asString(row["table_name"])]; seen {
				t.RowCount = asInt64(row["row_count"])
			}
		}
	}

	tables := make([]Table, 0, len(order))
	for _, name := range order {
		tables = append(tables, *byTable[name])
	}
	return NewSnapshot(tables), nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

package schema

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querymend/querymend/core/dialect"
)

type fakeQuerier struct {
	columns   []map[string]any
	rowCounts []map[string]any
	countsErr error
	queries   []string
}

func (f *fakeQuerier) Query(_ context.Context, statement string) ([]map[string]any, error) {
	f.queries = append(f.queries, statement)
	if strings.Contains(statement, "row_count") {
		return f.rowCounts, f.countsErr
	}
	return f.columns, nil
}

func TestIntrospectBuildsSnapshot(t *testing.T) {
	q := &fakeQuerier{
		columns: []map[string]any{
			{"table_name": "users", "column_name": "id", "data_type": "bigint", "is_nullable": "NO"},
			{"table_name": "users", "column_name": "email", "data_type": "text", "is_nullable": "YES"},
			{"table_name": "orders", "column_name": "id", "data_type": "bigint", "is_nullable": "NO"},
		},
		rowCounts: []map[string]any{
			{"table_name": "users", "row_count": int64(42)},
			{"table_name": "orders", "row_count": "10"},
		},
	}

	snap, err := Introspect(context.Background(), q, dialect.Postgres)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len())

	users, ok := snap.Table("users")
	require.True(t, ok)
	assert.Equal(t, int64(42), users.RowCount)
	require.Len(t, users.Columns, 2)
	assert.Equal(t, "id", users.Columns[0].Name)
	assert.False(t, users.Columns[0].Nullable)
	assert.True(t, users.Columns[1].Nullable)

	orders, ok := snap.Table("orders")
	require.True(t, ok)
	assert.Equal(t, int64(10), orders.RowCount, "string counts are parsed")
}

func TestIntrospectDegradesWithoutRowCounts(t *testing.T) {
	q := &fakeQuerier{
		columns: []map[string]any{
			{"table_name": "events", "column_name": "id", "data_type": "UInt64", "is_nullable": "NO"},
		},
		countsErr: errors.New("permission denied"),
	}

	snap, err := Introspect(context.Background(), q, dialect.ClickHouse)
	require.NoError(t, err)

	events, ok := snap.Table("events")
	require.True(t, ok)
	assert.Zero(t, events.RowCount)
}

func TestIntrospectUnknownDialect(t *testing.T) {
	_, err := Introspect(context.Background(), &fakeQuerier{}, dialect.Dialect("oracle"))
	assert.Error(t, err)
}

package schema

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *Snapshot {
	return NewSnapshot([]Table{
		{
			Name: "orders",
			Columns: []Column{
				{Name: "id", Type: "bigint"},
				{Name: "user_id", Type: "bigint"},
				{Name: "amount", Type: "numeric"},
				{Name: "status", Type: "text", Nullable: true},
				{Name: "created_at", Type: "timestamp"},
			},
			RowCount: 1_500_000,
		},
		{
			Name: "users",
			Columns: []Column{
				{Name: "id", Type: "bigint"},
				{Name: "email", Type: "text"},
				{Name: "signup_date", Type: "date"},
			},
			RowCount: 80_000,
		},
		{
			Name: "audit_log",
			Columns: []Column{
				{Name: "id", Type: "bigint"},
				{Name: "payload", Type: "jsonb", Nullable: true},
			},
			RowCount: 9_000_000,
		},
	})
}

func TestBudgetClamping(t *testing.T) {
	assert.Equal(t, 4000, Budget(0), "unknown context window uses the default")
	assert.Equal(t, 3000, Budget(10_000))
	assert.Equal(t, 2000, Budget(4_000), "lower clamp")
	assert.Equal(t, 8000, Budget(100_000), "upper clamp")
}

func TestSelectScoresRelevantTables(t *testing.T) {
	o := NewOptimizer()
	snap := testSnapshot()

	sel := o.Select(snap, "total order amount by user", Intent{Aggregation: "sum"}, 4000)

	require.NotEmpty(t, sel.Tables)
	assert.Equal(t, "orders", sel.Tables[0].Name, "orders must rank first for an order-amount question")
	names := selectedNames(sel)
	assert.Contains(t, names, "users")
	assert.NotContains(t, names, "audit_log", "unrelated tables stay out")
}

func TestSelectRespectsBudget(t *testing.T) {
	o := NewOptimizer()

	// schema far larger than any small budget
	tables := make([]Table, 40)
	for i := range tables {
		cols := make([]Column, 20)
		for j := range cols {
			cols[j] = Column{Name: fmt.Sprintf("metric_%d", j), Type: "double"}
		}
		cols[0] = Column{Name: "id", Type: "bigint"}
		tables[i] = Table{Name: fmt.Sprintf("sales_%d", i), Columns: cols, RowCount: 1000}
	}
	snap := NewSnapshot(tables)

	for _, budget := range []int{60, 150, 500, 2000} {
		sel := o.Select(snap, "sales metrics", Intent{}, budget)
		assert.LessOrEqual(t, sel.EstimatedTokens, budget, "budget %d", budget)
		assert.NotEmpty(t, sel.Tables, "at least one table admitted at budget %d", budget)
	}
}

func TestSelectReducedColumnCap(t *testing.T) {
	o := NewOptimizer()

	cols := make([]Column, 30)
	for j := range cols {
		cols[j] = Column{Name: fmt.Sprintf("col_%d", j), Type: "text"}
	}
	cols[0] = Column{Name: "id", Type: "bigint"}
	cols[1] = Column{Name: "revenue", Type: "numeric"}
	snap := NewSnapshot([]Table{{Name: "revenue_wide", Columns: cols, RowCount: 10}})

	// full width costs 12+6*30=192; the reduced cap fits
	sel := o.Select(snap, "revenue", Intent{Aggregation: "sum"}, 100)

	require.Len(t, sel.Tables, 1)
	st := sel.Tables[0]
	assert.True(t, st.Truncated)
	assert.LessOrEqual(t, len(st.Columns), reducedColumnCap)
	assert.LessOrEqual(t, sel.EstimatedTokens, 100)

	colNames := make([]string, 0, len(st.Columns))
	for _, c := range st.Columns {
		colNames = append(colNames, c.Name)
	}
	assert.Contains(t, colNames, "revenue", "keyword-matched column survives the cap")
	assert.Contains(t, colNames, "id", "key columns survive the cap")
}

func TestSelectAlwaysAdmitsTopScorer(t *testing.T) {
	o := NewOptimizer()
	snap := testSnapshot()

	// too small even for the reduced cap (12+6*5=42)
	sel := o.Select(snap, "orders", Intent{}, 30)

	require.Len(t, sel.Tables, 1)
	assert.Equal(t, "orders", sel.Tables[0].Name)
	assert.LessOrEqual(t, sel.EstimatedTokens, 30)
}

func TestSelectEmptyWhenNothingScores(t *testing.T) {
	o := NewOptimizer()
	snap := testSnapshot()

	sel := o.Select(snap, "quarterly weather forecast", Intent{}, 4000)
	assert.Empty(t, sel.Tables)
	assert.Zero(t, sel.EstimatedTokens)
}

func TestForeignKeyInference(t *testing.T) {
	o := NewOptimizer()
	snap := testSnapshot()

	sel := o.Select(snap, "order amount per user email", Intent{}, 4000)

	require.NotEmpty(t, sel.ForeignKeys)
	fk := sel.ForeignKeys[0]
	assert.Equal(t, "orders", fk.FromTable)
	assert.Equal(t, "user_id", fk.FromColumn)
	assert.Equal(t, "users", fk.ToTable)
}

func TestRenderings(t *testing.T) {
	o := NewOptimizer()
	snap := testSnapshot()
	sel := o.Select(snap, "order amount per user", Intent{}, 4000)

	verbose := sel.RenderVerbose()
	assert.Contains(t, verbose, "Table orders")
	assert.Contains(t, verbose, "amount (numeric, not null)")
	assert.Contains(t, verbose, "orders.user_id -> users")

	compact := sel.RenderCompact()
	for _, line := range strings.Split(compact, "\n") {
		assert.NotEmpty(t, line)
	}
	assert.Contains(t, compact, "orders(")
	assert.Contains(t, compact, "amount:numeric")
}

func selectedNames(sel Selection) []string {
	names := make([]string, 0, len(sel.Tables))
	for _, st := range sel.Tables {
		names = append(names, st.Name)
	}
	return names
}

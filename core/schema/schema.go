// Package schema models the table metadata visible to a pipeline run and
// selects the subset worth spending prompt tokens on.
package schema

import (
	"sort"
	"strings"
)

// Column describes one column of a table.
type Column struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Nullable bool   `json:"nullable" yaml:"nullable"`
}

// Table describes one table with an approximate row count.
type Table struct {
	Name     string   `json:"name" yaml:"name"`
	Columns  []Column `json:"columns" yaml:"columns"`
	RowCount int64    `json:"row_count" yaml:"row_count"`
}

// Snapshot is the full schema visible to one run. It is regenerated per
// query and never mutated after construction.
type Snapshot struct {
	tables []Table
	byName map[string]int
}

// NewSnapshot builds a snapshot; table order is normalized by name so
// renderings are deterministic.
func NewSnapshot(tables []Table) *Snapshot {
	sorted := make([]Table, len(tables))
	copy(sorted, tables)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	byName := make(map[string]int, len(sorted))
	for i, t := range sorted {
		byName[strings.ToLower(t.Name)] = i
	}
	return &Snapshot{tables: sorted, byName: byName}
}

// Tables returns the snapshot's tables in normalized order.
func (s *Snapshot) Tables() []Table {
	return s.tables
}

// Table looks a table up by case-insensitive name.
func (s *Snapshot) Table(name string) (Table, bool) {
	idx, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return Table{}, false
	}
	return s.tables[idx], true
}

// Len returns the number of tables.
func (s *Snapshot) Len() int {
	return len(s.tables)
}

// Intent carries resolved hints about what a question asks for.
type Intent struct {
	Aggregation     string   `json:"aggregation,omitempty"`
	GroupColumns    []string `json:"group_columns,omitempty"`
	TimeGranularity string   `json:"time_granularity,omitempty"`
	FilterCount     int      `json:"filter_count,omitempty"`
}

// numericTypes and timeTypes drive intent boosts during scoring.
var numericTypes = []string{"int", "integer", "bigint", "smallint", "decimal", "numeric", "float", "double", "real", "number"}

var timeTypes = []string{"date", "time", "timestamp", "datetime"}

func isNumericType(t string) bool {
	lower := strings.ToLower(t)
	for _, n := range numericTypes {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func isTimeType(t string) bool {
	lower := strings.ToLower(t)
	for _, n := range timeTypes {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// EstimateTokens approximates the token count of text; one token is roughly
// four characters.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

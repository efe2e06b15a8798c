package schema

import (
	"math"
	"sort"
	"strings"
)

// Token cost model: a rendered table costs a fixed overhead plus a per-column
// overhead, independent of rendering style.
const (
	perTableTokens  = 12
	perColumnTokens = 6

	// reduced column cap applied when a table does not fit at full width
	reducedColumnCap = 5

	defaultBudget  = 4000
	budgetFraction = 0.30
	minBudget      = 2000
	maxBudget      = 8000
)

// Budget derives the schema token budget from the generation model's context
// window: a bounded fraction, clamped. Unknown windows get the default.
func Budget(contextWindow int) int {
	if contextWindow <= 0 {
		return defaultBudget
	}
	b := int(float64(contextWindow) * budgetFraction)
	if b < minBudget {
		b = minBudget
	}
	if b > maxBudget {
		b = maxBudget
	}
	return b
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "get": {}, "give": {}, "has": {},
	"have": {}, "how": {}, "in": {}, "is": {}, "it": {}, "like": {},
	"list": {}, "many": {}, "me": {}, "much": {}, "of": {}, "on": {},
	"or": {}, "over": {}, "per": {}, "show": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "there": {}, "this": {}, "to": {}, "top": {},
	"was": {}, "we": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "who": {}, "with": {},
}

// businessTerms get a small extra weight when they match a table or column.
var businessTerms = map[string]struct{}{
	"revenue": {}, "order": {}, "orders": {}, "user": {}, "users": {},
	"customer": {}, "customers": {}, "sale": {}, "sales": {}, "signup": {},
	"churn": {}, "session": {}, "sessions": {}, "event": {}, "events": {},
	"invoice": {}, "invoices": {}, "payment": {}, "payments": {},
	"product": {}, "products": {}, "subscription": {}, "subscriptions": {},
}

// SelectedTable is one admitted table with its score; Truncated marks the
// reduced column cap.
type SelectedTable struct {
	Table
	Score     float64 `json:"score"`
	Truncated bool    `json:"truncated,omitempty"`
}

// ForeignKey is a naive name-pattern inference, not a constraint lookup.
type ForeignKey struct {
	FromTable  string `json:"from_table"`
	FromColumn string `json:"from_column"`
	ToTable    string `json:"to_table"`
}

// Selection is the budget-bounded subset of a snapshot.
type Selection struct {
	Tables          []SelectedTable    `json:"tables"`
	Scores          map[string]float64 `json:"-"`
	ForeignKeys     []ForeignKey       `json:"foreign_keys,omitempty"`
	EstimatedTokens int                `json:"estimated_tokens"`
	Budget          int                `json:"budget"`
}

// Optimizer scores tables against a question and admits them greedily under
// a token budget.
type Optimizer struct{}

// NewOptimizer constructs an Optimizer.
func NewOptimizer() *Optimizer {
	return &Optimizer{}
}

// Select scores every table in the snapshot and greedily admits the best
// ones while their estimated cost fits budget. Tables that do not fit at
// full width are retried at a reduced column cap before being skipped. When
// anything scored above zero, at least one table is admitted. The estimated
// cost of the result never exceeds budget.
func (o *Optimizer) Select(snap *Snapshot, question string, intent Intent, budget int) Selection {
	if budget <= 0 {
		budget = defaultBudget
	}

	keywords := extractKeywords(question)
	for _, g := range intent.GroupColumns {
		keywords = append(keywords, strings.ToLower(g))
	}

	scores := make(map[string]float64, snap.Len())
	for _, t := range snap.Tables() {
		scores[t.Name] = o.scoreTable(t, keywords, intent)
	}

	ranked := make([]Table, 0, snap.Len())
	for _, t := range snap.Tables() {
		if scores[t.Name] > 0 {
			ranked = append(ranked, t)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i].Name], scores[ranked[j].Name]
		if si != sj {
			return si > sj
		}
		return ranked[i].Name < ranked[j].Name
	})

	sel := Selection{Scores: scores, Budget: budget}
	spent := 0
	for _, t := range ranked {
		cost := tableCost(len(t.Columns))
		if spent+cost <= budget {
			sel.Tables = append(sel.Tables, SelectedTable{Table: t, Score: scores[t.Name]})
			spent += cost
			continue
		}
		if len(t.Columns) > reducedColumnCap {
			capped := o.capColumns(t, keywords, intent, reducedColumnCap)
			cost = tableCost(len(capped.Columns))
			if spent+cost <= budget {
				sel.Tables = append(sel.Tables, SelectedTable{Table: capped, Score: scores[t.Name], Truncated: true})
				spent += cost
			}
		}
	}

	// the best-scored table is always worth admitting, capped to whatever
	// column count still fits
	if len(sel.Tables) == 0 && len(ranked) > 0 {
		top := ranked[0]
		maxCols := (budget - perTableTokens) / perColumnTokens
		if maxCols > 0 {
			if maxCols > len(top.Columns) {
				maxCols = len(top.Columns)
			}
			capped := o.capColumns(top, keywords, intent, maxCols)
			sel.Tables = append(sel.Tables, SelectedTable{
				Table:     capped,
				Score:     scores[top.Name],
				Truncated: maxCols < len(top.Columns),
			})
			spent += tableCost(len(capped.Columns))
		}
	}

	sel.EstimatedTokens = spent
	sel.ForeignKeys = inferForeignKeys(snap, sel.Tables)
	return sel
}

func tableCost(columns int) int {
	return perTableTokens + perColumnTokens*columns
}

// scoreTable weighs keyword overlap with the table name and its columns,
// boosted by intent signals and slightly by table size.
func (o *Optimizer) scoreTable(t Table, keywords []string, intent Intent) float64 {
	name := strings.ToLower(t.Name)
	score := 0.0

	for _, kw := range keywords {
		if tokenMatch(name, kw) {
			score += 3.0
			if _, ok := businessTerms[kw]; ok {
				score += 0.5
			}
		}
	}
	for _, col := range t.Columns {
		colName := strings.ToLower(col.Name)
		for _, kw := range keywords {
			if tokenMatch(colName, kw) {
				score += 1.0
				if _, ok := businessTerms[kw]; ok {
					score += 0.5
				}
				break
			}
		}
	}

	if score == 0 {
		return 0
	}

	if intent.Aggregation != "" {
		numeric := 0
		for _, col := range t.Columns {
			if isNumericType(col.Type) {
				numeric++
			}
		}
		score += math.Min(1.0, 0.2*float64(numeric))
	}
	if intent.TimeGranularity != "" {
		times := 0
		for _, col := range t.Columns {
			if isTimeType(col.Type) {
				times++
			}
		}
		score += math.Min(1.0, 0.2*float64(times))
	}

	// log-scaled row count nudges bigger fact tables above empty lookalikes
	score *= 1.0 + math.Log10(float64(t.RowCount)+1.0)/10.0
	return score
}

// capColumns keeps the n most relevant columns, preserving original order.
func (o *Optimizer) capColumns(t Table, keywords []string, intent Intent, n int) Table {
	if len(t.Columns) <= n {
		return t
	}

	type scored struct {
		idx   int
		score float64
	}
	cols := make([]scored, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = scored{idx: i, score: o.scoreColumn(col, keywords, intent)}
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].score > cols[j].score })

	keep := cols[:n]
	sort.Slice(keep, func(i, j int) bool { return keep[i].idx < keep[j].idx })

	capped := t
	capped.Columns = make([]Column, 0, n)
	for _, c := range keep {
		capped.Columns = append(capped.Columns, t.Columns[c.idx])
	}
	return capped
}

func (o *Optimizer) scoreColumn(col Column, keywords []string, intent Intent) float64 {
	name := strings.ToLower(col.Name)
	score := 0.0
	for _, kw := range keywords {
		if tokenMatch(name, kw) {
			score += 2.0
		}
	}
	// keys survive truncation so joins stay expressible
	if name == "id" || strings.HasSuffix(name, "_id") {
		score += 1.5
	}
	if intent.Aggregation != "" && isNumericType(col.Type) {
		score += 0.5
	}
	if intent.TimeGranularity != "" && isTimeType(col.Type) {
		score += 0.5
	}
	return score
}

// tokenMatch reports whether kw matches name directly or as a singular stem.
func tokenMatch(name, kw string) bool {
	if strings.Contains(name, kw) {
		return true
	}
	stem := strings.TrimSuffix(kw, "s")
	return len(stem) > 2 && strings.Contains(name, stem)
}

// extractKeywords lowercases, splits on non-word runes and drops stop words
// and short tokens.
func extractKeywords(question string) []string {
	fields := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '_'
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// inferForeignKeys applies the <table>_id naming convention against the full
// snapshot, so references out of the selection still resolve.
func inferForeignKeys(snap *Snapshot, selected []SelectedTable) []ForeignKey {
	var fks []ForeignKey
	for _, st := range selected {
		for _, col := range st.Columns {
			name := strings.ToLower(col.Name)
			if !strings.HasSuffix(name, "_id") || name == "_id" {
				continue
			}
			base := strings.TrimSuffix(name, "_id")
			for _, candidate := range []string{base, base + "s", base + "es"} {
				if ref, ok := snap.Table(candidate); ok {
					fks = append(fks, ForeignKey{
						FromTable:  st.Name,
						FromColumn: col.Name,
						ToTable:    ref.Name,
					})
					break
				}
			}
		}
	}
	return fks
}

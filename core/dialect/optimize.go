package dialect

import (
	"regexp"
	"strings"
)

// Tag labels one applied or suggested optimization.
type Tag string

const (
	// TagWindowBlocked marks window usage the dialect cannot execute; it is
	// the only correctness-relevant tag and demands a rewrite.
	TagWindowBlocked Tag = "window_functions_blocked"
	// TagWindowStripped marks a mechanical window-clause removal.
	TagWindowStripped Tag = "window_functions_stripped"
	// TagMissingLimit suggests bounding a non-aggregated select.
	TagMissingLimit Tag = "missing_limit"
	// TagSelectStar suggests naming columns instead of *.
	TagSelectStar Tag = "select_star"
	// TagIndexableFilter marks an equality filter that an index would serve.
	TagIndexableFilter Tag = "indexable_filter"
)

// Estimate grades the expected improvement if all suggestions are applied.
type Estimate string

const (
	EstimateNone   Estimate = "none"
	EstimateLow    Estimate = "low"
	EstimateMedium Estimate = "medium"
	EstimateHigh   Estimate = "high"
)

// Result carries the possibly-rewritten SQL and what was found. Blocked is
// set when window constructs remain on a dialect that cannot run them.
type Result struct {
	SQL      string
	Dialect  Dialect
	Tags     []Tag
	Estimate Estimate
	Blocked  bool
}

var (
	rankingFuncRe = regexp.MustCompile(`(?i)\b(lag|lead|row_number|rank)\s*\(`)
	overClauseRe  = regexp.MustCompile(`(?i)\bOVER\s*\(`)
	selectStarRe  = regexp.MustCompile(`(?i)\bSELECT\s+(?:\w+\.)?\*`)
	limitRe       = regexp.MustCompile(`(?i)\bLIMIT\s+\d`)
	aggregateRe   = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max)\s*\(`)
	groupByRe     = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)
	eqFilterRe    = regexp.MustCompile(`(?i)\bWHERE\s+[a-z_][\w.]*\s*=\s*`)
)

// Optimizer annotates SQL for a target dialect.
type Optimizer struct{}

// NewOptimizer constructs an Optimizer.
func NewOptimizer() *Optimizer {
	return &Optimizer{}
}

// Optimize scans sql for constructs the dialect forbids and for generic
// performance smells. The statement itself is never modified here; blocking
// findings must be resolved by the recovery path before execution.
func (o *Optimizer) Optimize(sql string, d Dialect) Result {
	res := Result{SQL: sql, Dialect: d, Estimate: EstimateNone}

	if !d.SupportsWindowFunctions() && len(ScanWindowFunctions(sql)) > 0 {
		res.Tags = append(res.Tags, TagWindowBlocked)
		res.Blocked = true
	}

	advisory := 0
	if selectStarRe.MatchString(sql) {
		res.Tags = append(res.Tags, TagSelectStar)
		advisory++
	}
	if !limitRe.MatchString(sql) && !aggregateRe.MatchString(sql) && !groupByRe.MatchString(sql) {
		res.Tags = append(res.Tags, TagMissingLimit)
		advisory++
	}
	if eqFilterRe.MatchString(sql) {
		res.Tags = append(res.Tags, TagIndexableFilter)
		advisory++
	}

	switch {
	case res.Blocked:
		res.Estimate = EstimateHigh
	case advisory >= 2:
		res.Estimate = EstimateMedium
	case advisory == 1:
		res.Estimate = EstimateLow
	}
	return res
}

// ScanWindowFunctions returns the names of ranking functions and bare OVER
// clauses found in sql, in order of appearance.
func ScanWindowFunctions(sql string) []string {
	var found []string
	for _, m := range rankingFuncRe.FindAllStringSubmatch(sql, -1) {
		found = append(found, strings.ToLower(m[1]))
	}
	if overClauseRe.MatchString(sql) {
		found = append(found, "over")
	}
	return found
}

// StripWindowFunctions mechanically removes window constructs as a last
// resort when rewrites keep failing: ranking calls collapse to their first
// argument (or NULL when they have none) and remaining OVER clauses are
// dropped, keeping the windowed expression itself.
func StripWindowFunctions(sql string) string {
	out := sql
	for {
		loc := rankingFuncRe.FindStringIndex(out)
		if loc == nil {
			break
		}
		argsStart := strings.IndexByte(out[loc[0]:], '(') + loc[0]
		argsEnd := matchParen(out, argsStart)
		if argsEnd < 0 {
			break
		}
		replacement := firstArgument(out[argsStart+1 : argsEnd])
		tail := out[argsEnd+1:]
		if stripped, ok := stripLeadingOver(tail); ok {
			tail = stripped
		}
		out = out[:loc[0]] + replacement + tail
	}

	// any remaining OVER clause belongs to an aggregate; drop the clause
	for {
		loc := overClauseRe.FindStringIndex(out)
		if loc == nil {
			break
		}
		openIdx := strings.IndexByte(out[loc[0]:], '(') + loc[0]
		closeIdx := matchParen(out, openIdx)
		if closeIdx < 0 {
			break
		}
		out = strings.TrimRight(out[:loc[0]], " \t") + out[closeIdx+1:]
	}
	return out
}

// stripLeadingOver removes an OVER (...) clause at the head of tail.
func stripLeadingOver(tail string) (string, bool) {
	trimmed := strings.TrimLeft(tail, " \t\r\n")
	if !overClauseRe.MatchString(trimmed) {
		return tail, false
	}
	loc := overClauseRe.FindStringIndex(trimmed)
	if loc[0] != 0 {
		return tail, false
	}
	openIdx := strings.IndexByte(trimmed, '(')
	closeIdx := matchParen(trimmed, openIdx)
	if closeIdx < 0 {
		return tail, false
	}
	return trimmed[closeIdx+1:], true
}

// matchParen returns the index of the parenthesis closing the one at open,
// or -1. Quoted literals are skipped.
func matchParen(s string, open int) int {
	depth := 0
	var quote byte
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' && i+1 < len(s) {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// firstArgument returns the first top-level argument of an argument list, or
// NULL when the list is empty.
func firstArgument(args string) string {
	depth := 0
	var quote byte
	for i := 0; i < len(args); i++ {
		c := args[i]
		if quote != 0 {
			if c == '\\' && i+1 < len(args) {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				args = args[:i]
				i = len(args)
			}
		}
	}
	arg := strings.TrimSpace(args)
	if arg == "" {
		return "NULL"
	}
	return arg
}

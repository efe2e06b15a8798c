// Package sanitize extracts an executable SQL statement from raw generator
// output, which may arrive wrapped in a serialized object, followed by format
// directives, or corrupted by repeated-token noise. Sanitization is
// idempotent: running it over its own output is a no-op.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies why sanitization failed.
type Kind string

const (
	// KindNoStatement means no statement-start keyword was found in the input.
	KindNoStatement Kind = "no_statement_found"
	// KindTemplate means the statement contains unfilled placeholder tokens.
	// Repairing the text cannot help; the caller must regenerate.
	KindTemplate Kind = "template_detected"
	// KindSyntax means the statement stayed structurally broken after repair.
	KindSyntax Kind = "syntax_error"
)

const excerptLimit = 160

// Error reports a sanitization failure with a bounded excerpt of the input.
type Error struct {
	Kind    Kind
	Excerpt string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sanitize: %s (%q)", e.Kind, e.Excerpt)
}

func newError(kind Kind, input string) *Error {
	excerpt := strings.TrimSpace(input)
	if len(excerpt) > excerptLimit {
		excerpt = excerpt[:excerptLimit]
	}
	return &Error{Kind: kind, Excerpt: excerpt}
}

// statement-start keywords, longest match first
var statementStarts = []string{"WITH", "SELECT"}

// artifactPatterns match serialization debris that marks the end of the
// statement when seen at parenthesis depth zero outside string literals.
var artifactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^"\s*[,}\]]`),              // closing envelope quote then delimiter
	regexp.MustCompile(`^"\s*$`),                   // closing envelope quote at end
	regexp.MustCompile(`^\s*[}\]]`),                // bare brace or bracket debris
	regexp.MustCompile("^\\s*```"),                 // markdown fence
	regexp.MustCompile(`(?i)^\s+FORMAT\s+\w+\s*$`), // trailing output-format directive
}

// templatePatterns match placeholder tokens a generator emits when it never
// bound real table or column names.
var templatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`<[A-Za-z_][A-Za-z0-9_ ]*>`),
	regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_:]*\}`),
	regexp.MustCompile(`(?i)\byour_(table|column|database|schema|condition)\b`),
	regexp.MustCompile(`(?i)\b(table_name|column_name|condition_here|value_here)\b`),
}

var (
	looseStatementRe = regexp.MustCompile(`(?is)\b(?:SELECT|WITH)\b.*\bFROM\s+[A-Za-z_][A-Za-z0-9_.]*`)
	formatSuffixRe   = regexp.MustCompile(`(?i)\s+FORMAT\s+\w+\s*$`)
	fenceOpenRe      = regexp.MustCompile("(?i)^```(?:sql)?\\s*")
	fenceCloseRe     = regexp.MustCompile("\\s*```$")
)

// Sanitizer extracts clean SQL from noisy generator output.
type Sanitizer struct {
	// maximum parentheses added or trimmed during repair
	maxParenRepair int
}

// New constructs a Sanitizer with default repair bounds.
func New() *Sanitizer {
	return &Sanitizer{maxParenRepair: 2}
}

// Sanitize returns the extracted SQL statement or an *Error describing why
// none could be produced. Pass order is fixed: extract, collapse repeated
// tokens, strip serialization artifacts, normalize whitespace, repair
// parentheses, then reject templates and unbalanced output.
func (s *Sanitizer) Sanitize(raw string) (string, error) {
	start := findStatementStart(raw)
	if start < 0 {
		return "", newError(KindNoStatement, raw)
	}

	candidate, ok := scanStatement(raw[start:])
	if !ok {
		if loose := looseStatementRe.FindString(raw[start:]); loose != "" {
			candidate = loose
		} else {
			candidate = raw[start:]
		}
	}

	cleaned := mapPlain(candidate, collapseRuns)
	cleaned = mapPlain(cleaned, collapseWordRuns)
	cleaned = s.stripArtifacts(cleaned)
	cleaned = normalizeWhitespace(cleaned)
	cleaned = s.repairParens(cleaned)

	if cleaned == "" {
		return "", newError(KindNoStatement, raw)
	}
	if containsTemplate(cleaned) {
		return "", newError(KindTemplate, cleaned)
	}
	if parenBalance(cleaned) != 0 {
		return "", newError(KindSyntax, cleaned)
	}
	return cleaned, nil
}

var cteStartRe = regexp.MustCompile(`(?i)^WITH\s+(?:RECURSIVE\s+)?[A-Za-z_]\w*\s+AS\s*\(`)

// findStatementStart returns the byte offset of the earliest statement-start
// keyword at a word boundary, or -1. A WITH only counts when it opens a real
// CTE; prose uses the word too often.
func findStatementStart(s string) int {
	upper := strings.ToUpper(s)
	best := -1
	for _, kw := range statementStarts {
		from := 0
		for {
			idx := strings.Index(upper[from:], kw)
			if idx < 0 {
				break
			}
			pos := from + idx
			if isWordBoundary(upper, pos, len(kw)) && (kw != "WITH" || cteStartRe.MatchString(s[pos:])) {
				if best < 0 || pos < best {
					best = pos
				}
				break
			}
			from = pos + 1
		}
	}
	return best
}

func isWordBoundary(s string, pos, width int) bool {
	if pos > 0 && isWordChar(s[pos-1]) {
		return false
	}
	end := pos + width
	if end < len(s) && isWordChar(s[end]) {
		return false
	}
	return true
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// scanStatement walks s tracking parenthesis, bracket and brace depth plus
// quoted-literal state, and cuts at the first depth-zero position where the
// remaining text matches an artifact pattern. Cutting at the first artifact
// without depth tracking would truncate statements containing parenthesized
// sub-selects. Returns ok=false when the scan ends inside a literal or at
// unbalanced depth without finding a boundary.
func scanStatement(s string) (string, bool) {
	depth := 0   // ( )
	bracket := 0 // [ ]
	brace := 0   // { }
	var quote byte

	i := 0
	for i < len(s) {
		c := s[i]
		if quote != 0 {
			if c == '\\' && i+1 < len(s) {
				i += 2
				continue
			}
			if c == quote {
				if i+1 < len(s) && s[i+1] == quote {
					i += 2
					continue
				}
				quote = 0
			}
			i++
			continue
		}

		if depth == 0 && bracket == 0 && brace == 0 && i > 0 {
			if matchesArtifact(s[i:]) {
				return s[:i], true
			}
		}

		switch {
		case isQuote(c):
			quote = c
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '[':
			bracket++
		case c == ']':
			bracket--
		case c == '{':
			brace++
		case c == '}':
			brace--
		}
		i++
	}

	if quote != 0 || depth != 0 {
		return "", false
	}
	return s, true
}

func matchesArtifact(tail string) bool {
	for _, re := range artifactPatterns {
		if re.MatchString(tail) {
			return true
		}
	}
	return false
}

// collapseRuns removes contiguous periodic corruption: any unit of 2..8
// bytes repeated three or more times back-to-back collapses to a single
// occurrence, so noise like "idididid" folds back into the identifier.
func collapseRuns(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		collapsed := false
		for unit := 2; unit <= 8 && i+unit*3 <= len(s); unit++ {
			pat := s[i : i+unit]
			reps := 1
			for j := i + unit; j+unit <= len(s) && strings.HasPrefix(s[j:], pat); j += unit {
				reps++
			}
			if reps >= 3 {
				b.WriteString(pat)
				i += unit * reps
				collapsed = true
				break
			}
		}
		if !collapsed {
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}

// collapseWordRuns folds three or more identical consecutive words into one.
// The original spacing is kept when nothing collapses.
func collapseWordRuns(s string) string {
	words := strings.Fields(s)
	if len(words) < 3 {
		return s
	}
	out := make([]string, 0, len(words))
	run := 1
	for i, w := range words {
		if i > 0 && w == words[i-1] {
			run++
		} else {
			run = 1
		}
		if run >= 3 {
			continue
		}
		if run == 2 {
			// hold the second copy until we know the run length
			if i+1 < len(words) && words[i+1] == w {
				continue
			}
		}
		out = append(out, w)
	}
	if len(out) == len(words) {
		return s
	}
	lead := s[:len(s)-len(strings.TrimLeft(s, " \t\r\n"))]
	trail := s[len(strings.TrimRight(s, " \t\r\n")):]
	return lead + strings.Join(out, " ") + trail
}

// stripArtifacts trims residual serialization debris from both ends:
// markdown fences, trailing FORMAT directives, unmatched envelope braces,
// dangling quotes and statement terminators. Matched brackets and braces are
// left alone so array subscripts survive.
func (s *Sanitizer) stripArtifacts(sql string) string {
	for {
		prev := sql
		sql = strings.TrimSpace(sql)
		sql = fenceOpenRe.ReplaceAllString(sql, "")
		sql = fenceCloseRe.ReplaceAllString(sql, "")
		sql = formatSuffixRe.ReplaceAllString(sql, "")
		sql = strings.TrimRight(sql, " \t\r\n")
	trim:
		for len(sql) > 0 {
			last := sql[len(sql)-1]
			switch {
			case last == ',' || last == ';':
			case last == '}' && strings.Count(sql, "}") > strings.Count(sql, "{"):
			case last == ']' && strings.Count(sql, "]") > strings.Count(sql, "["):
			case last == '"' && strings.Count(sql, `"`)%2 == 1:
			case last == '`' && strings.Count(sql, "`")%2 == 1:
			default:
				break trim
			}
			sql = strings.TrimRight(sql[:len(sql)-1], " \t\r\n")
		}
		if sql == prev {
			return sql
		}
	}
}

// normalizeWhitespace collapses whitespace runs outside string literals to a
// single space; line breaks inside literals are preserved.
func normalizeWhitespace(sql string) string {
	collapsed := mapPlain(sql, func(plain string) string {
		return strings.Join(strings.Fields(plain), " ")
	})
	return strings.TrimSpace(collapsed)
}

// repairParens fixes a small imbalance by trimming trailing closers or
// appending missing ones, up to the configured bound. Larger imbalances are
// left for the final balance check to reject.
func (s *Sanitizer) repairParens(sql string) string {
	balance := parenBalance(sql)
	if balance == 0 {
		return sql
	}
	if balance < 0 && -balance <= s.maxParenRepair {
		for balance < 0 && strings.HasSuffix(sql, ")") {
			sql = strings.TrimRight(strings.TrimSuffix(sql, ")"), " \t")
			balance++
		}
		return sql
	}
	if balance > 0 && balance <= s.maxParenRepair {
		return sql + strings.Repeat(")", balance)
	}
	return sql
}

func containsTemplate(sql string) bool {
	found := false
	mapPlain(sql, func(plain string) string {
		if !found {
			for _, re := range templatePatterns {
				if re.MatchString(plain) {
					found = true
					break
				}
			}
		}
		return plain
	})
	return found
}

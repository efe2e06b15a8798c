package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeExtractsFromSerializedEnvelope(t *testing.T) {
	s := New()

	got, err := s.Sanitize(`"sql_query": "SELECT a, b FROM t" } ] } FORMAT X`)
	require.NoError(t, err)
	assert.Equal(t, "SELECT a, b FROM t", got)
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "clean statement untouched",
			input: "SELECT id, name FROM users WHERE active = true",
			want:  "SELECT id, name FROM users WHERE active = true",
		},
		{
			name:  "markdown fence",
			input: "```sql\nSELECT 1 FROM t\n```",
			want:  "SELECT 1 FROM t",
		},
		{
			name:  "prose before statement",
			input: "Here is the query you asked for: SELECT id FROM orders LIMIT 10",
			want:  "SELECT id FROM orders LIMIT 10",
		},
		{
			name:  "trailing format directive",
			input: "SELECT a FROM t FORMAT JSONEachRow",
			want:  "SELECT a FROM t",
		},
		{
			name:  "json object wrapper",
			input: `{"sql": "SELECT count(*) FROM events WHERE day >= '2024-01-01'", "notes": "x"}`,
			want:  "SELECT count(*) FROM events WHERE day >= '2024-01-01'",
		},
		{
			name:  "subselect not truncated at inner artifact depth",
			input: "SELECT a FROM (SELECT b FROM t WHERE x IN (1,2)) q } ]",
			want:  "SELECT a FROM (SELECT b FROM t WHERE x IN (1,2)) q",
		},
		{
			name:  "with clause recognized as start",
			input: `noise { WITH top AS (SELECT id FROM t) SELECT * FROM top"}`,
			want:  "WITH top AS (SELECT id FROM t) SELECT * FROM top",
		},
		{
			name:  "trailing semicolon dropped",
			input: "SELECT id FROM t;",
			want:  "SELECT id FROM t",
		},
		{
			name:  "array subscript survives",
			input: "SELECT tags[1] FROM posts",
			want:  "SELECT tags[1] FROM posts",
		},
		{
			name:  "missing close paren repaired",
			input: "SELECT count(*) FROM (SELECT id FROM t",
			want:  "SELECT count(*) FROM (SELECT id FROM t)",
		},
		{
			name:  "repeated word run collapsed",
			input: "SELECT SELECT SELECT id FROM t",
			want:  "SELECT id FROM t",
		},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Sanitize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{
		"SELECT id, name FROM users WHERE active = true",
		`"sql_query": "SELECT a, b FROM t" } ] } FORMAT X`,
		"```sql\nSELECT x FROM y WHERE note = 'keep  spacing'\n```",
		"SELECT user_idididid FROM orders",
		"SELECT a FROM (SELECT b FROM t) q } ]",
		"SELECT 'brace } inside' AS v, tags[1] FROM t",
		"WITH c AS (SELECT 1) SELECT * FROM c;;",
		"SELECT count(*) FROM (SELECT id FROM t",
	}

	s := New()
	for _, input := range inputs {
		first, err := s.Sanitize(input)
		require.NoError(t, err, "input %q", input)
		second, err := s.Sanitize(first)
		require.NoError(t, err, "re-sanitizing %q", first)
		assert.Equal(t, first, second, "sanitize must be a fixpoint for %q", input)
	}
}

func TestSanitizeCollapsesRepeatedTokenRuns(t *testing.T) {
	s := New()

	got, err := s.Sanitize("SELECT user_idididid FROM orders")
	require.NoError(t, err)
	assert.Equal(t, "SELECT user_id FROM orders", got)

	// no unit of 2..8 bytes may repeat three or more times in the output
	for unit := 2; unit <= 8; unit++ {
		for i := 0; i+unit*3 <= len(got); i++ {
			pat := got[i : i+unit]
			assert.False(t,
				strings.HasPrefix(got[i+unit:], pat) && strings.HasPrefix(got[i+unit*2:], pat),
				"run of %q remains at %d", pat, i)
		}
	}
}

func TestSanitizeParenthesisInvariant(t *testing.T) {
	s := New()

	// every successful output is balanced
	for _, input := range []string{
		"SELECT count(*) FROM (SELECT id FROM t",
		"SELECT a FROM t WHERE x IN (1,2))",
		"SELECT (a + (b * c)) FROM t",
	} {
		got, err := s.Sanitize(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, 0, parenBalance(got), "unbalanced output for %q", input)
	}

	// beyond the repair bound the failure is explicit
	_, err := s.Sanitize("SELECT a FROM t WHERE x IN ((((1")
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindSyntax, serr.Kind)
}

func TestSanitizeRejectsTemplates(t *testing.T) {
	s := New()

	for _, input := range []string{
		"SELECT * FROM table_name WHERE id = 1",
		"SELECT <columns> FROM users",
		"SELECT id FROM {table} LIMIT 5",
		"SELECT * FROM your_table",
	} {
		_, err := s.Sanitize(input)
		var serr *Error
		require.ErrorAs(t, err, &serr, "input %q", input)
		assert.Equal(t, KindTemplate, serr.Kind, "input %q", input)
	}

	// placeholder-looking text inside a string literal is data, not a template
	got, err := s.Sanitize("SELECT id FROM t WHERE note = '<none>'")
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM t WHERE note = '<none>'", got)
}

func TestSanitizeNoStatementFound(t *testing.T) {
	s := New()

	for _, input := range []string{
		"I cannot answer that question.",
		"",
		"{\"error\": \"model refused\"}",
	} {
		_, err := s.Sanitize(input)
		var serr *Error
		require.ErrorAs(t, err, &serr, "input %q", input)
		assert.Equal(t, KindNoStatement, serr.Kind)
	}
}

func TestSanitizePreservesLiterals(t *testing.T) {
	s := New()

	got, err := s.Sanitize("SELECT 'line1\nline2' AS v,\n   x FROM y")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 'line1\nline2' AS v, x FROM y", got)

	got, err = s.Sanitize("SELECT 'a } b' AS x FROM t } }")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 'a } b' AS x FROM t", got)
}

func TestSanitizeErrorExcerptBounded(t *testing.T) {
	s := New()

	_, err := s.Sanitize(strings.Repeat("no sql here ", 100))
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.LessOrEqual(t, len(serr.Excerpt), excerptLimit)
}

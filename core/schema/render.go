package schema

import (
	"fmt"
	"strings"
)

// RenderVerbose renders the selection as a structured block, one table per
// paragraph, suitable for prompts with room to spare.
func (sel Selection) RenderVerbose() string {
	var b strings.Builder
	for i, st := range sel.Tables {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Table %s (%d rows", st.Name, st.RowCount)
		if st.Truncated {
			b.WriteString(", most relevant columns")
		}
		b.WriteString("):\n")
		for _, col := range st.Columns {
			nullability := "nullable"
			if !col.Nullable {
				nullability = "not null"
			}
			fmt.Fprintf(&b, "  - %s (%s, %s)\n", col.Name, col.Type, nullability)
		}
	}
	if len(sel.ForeignKeys) > 0 {
		b.WriteString("\nForeign keys:\n")
		for _, fk := range sel.ForeignKeys {
			fmt.Fprintf(&b, "  - %s.%s -> %s\n", fk.FromTable, fk.FromColumn, fk.ToTable)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderCompact renders one line per table for tight budgets.
func (sel Selection) RenderCompact() string {
	lines := make([]string, 0, len(sel.Tables)+len(sel.ForeignKeys))
	for _, st := range sel.Tables {
		cols := make([]string, 0, len(st.Columns))
		for _, col := range st.Columns {
			cols = append(cols, col.Name+":"+col.Type)
		}
		suffix := ""
		if st.Truncated {
			suffix = ", ..."
		}
		lines = append(lines, fmt.Sprintf("%s(%s%s)", st.Name, strings.Join(cols, ", "), suffix))
	}
	for _, fk := range sel.ForeignKeys {
		lines = append(lines, fmt.Sprintf("%s.%s -> %s", fk.FromTable, fk.FromColumn, fk.ToTable))
	}
	return strings.Join(lines, "\n")
}

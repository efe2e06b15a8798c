package generation

import (
	"fmt"
	"strings"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildMessages renders the chat turns for a request.
func BuildMessages(req Request) []Message {
	system := buildSystemPrompt(req)

	var user string
	switch req.Mode {
	case ModeFix:
		user = fmt.Sprintf(
			"The question was: %s\n\nThis statement failed:\n%s\n\nThe engine said:\n%s\n\nReturn a corrected statement.",
			req.Question, req.PreviousSQL, req.FailureHint)
	case ModeRewrite:
		user = fmt.Sprintf(
			"The question was: %s\n\nRewrite this statement without any window functions (lag, lead, row_number, rank, OVER), keeping the result shape. Use self-joins or aggregate subqueries instead:\n%s",
			req.Question, req.PreviousSQL)
	default:
		user = req.Question
	}

	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s SQL generator. Answer with exactly one SELECT statement and nothing else: no prose, no markdown fences, no FORMAT clause.\n", req.Dialect)
	b.WriteString("Never use placeholder fragments like <table> or your_column. Only reference tables and columns from the schema below.\n")
	if !req.Dialect.SupportsWindowFunctions() {
		b.WriteString("This engine does not support window functions (lag, lead, row_number, rank, OVER). Express rankings and offsets with self-joins or aggregate subqueries.\n")
	}
	b.WriteString("Add a LIMIT unless the question asks for an aggregate.\n")
	if req.Schema != "" {
		b.WriteString("\nSchema:\n")
		b.WriteString(req.Schema)
	}
	return b.String()
}

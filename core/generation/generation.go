// Package generation produces SQL candidates from natural language via an
// OpenAI-compatible chat completions API. The raw model output is returned
// as-is; extraction and repair of the statement happen downstream.
package generation

import (
	"context"

	"github.com/querymend/querymend/core/dialect"
)

// Mode selects the prompt shape.
type Mode string

const (
	// ModeInitial asks for a fresh statement from the question.
	ModeInitial Mode = "initial"
	// ModeFix asks for a corrected statement given the failing one and the
	// engine's complaint.
	ModeFix Mode = "fix"
	// ModeRewrite asks for the same statement without window functions.
	ModeRewrite Mode = "rewrite"
)

// Request carries everything the model needs to produce SQL.
type Request struct {
	Mode        Mode
	Question    string
	Schema      string
	Dialect     dialect.Dialect
	PreviousSQL string
	FailureHint string
}

// Generator produces one SQL candidate per call.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

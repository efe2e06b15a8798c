// Package pipeline turns a natural-language question into executed SQL.
// Run drives an explicit state machine: generate, sanitize, optimize,
// execute, and on failure classify and recover until the run either
// produces a usable result or a retry bound closes it out. All mutable
// state lives on the run itself; a Pipeline is safe for concurrent use.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/classify"
	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/dialect"
	"github.com/querymend/querymend/core/generation"
	"github.com/querymend/querymend/core/logger"
	"github.com/querymend/querymend/core/runtime/engines"
	"github.com/querymend/querymend/core/runtime/executor"
	"github.com/querymend/querymend/core/sanitize"
	"github.com/querymend/querymend/core/schema"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

// Stage is the orchestrator's position in a run.
type Stage string

const (
	StageGenerating  Stage = "GENERATING"
	StageOptimizing  Stage = "OPTIMIZING"
	StageExecuting   Stage = "EXECUTING"
	StageClassifying Stage = "CLASSIFYING"
	StageRecovering  Stage = "RECOVERING"
	StageSuccess     Stage = "SUCCESS"
	StageFailed      Stage = "TERMINAL_FAILURE"
)

// Status discriminates a finished run.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusPartial carries data that a downstream consumer failed to use.
	StatusPartial Status = "partial"
	StatusFailed  Status = "critical_failure"
)

// Request is one analytics question aimed at one data source.
type Request struct {
	Question string
	SourceID string
	Intent   schema.Intent
	// RequireRows routes zero-row results through recovery instead of
	// returning them as success.
	RequireRows bool

	// Render, when set, hands the result to the downstream consumer while
	// the run can still account for its failure. A rendering failure after
	// rows were fetched degrades the run to StatusPartial.
	Render func(ctx context.Context, result *engines.Result) error
	// AdaptFilters, when set, may return a broadened statement after a
	// zero-row execution. Returning "" keeps the current statement.
	AdaptFilters func(question, statement string) string
}

// Failure is the single terminal error object callers see. Excerpt is the
// bounded raw fragment of whatever the engine or generator last said.
type Failure struct {
	Code     apperrors.ErrorCode `json:"code"`
	Category classify.Category   `json:"category"`
	Message  string              `json:"message"`
	Excerpt  string              `json:"excerpt,omitempty"`
}

// RunResult is the discriminated outcome of a run. Result is set on
// StatusSuccess and StatusPartial. Failure is set on StatusFailed, and on
// StatusPartial where it names the downstream problem.
type RunResult struct {
	Status   Status            `json:"status"`
	SQL      string            `json:"sql,omitempty"`
	Result   *engines.Result   `json:"result,omitempty"`
	Schema   schema.Selection  `json:"schema"`
	Tags     []dialect.Tag     `json:"tags,omitempty"`
	Estimate dialect.Estimate  `json:"estimate,omitempty"`
	Attempts int               `json:"attempts"`
	History  []classify.Record `json:"history,omitempty"`
	Failure  *Failure          `json:"failure,omitempty"`
}

// Err returns the terminal failure as an error, nil for usable results.
func (r *RunResult) Err() error {
	if r.Status != StatusFailed || r.Failure == nil {
		return nil
	}
	return apperrors.NewAppError(r.Failure.Code,
		fmt.Sprintf("%s: %s", r.Failure.Category, r.Failure.Message), nil)
}

// Pipeline wires the stages together. Construct once and share across runs.
type Pipeline struct {
	catalog    catalog.Catalog
	generator  generation.Generator
	executor   *executor.Executor
	sanitizer  *sanitize.Sanitizer
	classifier *classify.Classifier
	schemaOpt  *schema.Optimizer
	dialectOpt *dialect.Optimizer
	cfg        config.PipelineConfig
	budget     int
	log        *logger.Logger
}

// New constructs a Pipeline. contextWindow is the generation model's window
// in tokens and drives the schema token budget.
func New(cat catalog.Catalog, gen generation.Generator, exec *executor.Executor, cfg config.PipelineConfig, contextWindow int) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.Default().Pipeline.MaxAttempts
	}
	return &Pipeline{
		catalog:    cat,
		generator:  gen,
		executor:   exec,
		sanitizer:  sanitize.New(),
		classifier: classify.New(),
		schemaOpt:  schema.NewOptimizer(),
		dialectOpt: dialect.NewOptimizer(),
		cfg:        cfg,
		budget:     schema.Budget(contextWindow),
		log:        logger.New("pipeline"),
	}
}

// run bundles everything one question owns while it moves through the
// stages. pending holds a failure produced outside execution (sanitization,
// a blocked dialect construct) that still has to pass through classification.
type run struct {
	p          *Pipeline
	req        Request
	state      *runState
	dial       dialect.Dialect
	sel        schema.Selection
	schemaText string
	sql        string
	opt        dialect.Result
	pending    error
}

// Run processes one question to a terminal state. Classified failures come
// back inside the RunResult; Run itself never returns an error value, so
// callers see exactly one of a usable result or one terminal failure.
func (p *Pipeline) Run(ctx context.Context, req Request) *RunResult {
	r := &run{p: p, req: req, state: newRunState()}

	if strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.SourceID) == "" {
		return r.fail(apperrors.ErrCodeInvalidInput, classify.Classification{Category: classify.CategoryUnknown},
			"question and data source id are required")
	}

	ds, err := p.catalog.Get(req.SourceID)
	if err != nil {
		cl := p.classifier.Classify(err)
		r.state.capture(cl)
		return r.fail(apperrors.CodeOf(err), cl, fmt.Sprintf("data source '%s' unavailable", req.SourceID))
	}
	r.dial = ds.EffectiveDialect()

	snap, err := p.executor.Snapshot(ctx, req.SourceID)
	if err != nil {
		cl := p.classifier.Classify(err)
		r.state.capture(cl)
		return r.fail(apperrors.CodeOf(err), cl, fmt.Sprintf("schema introspection failed for '%s'", req.SourceID))
	}

	r.sel = p.schemaOpt.Select(snap, req.Question, req.Intent, p.budget)
	r.schemaText = r.sel.RenderVerbose()
	if schema.EstimateTokens(r.schemaText) > p.budget {
		r.schemaText = r.sel.RenderCompact()
	}
	p.log.Debugf("Selected %d of %d table(s) within %d tokens for '%s'",
		len(r.sel.Tables), snap.Len(), r.sel.Budget, req.SourceID)

	raw, err := p.generator.Generate(ctx, generation.Request{
		Mode:     generation.ModeInitial,
		Question: req.Question,
		Schema:   r.schemaText,
		Dialect:  r.dial,
	})
	if err != nil {
		cl := p.classifier.Classify(err)
		r.state.capture(cl)
		return r.fail(apperrors.ErrCodeGenerationFailed, cl, "initial generation failed")
	}
	r.adopt(raw)

	return r.loop(ctx)
}

// loop is the execute/classify/recover cycle. Every iteration either
// returns a terminal result or captures exactly one classified failure,
// and every category counter is bounded, so the loop always terminates.
func (r *run) loop(ctx context.Context) *RunResult {
	p := r.p
	noRows := false

	for {
		if r.pending == nil && !noRows {
			r.state.stage = StageExecuting
			r.state.attempts++
			result, err := p.executor.Execute(ctx, r.req.SourceID, r.sql)
			if err == nil {
				if r.requireRows() && result.RowCount == 0 {
					noRows = true
				} else {
					return r.finish(ctx, result)
				}
			} else {
				r.pending = err
			}
		}

		r.state.stage = StageClassifying
		if r.pending != nil && ctx.Err() != nil {
			return r.cancelled(ctx)
		}
		var cl classify.Classification
		if noRows {
			cl = p.classifier.NoResults()
		} else {
			cl = p.classifier.Classify(r.pending)
		}
		r.state.capture(cl)
		p.log.Debugf("Classified failure as %s/%s after attempt %d", cl.Category, cl.Recoverability, r.state.attempts)

		r.pending, noRows = nil, false
		r.state.stage = StageRecovering
		if term := r.recover(ctx, cl); term != nil {
			return term
		}
	}
}

// adopt installs fresh generator output as the current candidate. The text
// is sanitized and dialect-checked; any problem lands in pending for the
// next classification pass.
func (r *run) adopt(raw string) {
	r.state.stage = StageOptimizing
	sql, err := r.p.sanitizer.Sanitize(raw)
	if err != nil {
		sanitizeResults.WithLabelValues("rejected").Inc()
		r.sql, r.pending = "", err
		return
	}
	sanitizeResults.WithLabelValues("clean").Inc()
	r.sql = sql
	r.pending = r.annotate()
}

// annotate runs the dialect pass over the current statement. A blocked
// window construct comes back as an error so recovery can rewrite the
// statement before any engine sees it.
func (r *run) annotate() error {
	r.opt = r.p.dialectOpt.Optimize(r.sql, r.dial)
	if r.opt.Blocked {
		return apperrors.NewAppError(apperrors.ErrCodeValidationError,
			fmt.Sprintf("window functions are not supported on dialect '%s': %s",
				r.dial, strings.Join(dialect.ScanWindowFunctions(r.sql), ", ")), nil)
	}
	return nil
}

func (r *run) requireRows() bool {
	return r.req.RequireRows || r.p.cfg.RequireRows
}

// finish hands the result to the downstream consumer when one is attached.
// A rendering failure after rows were fetched is a soft failure: the run
// keeps its data and reports StatusPartial instead of dying.
func (r *run) finish(ctx context.Context, result *engines.Result) *RunResult {
	p := r.p
	executionDuration.WithLabelValues(result.Source).Observe(result.Elapsed.Seconds())

	out := &RunResult{
		Status:   StatusSuccess,
		SQL:      r.sql,
		Result:   result,
		Schema:   r.sel,
		Tags:     r.opt.Tags,
		Estimate: r.opt.Estimate,
		Attempts: r.state.attempts,
		History:  r.state.history,
	}

	if r.req.Render != nil {
		if err := r.req.Render(ctx, result); err != nil {
			cl := p.classifier.ClassifyMessage("rendering failed: " + err.Error())
			r.state.capture(cl)
			if result.RowCount == 0 {
				return r.fail(apperrors.ErrCodeInternalError, cl, "downstream rendering failed with no usable rows")
			}
			p.log.Warnf("Downstream rendering failed, returning %d rows as partial results", result.RowCount)
			out.Status = StatusPartial
			out.History = r.state.history
			out.Failure = &Failure{
				Code:     apperrors.ErrCodeInternalError,
				Category: cl.Category,
				Message:  "downstream rendering failed",
				Excerpt:  cl.Excerpt,
			}
			runsTotal.WithLabelValues(string(StatusPartial)).Inc()
			return out
		}
	}

	r.state.stage = StageSuccess
	runsTotal.WithLabelValues(string(StatusSuccess)).Inc()
	p.log.Successf("Answered against '%s' in %d attempt(s), %d row(s)", r.req.SourceID, r.state.attempts, result.RowCount)
	return out
}

// cancelled ends the run when the caller gave up. The in-flight engine call
// was already aborted through the context; nothing else runs after this.
func (r *run) cancelled(ctx context.Context) *RunResult {
	cl := r.p.classifier.Classify(ctx.Err())
	r.state.capture(cl)
	r.p.log.Warnf("Run cancelled after %d attempt(s)", r.state.attempts)
	return r.fail(apperrors.ErrCodeRunCancelled, cl, "run cancelled before completion")
}

// fail builds the terminal failure object. cl names the last classified
// failure so the category survives into the caller-visible error.
func (r *run) fail(code apperrors.ErrorCode, cl classify.Classification, msg string) *RunResult {
	r.state.stage = StageFailed
	runsTotal.WithLabelValues(string(StatusFailed)).Inc()
	r.p.log.Errorf("Run failed for '%s': %s (%s)", r.req.SourceID, msg, cl.Category)
	return &RunResult{
		Status:   StatusFailed,
		SQL:      r.sql,
		Schema:   r.sel,
		Tags:     r.opt.Tags,
		Estimate: r.opt.Estimate,
		Attempts: r.state.attempts,
		History:  r.state.history,
		Failure: &Failure{
			Code:     code,
			Category: cl.Category,
			Message:  msg,
			Excerpt:  cl.Excerpt,
		},
	}
}

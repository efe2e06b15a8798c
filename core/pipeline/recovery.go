package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/querymend/querymend/core/classify"
	"github.com/querymend/querymend/core/dialect"
	"github.com/querymend/querymend/core/generation"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

// recover applies the category branch for the newest captured failure. A
// nil return means the run loops back to execution, possibly with a new
// candidate in place; a non-nil return is terminal.
func (r *run) recover(ctx context.Context, cl classify.Classification) *RunResult {
	p := r.p
	recoveryAttempts.WithLabelValues(string(cl.Category)).Inc()

	if cl.Recoverability == classify.RecoverNone {
		return r.fail(apperrors.ErrCodeCriticalFailure, cl, "failure is not recoverable")
	}
	if r.state.exhausted(cl.Category) {
		return r.fail(apperrors.ErrCodeCriticalFailure, cl,
			fmt.Sprintf("%s retries exhausted after %d attempt(s)", cl.Category, r.state.attempts))
	}
	if r.state.attempts >= p.cfg.MaxAttempts {
		return r.fail(apperrors.ErrCodeCriticalFailure, cl,
			fmt.Sprintf("attempt ceiling (%d) reached", p.cfg.MaxAttempts))
	}

	switch cl.Category {
	case classify.CategorySQLValidation:
		return r.repairStatement(ctx, cl)
	case classify.CategoryDialect:
		return r.rewriteWindowed(ctx, cl)
	case classify.CategoryTransient:
		p.log.Warnf("Transient failure, retrying unchanged (attempt %d)", r.state.attempts)
		return nil
	case classify.CategoryNoResults:
		r.broadenFilters()
		return nil
	default:
		p.log.Warnf("Retrying after %s failure", cl.Category)
		return nil
	}
}

// repairStatement handles sql_validation failures: a generated fix first,
// rule-based repair when the breaker is open or the collaborator fails.
// Sanitize-stage failures left no statement behind, so they get a fresh
// generation instead of a fix; placeholder templates cannot be repaired in
// place at all.
func (r *run) repairStatement(ctx context.Context, cl classify.Classification) *RunResult {
	p := r.p
	now := time.Now()

	if r.sql == "" {
		if r.state.breaker.open(now) {
			return r.fail(apperrors.ErrCodeCriticalFailure, cl,
				"no statement survived sanitization and the breaker is open")
		}
		p.log.Warnf("No statement survived sanitization, requesting fresh generation")
		raw, err := p.generator.Generate(ctx, generation.Request{
			Mode:     generation.ModeInitial,
			Question: r.req.Question,
			Schema:   r.schemaText,
			Dialect:  r.dial,
		})
		if err != nil {
			return r.fail(apperrors.ErrCodeGenerationFailed, cl, "fresh generation failed during recovery")
		}
		r.adopt(raw)
		return nil
	}

	if !r.state.breaker.open(now) {
		raw, err := p.generator.Generate(ctx, generation.Request{
			Mode:        generation.ModeFix,
			Question:    r.req.Question,
			Schema:      r.schemaText,
			Dialect:     r.dial,
			PreviousSQL: r.sql,
			FailureHint: strings.Join(r.state.hints(hintMessages), "\n"),
		})
		if err == nil {
			p.log.Infof("Adopting generated fix for '%s'", r.req.SourceID)
			r.adopt(raw)
			return nil
		}
		p.log.Warnf("Fix generation failed, falling back to rule-based repair")
	} else {
		p.log.Warnf("Breaker open, skipping generated fix")
	}

	// Rule-based repair reuses the sanitizer's passes: paren balancing,
	// repeated-token collapse, artifact stripping. Sanitization is
	// idempotent, so an unchanged statement means nothing left to fix.
	fixed, err := p.sanitizer.Sanitize(r.sql)
	if err != nil || fixed == r.sql {
		return r.fail(apperrors.ErrCodeCriticalFailure, cl, "statement could not be repaired")
	}
	r.sql = fixed
	r.pending = r.annotate()
	return nil
}

// rewriteWindowed handles dialect failures: ask for a rewrite without the
// offending constructs, re-scan it, and strip mechanically when the rewrite
// still carries them or could not be produced.
func (r *run) rewriteWindowed(ctx context.Context, cl classify.Classification) *RunResult {
	p := r.p

	if !r.state.breaker.open(time.Now()) {
		raw, err := p.generator.Generate(ctx, generation.Request{
			Mode:        generation.ModeRewrite,
			Question:    r.req.Question,
			Schema:      r.schemaText,
			Dialect:     r.dial,
			PreviousSQL: r.sql,
			FailureHint: cl.Excerpt,
		})
		if err == nil {
			if sql, serr := p.sanitizer.Sanitize(raw); serr == nil && len(dialect.ScanWindowFunctions(sql)) == 0 {
				p.log.Infof("Adopting rewrite without window constructs")
				r.sql = sql
				r.pending = r.annotate()
				return nil
			}
			p.log.Warnf("Rewrite still carries window constructs, stripping mechanically")
		} else {
			p.log.Warnf("Rewrite generation failed, stripping mechanically")
		}
	} else {
		p.log.Warnf("Breaker open, stripping window constructs mechanically")
	}

	r.sql = dialect.StripWindowFunctions(r.sql)
	r.pending = r.annotate()
	r.opt.Tags = append(r.opt.Tags, dialect.TagWindowStripped)
	return nil
}

// broadenFilters gives the caller's hook a chance to widen the statement
// after a zero-row execution. Without a hook the statement is retried as
// is; the budget still bounds the loop.
func (r *run) broadenFilters() {
	if r.req.AdaptFilters == nil {
		r.p.log.Infof("No rows returned, retrying")
		return
	}
	adapted := r.req.AdaptFilters(r.req.Question, r.sql)
	if adapted == "" || adapted == r.sql {
		r.p.log.Infof("No rows returned, retrying unchanged")
		return
	}
	r.p.log.Infof("No rows returned, retrying with adapted filters")
	r.sql = adapted
	r.pending = r.annotate()
}

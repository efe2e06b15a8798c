package pipeline

import (
	"time"

	"github.com/querymend/querymend/core/classify"
)

const (
	// historyLimit bounds the error records a run keeps, oldest evicted first.
	historyLimit = 5
	// breakerLimit failures within breakerWindow open the breaker for the run.
	breakerLimit  = 3
	breakerWindow = 300 * time.Second
	// hintMessages is how many recent failure excerpts a fix request carries.
	hintMessages = 3
)

// categoryBudget bounds recovery per failure category. A category is
// exhausted once that many of its failures have been captured, so a budget
// of 2 allows exactly one repair attempt in between.
var categoryBudget = map[classify.Category]int{
	classify.CategorySQLValidation: 2,
	classify.CategoryDialect:       2,
	classify.CategoryTransient:     3,
	classify.CategoryNoResults:     2,
	classify.CategoryRendering:     1,
	classify.CategoryUnknown:       2,
}

// runState is owned by exactly one run and discarded with it. Nothing else
// touches it, so no locking.
type runState struct {
	stage    Stage
	attempts int
	retries  map[classify.Category]int
	history  []classify.Record
	breaker  breaker
}

func newRunState() *runState {
	return &runState{
		stage:   StageGenerating,
		retries: make(map[classify.Category]int),
		breaker: breaker{limit: breakerLimit, window: breakerWindow},
	}
}

// capture records a classified failure into the bounded history, counts it
// against its category, and feeds the breaker window.
func (s *runState) capture(cl classify.Classification) classify.Record {
	rec := classify.Record{Classification: cl, RetryCount: s.attempts, At: time.Now()}
	s.history = append(s.history, rec)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.retries[cl.Category]++
	s.breaker.trip(rec.At)
	return rec
}

// exhausted reports whether the category's failure budget is used up.
func (s *runState) exhausted(cat classify.Category) bool {
	budget, ok := categoryBudget[cat]
	if !ok {
		budget = 1
	}
	return s.retries[cat] >= budget
}

// hints returns the newest failure excerpts, most recent first.
func (s *runState) hints(n int) []string {
	out := make([]string, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(out) < n; i-- {
		if s.history[i].Excerpt != "" {
			out = append(out, s.history[i].Excerpt)
		}
	}
	return out
}

// breaker is a sliding-window failure counter. Once open, the run stops
// asking the generation collaborator for repairs and degrades to rule-based
// fixes.
type breaker struct {
	limit    int
	window   time.Duration
	failures []time.Time
}

func (b *breaker) trip(at time.Time) {
	b.failures = append(b.failures, at)
}

func (b *breaker) open(now time.Time) bool {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, at := range b.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.failures = kept
	return len(b.failures) >= b.limit
}

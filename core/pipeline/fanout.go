package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// analysisBase is the floor for a deep-analysis pass regardless of size.
	analysisBase = 60 * time.Second
	// analysisIncrement is added per analysisRowSlice input rows.
	analysisIncrement = 10 * time.Second
	analysisRowSlice  = 10_000
)

// AdaptiveTimeout returns the budget for a multi-step analysis pass over
// rowCount input rows. The budget grows with input size instead of being
// fixed, so large intermediate results do not starve later steps.
func AdaptiveTimeout(rowCount int) time.Duration {
	if rowCount <= 0 {
		return analysisBase
	}
	return analysisBase + time.Duration(rowCount/analysisRowSlice)*analysisIncrement
}

// RunAll fans the requests out as concurrent runs and awaits them together.
// Results align with reqs by index. A failing sub-query is reported in its
// own slot and never cancels its siblings; Run returns classified failures
// as values, so the group carries no error.
func (p *Pipeline) RunAll(ctx context.Context, reqs []Request) []*RunResult {
	results := make([]*RunResult, len(reqs))
	var g errgroup.Group
	if p.cfg.FanOutLimit > 0 {
		g.SetLimit(p.cfg.FanOutLimit)
	}
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = p.Run(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// RunDeep is RunAll under an adaptive deadline sized by the rows a prior
// step produced. Sub-queries cut off by the deadline end as terminal
// failures with a timeout category in their own slots.
func (p *Pipeline) RunDeep(ctx context.Context, reqs []Request, inputRows int) []*RunResult {
	ctx, cancel := context.WithTimeout(ctx, AdaptiveTimeout(inputRows))
	defer cancel()
	return p.RunAll(ctx, reqs)
}

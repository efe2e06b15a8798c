package pipeline

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querymend/querymend/core/classify"
	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/generation"
)

func TestAdaptiveTimeout(t *testing.T) {
	tests := []struct {
		rows int
		want time.Duration
	}{
		{0, 60 * time.Second},
		{-5, 60 * time.Second},
		{9_999, 60 * time.Second},
		{10_000, 70 * time.Second},
		{25_000, 80 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AdaptiveTimeout(tt.rows), "rows=%d", tt.rows)
	}
}

func TestRunAllIsolatesSlotFailures(t *testing.T) {
	flaky := newWarehouse(t,
		step{status: http.StatusBadRequest, body: syntaxBody},
		step{status: http.StatusBadRequest, body: syntaxBody},
	)
	stable := newWarehouse(t)

	gen := generation.GeneratorFunc(func(_ context.Context, req generation.Request) (string, error) {
		if strings.Contains(req.Question, "broken") {
			return "SELECT broken FROM orders", nil
		}
		return "SELECT total FROM orders", nil
	})
	p := newTestPipeline(t, gen, config.PipelineConfig{FanOutLimit: 2}, map[string]*scriptedWarehouse{
		"flaky":  flaky,
		"stable": stable,
	})

	results := p.RunAll(context.Background(), []Request{
		{Question: "broken things", SourceID: "flaky"},
		{Question: "stable totals", SourceID: "stable"},
	})

	require.Len(t, results, 2)
	require.NotNil(t, results[0].Failure)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Equal(t, classify.CategorySQLValidation, results[0].Failure.Category)

	// the sibling's failure never cancelled the healthy slot
	assert.Equal(t, StatusSuccess, results[1].Status)
	assert.Equal(t, 2, results[1].Result.RowCount)
}

func TestRunDeepAppliesDeadline(t *testing.T) {
	w := newWarehouse(t)
	gen := &recordingGenerator{replies: []reply{{text: "SELECT total FROM orders"}}}
	p := newTestPipeline(t, gen, config.PipelineConfig{FanOutLimit: 1}, map[string]*scriptedWarehouse{"events": w})

	results := p.RunDeep(context.Background(), []Request{{Question: "totals", SourceID: "events"}}, 50_000)

	require.Len(t, results, 1)
	assert.Equal(t, StatusSuccess, results[0].Status)
}

package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveConfigDefaults(t *testing.T) {
	cfg := ResolveConfig()

	assert.False(t, cfg.Enabled)
	assert.True(t, cfg.TracesEnabled)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "querymend", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 1.0, cfg.TraceSamplingRate)
}

func TestResolveConfigEnvOverrides(t *testing.T) {
	t.Setenv("QUERYMEND_OTEL_ENABLED", "true")
	t.Setenv("QUERYMEND_OTEL_TRACES_ENABLED", "false")
	t.Setenv("QUERYMEND_OTEL_SERVICE_NAME", "querymend-staging")
	t.Setenv("QUERYMEND_OTEL_ENDPOINT", "collector:4317")
	t.Setenv("QUERYMEND_OTEL_TRACE_SAMPLING_RATIO", "0.25")

	cfg := ResolveConfig()
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.TracesEnabled)
	assert.Equal(t, "querymend-staging", cfg.ServiceName)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 0.25, cfg.TraceSamplingRate)
}

func TestResolveConfigClampsSamplingRate(t *testing.T) {
	t.Setenv("QUERYMEND_OTEL_TRACE_SAMPLING_RATIO", "3.5")
	assert.Equal(t, 1.0, ResolveConfig().TraceSamplingRate)

	t.Setenv("QUERYMEND_OTEL_TRACE_SAMPLING_RATIO", "-1")
	assert.Equal(t, 0.0, ResolveConfig().TraceSamplingRate)
}

func TestResolveConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("QUERYMEND_OTEL_ENABLED", "definitely")
	t.Setenv("QUERYMEND_OTEL_TRACE_SAMPLING_RATIO", "half")

	cfg := ResolveConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.TraceSamplingRate)
}

func TestSetupDisabledProvidersAreInert(t *testing.T) {
	ctx := context.Background()
	providers, err := Setup(ctx, "1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", providers.Config().ServiceVersion)
	assert.False(t, providers.Config().Enabled)

	// Recording against inert providers must not panic.
	RecordHTTPRequest(ctx, "POST", "/v1/query", 200, 12.5)
	RecordRun(ctx, "warehouse", "success", 42)
	RecordEngineQuery(ctx, "warehouse", "clickhouse", true, 8)

	require.NoError(t, providers.Shutdown(ctx))
}

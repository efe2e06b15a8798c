package observability

import (
	"os"
	"strconv"
)

// Config is resolved from QUERYMEND_OTEL_* environment variables. Export
// stays off unless QUERYMEND_OTEL_ENABLED is set.
type Config struct {
	Enabled           bool
	TracesEnabled     bool
	MetricsEnabled    bool
	ServiceName       string
	ServiceVersion    string
	Environment       string
	OTLPEndpoint      string
	TraceSamplingRate float64
}

// ResolveConfig builds the effective configuration from defaults and
// environment overrides.
func ResolveConfig() Config {
	cfg := Config{
		Enabled:           false,
		TracesEnabled:     true,
		MetricsEnabled:    true,
		ServiceName:       "querymend",
		ServiceVersion:    "dev",
		Environment:       "development",
		OTLPEndpoint:      "localhost:4317",
		TraceSamplingRate: 1.0,
	}

	overrideBool("QUERYMEND_OTEL_ENABLED", &cfg.Enabled)
	overrideBool("QUERYMEND_OTEL_TRACES_ENABLED", &cfg.TracesEnabled)
	overrideBool("QUERYMEND_OTEL_METRICS_ENABLED", &cfg.MetricsEnabled)
	overrideString("QUERYMEND_OTEL_SERVICE_NAME", &cfg.ServiceName)
	overrideString("QUERYMEND_OTEL_SERVICE_VERSION", &cfg.ServiceVersion)
	overrideString("QUERYMEND_OTEL_ENVIRONMENT", &cfg.Environment)
	overrideString("QUERYMEND_OTEL_ENDPOINT", &cfg.OTLPEndpoint)
	overrideFloat("QUERYMEND_OTEL_TRACE_SAMPLING_RATIO", &cfg.TraceSamplingRate)

	if cfg.TraceSamplingRate < 0 {
		cfg.TraceSamplingRate = 0
	}
	if cfg.TraceSamplingRate > 1 {
		cfg.TraceSamplingRate = 1
	}
	return cfg
}

func overrideString(name string, target *string) {
	if value := os.Getenv(name); value != "" {
		*target = value
	}
}

func overrideBool(name string, target *bool) {
	value := os.Getenv(name)
	if value == "" {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err == nil {
		*target = parsed
	}
}

func overrideFloat(name string, target *float64) {
	value := os.Getenv(name)
	if value == "" {
		return
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err == nil {
		*target = parsed
	}
}

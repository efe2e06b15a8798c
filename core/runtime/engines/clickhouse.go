package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/querymend/querymend/core/catalog"
	"github.com/querymend/querymend/core/dialect"
	"github.com/querymend/querymend/core/logger"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

const (
	// Each endpoint candidate gets its own attempt timeout.
	defaultAttemptTimeout = 30 * time.Second

	maxResponseBytes = 64 << 20
	errorBodyLimit   = 512
)

// ClickHouseEngine executes SQL over the HTTP interface. A query walks the
// ordered endpoint candidates: a transport failure or credential rejection
// advances to the next one, a query rejection stops immediately since the
// same statement cannot succeed elsewhere.
type ClickHouseEngine struct {
	source         string
	database       string
	user           string
	password       string
	endpoints      []string
	client         *http.Client
	attemptTimeout time.Duration
	log            *logger.Logger
}

// NewClickHouseEngine builds the engine. No connection is made until the
// first Execute.
func NewClickHouseEngine(ds catalog.DataSource) *ClickHouseEngine {
	return &ClickHouseEngine{
		source:         ds.ID,
		database:       ds.Connection.Database,
		user:           ds.Connection.User,
		password:       ds.Connection.Password,
		endpoints:      ds.Endpoints(),
		client:         &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		attemptTimeout: defaultAttemptTimeout,
		log:            logger.New("engine:clickhouse"),
	}
}

// clickhouseResponse is the FORMAT JSON envelope.
type clickhouseResponse struct {
	Meta []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"meta"`
	Data []map[string]any `json:"data"`
	Rows int              `json:"rows"`
}

// Execute tries each endpoint candidate in order until one answers.
func (e *ClickHouseEngine) Execute(ctx context.Context, statement string) (*Result, error) {
	if len(e.endpoints) == 0 {
		return nil, apperrors.NewAppError(apperrors.ErrCodeConnectionFailed,
			fmt.Sprintf("data source '%s' has no endpoints", e.source), nil)
	}

	var lastErr error
	for _, endpoint := range e.endpoints {
		result, err := e.executeAt(ctx, endpoint, statement)
		if err == nil {
			return result, nil
		}
		if apperrors.IsValidationError(err) {
			// the query itself was rejected, no endpoint can fix that
			return nil, err
		}
		e.log.Debugf("Endpoint %s failed for source '%s': %v", endpoint, e.source, err)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	return nil, apperrors.WrapError(apperrors.ErrCodeEngineExhausted,
		fmt.Sprintf("no endpoint for data source '%s' answered", e.source), lastErr)
}

func (e *ClickHouseEngine) executeAt(ctx context.Context, endpoint, statement string) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("default_format", "JSON")
	if e.database != "" {
		params.Set("database", e.database)
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost,
		endpoint+"/?"+params.Encode(), strings.NewReader(statement))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if e.user != "" {
		req.Header.Set("X-ClickHouse-User", e.user)
	}
	if e.password != "" {
		req.Header.Set("X-ClickHouse-Key", e.password)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest:
		return nil, apperrors.NewAppError(apperrors.ErrCodeValidationError,
			trimBody(body), nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("endpoint %s rejected credentials: status %d", endpoint, resp.StatusCode)
	default:
		return nil, fmt.Errorf("endpoint %s: status %d: %s", endpoint, resp.StatusCode, trimBody(body))
	}

	var parsed clickhouseResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response from %s: %w", endpoint, err)
	}

	columns := make([]string, len(parsed.Meta))
	for i, m := range parsed.Meta {
		columns[i] = m.Name
	}
	rows := parsed.Data
	if rows == nil {
		rows = []map[string]any{}
	}

	return &Result{
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
		Elapsed:  time.Since(start),
		Source:   e.source,
		Endpoint: endpoint,
	}, nil
}

// Dialect reports the SQL dialect the engine speaks.
func (e *ClickHouseEngine) Dialect() dialect.Dialect { return dialect.ClickHouse }

// Close releases idle connections.
func (e *ClickHouseEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func trimBody(body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > errorBodyLimit {
		msg = msg[:errorBodyLimit]
	}
	return msg
}

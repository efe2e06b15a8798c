package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/logger"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

const responseBodyLimit = 4 << 20

// Client talks to an OpenAI-compatible chat completions endpoint. Calls are
// throttled by a token bucket when a rate limit is configured.
type Client struct {
	endpoint    string
	model       string
	apiKeyEnv   string
	temperature float64
	httpClient  *http.Client
	limiter     *rate.Limiter
	log         *logger.Logger
}

// NewClient builds a client from the generation config.
func NewClient(cfg config.GenerationConfig) *Client {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		model:       cfg.Model,
		apiKeyEnv:   cfg.APIKeyEnv,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.New("generation"),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate asks the model for one SQL candidate and returns its raw text.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    BuildMessages(req),
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Local endpoints (ollama and friends) need no key.
	if apiKey := os.Getenv(c.apiKeyEnv); apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	c.log.Debugf("Generating (%s) with model %s", req.Mode, c.model)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", apperrors.WrapError(apperrors.ErrCodeGenerationFailed, "chat completion request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return "", apperrors.WrapError(apperrors.ErrCodeGenerationFailed, "read chat completion response", err)
	}

	if resp.StatusCode >= 400 {
		return "", apperrors.NewAppError(apperrors.ErrCodeGenerationFailed,
			fmt.Sprintf("model endpoint returned %s: %s", resp.Status, excerpt(body)), nil)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", apperrors.WrapError(apperrors.ErrCodeGenerationFailed, "decode chat completion response", err)
	}
	if parsed.Error != nil {
		return "", apperrors.NewAppError(apperrors.ErrCodeGenerationFailed,
			fmt.Sprintf("model error: %s", parsed.Error.Message), nil)
	}
	if len(parsed.Choices) == 0 {
		return "", apperrors.NewAppError(apperrors.ErrCodeGenerationFailed, "model returned no choices", nil)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func excerpt(body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

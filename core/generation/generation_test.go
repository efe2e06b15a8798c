package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querymend/querymend/core/config"
	"github.com/querymend/querymend/core/dialect"
	apperrors "github.com/querymend/querymend/core/shared/errors"
)

func clientFor(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(config.GenerationConfig{
		Endpoint:       srv.URL,
		Model:          "test-model",
		APIKeyEnv:      "TEST_GEN_KEY",
		Temperature:    0.2,
		TimeoutSeconds: 5,
	})
}

func TestClientGenerate(t *testing.T) {
	t.Setenv("TEST_GEN_KEY", "sk-test")

	var got chatRequest
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"content":"  SELECT name FROM users LIMIT 10  "}}]}`))
	}))
	defer srv.Close()

	sql, err := clientFor(t, srv).Generate(context.Background(), Request{
		Mode:     ModeInitial,
		Question: "list user names",
		Schema:   "Table users (10 rows):\n  - name (String, nullable)",
		Dialect:  dialect.ClickHouse,
	})
	require.NoError(t, err)

	assert.Equal(t, "SELECT name FROM users LIMIT 10", sql)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 0.2, got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Table users")
	assert.Equal(t, "list user names", got.Messages[1].Content)
}

func TestClientSkipsAuthWhenKeyUnset(t *testing.T) {
	t.Setenv("TEST_GEN_KEY", "")

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"choices":[{"message":{"content":"SELECT 1"}}]}`))
	}))
	defer srv.Close()

	_, err := clientFor(t, srv).Generate(context.Background(), Request{Mode: ModeInitial, Question: "q"})
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestClientGenerateErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		msgPart string
	}{
		{
			"http error status",
			func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
			},
			"429",
		},
		{
			"error envelope",
			func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"error":{"message":"model overloaded","type":"server_error"}}`))
			},
			"model overloaded",
		},
		{
			"no choices",
			func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"choices":[]}`))
			},
			"no choices",
		},
		{
			"malformed body",
			func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"choices":[{"mess`))
			},
			"decode",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := clientFor(t, srv).Generate(context.Background(), Request{Mode: ModeInitial, Question: "q"})
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeGenerationFailed, apperrors.CodeOf(err))
			assert.Contains(t, err.Error(), tc.msgPart)
		})
	}
}

func TestBuildMessagesModes(t *testing.T) {
	base := Request{
		Question:    "top customers by revenue",
		Schema:      "orders(...)",
		Dialect:     dialect.ClickHouse,
		PreviousSQL: "SELECT lag(total) OVER (ORDER BY day) FROM orders",
		FailureHint: "Unknown function lag",
	}

	initial := base
	initial.Mode = ModeInitial
	msgs := BuildMessages(initial)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "does not support window functions")
	assert.Contains(t, msgs[0].Content, "orders(...)")
	assert.Equal(t, base.Question, msgs[1].Content)

	fix := base
	fix.Mode = ModeFix
	msgs = BuildMessages(fix)
	assert.Contains(t, msgs[1].Content, base.PreviousSQL)
	assert.Contains(t, msgs[1].Content, "Unknown function lag")
	assert.Contains(t, msgs[1].Content, "corrected")

	rewrite := base
	rewrite.Mode = ModeRewrite
	msgs = BuildMessages(rewrite)
	assert.Contains(t, msgs[1].Content, "without any window functions")
	assert.Contains(t, msgs[1].Content, base.PreviousSQL)

	pg := Request{Mode: ModeInitial, Question: "q", Dialect: dialect.Postgres}
	msgs = BuildMessages(pg)
	assert.NotContains(t, msgs[0].Content, "does not support window functions")
}

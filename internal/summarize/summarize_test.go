// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pdiddy/cve-harvest/internal/httputil"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	cfg := types.DefaultPipelineConfig().Summary
	cfg.BaseURL = url
	cfg.APIKey = "sk-test"
	cfg.MaxRetries = 2
	return New(cfg, nil, zaptest.NewLogger(t).Sugar())
}

func TestSummarize(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  CVE-2024-1234 threat intelligence summary\n\nSeverity: critical  "},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/")
	out, err := c.Summarize(context.Background(), "CVE-2024-1234", "raw evidence")
	require.NoError(t, err)
	assert.Equal(t, "CVE-2024-1234 threat intelligence summary\n\nSeverity: critical", out)

	assert.Equal(t, "deepseek-chat", got.Model)
	assert.Equal(t, 2048, got.MaxTokens)
	assert.Zero(t, got.Temperature)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, `"CVE-2024-1234 threat intelligence summary"`)
	assert.Equal(t, chatMessage{Role: "user", Content: "raw evidence"}, got.Messages[1])
}

func TestSummarize_RetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	out, err := newTestClient(t, srv.URL).Summarize(context.Background(), "CVE-2024-1234", "text")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSummarize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, types.ErrConfiguration},
		{"server error", http.StatusInternalServerError, `boom`, types.ErrTransport},
		{"bad json", http.StatusOK, `{not json`, types.ErrParse},
		{"no choices", http.StatusOK, `{"choices":[]}`, types.ErrParse},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"content":"   "}}]}`, types.ErrParse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Summarize(context.Background(), "CVE-2024-1234", "text")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSummarize_NoRequestWithoutKeyOrText(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Summarize(context.Background(), "CVE-2024-1234", " \n\t")
	assert.ErrorIs(t, err, ErrEmptyInput)

	c.cfg.APIKey = ""
	_, err = c.Summarize(context.Background(), "CVE-2024-1234", "text")
	assert.ErrorIs(t, err, types.ErrConfiguration)

	assert.Zero(t, calls.Load())
}

func TestRenderSystemPrompt(t *testing.T) {
	p, err := renderSystemPrompt("GHSA-2024-0001")
	require.NoError(t, err)
	assert.True(t, strings.Contains(p, "GHSA-2024-0001 threat intelligence summary"))
	assert.NotContains(t, p, "{{")
}

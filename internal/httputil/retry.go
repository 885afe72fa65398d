// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared across stages.
package httputil

import (
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/cve-harvest/internal/logging"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// throttled responses. Tests override this to avoid real sleeps.
var RetryBaseDelay = 10 * time.Second

// MaxRetryAfter caps how long a server-supplied Retry-After may stall a call.
var MaxRetryAfter = 2 * time.Minute

const defaultMaxRetries = 5

// Retryable reports whether a status code means "slow down and try again".
// The registry answers 503 under load; the chat API answers 429.
func Retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// Retrier executes requests with exponential backoff on throttled responses.
type Retrier struct {
	Client     *http.Client
	MaxRetries int
	Logger     *zap.SugaredLogger
}

// Do executes req and retries on Retryable statuses. The delay starts at
// RetryBaseDelay and doubles each attempt (10 s, 20 s, 40 s, ...), unless
// the response carries a Retry-After in seconds, which wins up to
// MaxRetryAfter.
//
// When MaxRetries is 0 the default (5) is used. On each retry the response
// body is drained and closed before sleeping. If the context is cancelled
// during a backoff wait Do returns ctx.Err(). After exhausting retries the
// last throttled response is returned so the caller can inspect it.
// Request bodies are rewound through GetBody between attempts.
func (r *Retrier) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	log := logging.OrNop(r.Logger)

	for attempt := 0; ; attempt++ {
		attemptReq := req.Clone(ctx)
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			attemptReq.Body = body
		}

		resp, err := client.Do(attemptReq)
		if err != nil {
			return nil, err
		}

		if !Retryable(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		if ra := retryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			backoff = ra
		}
		log.Warnw("throttled, backing off",
			"url", req.URL.Redacted(),
			"status", resp.StatusCode,
			"backoff", backoff,
			"attempt", attempt+1,
			"max_retries", maxRetries,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > MaxRetryAfter {
		d = MaxRetryAfter
	}
	return d
}

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/resilient-llm/resilient-llm/resilientop"
)

// httpFn adapts net/http into a resilientop.Fn: the caller-supplied
// transport the Resilient Operation drives on every attempt.
func httpFn(client *http.Client) resilientop.Fn {
	return func(ctx context.Context, url string, body any, headers map[string]string) (*resilientop.Response, error) {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("llm: marshal request body: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("llm: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("llm: read response body: %w", err)
		}

		respHeaders := map[string]string{}
		if v := resp.Header.Get("Retry-After"); v != "" {
			respHeaders["Retry-After"] = v
		}

		return &resilientop.Response{
			Data:          data,
			StatusCode:    resp.StatusCode,
			Headers:       respHeaders,
			RateLimitInfo: parseRateLimitHeaders(resp.Header),
		}, nil
	}
}

// parseRateLimitHeaders reads the x-ratelimit-limit-* headers OpenAI and
// Anthropic both emit. A provider that reports neither yields nil, leaving
// the bucket's configured limits untouched.
func parseRateLimitHeaders(h http.Header) *resilientop.RateLimitInfo {
	reqLimit := parseIntHeader(h, "X-Ratelimit-Limit-Requests")
	tokLimit := parseIntHeader(h, "X-Ratelimit-Limit-Tokens")
	if reqLimit == 0 && tokLimit == 0 {
		return nil
	}
	return &resilientop.RateLimitInfo{RequestsPerMinute: reqLimit, LLMTokensPerMinute: tokLimit}
}

func parseIntHeader(h http.Header, name string) int {
	v := h.Get(name)
	if v == "" {
		return 0
	}
	var n int
	_, err := fmt.Sscanf(v, "%d", &n)
	if err != nil {
		return 0
	}
	return n
}

package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

type httpInput struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type httpOutput struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// HTTPExecutor performs an outbound HTTP request. Responses with JSON bodies
// are decoded so downstream steps can address fields directly; anything else
// is passed through as a string. Non-2xx statuses fail the step so the retry
// and circuit breaker machinery can react.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor builds an HTTPExecutor. A nil client gets a default with a
// 30s timeout.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Type() string { return "http" }

func (e *HTTPExecutor) Execute(ctx context.Context, input json.RawMessage, state ExecutionState) (json.RawMessage, error) {
	var in httpInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"http step payload must be a JSON object: %s", err.Error())
	}
	if in.URL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "http step requires a \"url\" field")
	}
	method := strings.ToUpper(in.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(in.Body) > 0 {
		body = bytes.NewReader(in.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, in.URL, body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "build http request: %s", err.Error())
	}
	if len(in.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range in.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "http request failed: %s", err.Error()).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "read http response: %s", err.Error()).
			WithRetryable(true)
	}

	out := httpOutput{
		Status:  resp.StatusCode,
		Headers: make(map[string]string, len(resp.Header)),
	}
	for k := range resp.Header {
		out.Headers[k] = resp.Header.Get(k)
	}
	var decoded any
	if json.Unmarshal(raw, &decoded) == nil {
		out.Body = decoded
	} else {
		out.Body = string(raw)
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "marshal http response: %s", err.Error())
	}
	if resp.StatusCode >= 400 {
		errb := schema.NewErrorf(schema.ErrCodeStepFailed, "http request returned status %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode})
		// 5xx and 429 are worth retrying; other 4xx are not.
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return b, errb.WithRetryable(retryable)
	}
	return b, nil
}

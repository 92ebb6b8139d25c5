package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/cypherguy/internal/domain"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader carries the originating request id across hops.
const RequestIDHeader = "X-Request-Id"

// HTTPStage posts the flat request JSON to the next service. There is no
// retry: a timeout or non-2xx status is surfaced immediately.
type HTTPStage struct {
	BaseURL string
	HTTP    *http.Client
	path    func(domain.Category) string
}

// NewPolicyStage targets POST /check_<category>_policy.
func NewPolicyStage(baseURL string, timeout time.Duration) *HTTPStage {
	return newHTTPStage(baseURL, timeout, PolicyPath)
}

// NewComputeStage targets POST /compute_<category>.
func NewComputeStage(baseURL string, timeout time.Duration) *HTTPStage {
	return newHTTPStage(baseURL, timeout, ComputePath)
}

// NewExecutorStage targets POST /execute_<category>.
func NewExecutorStage(baseURL string, timeout time.Duration) *HTTPStage {
	return newHTTPStage(baseURL, timeout, ExecutorPath)
}

func newHTTPStage(baseURL string, timeout time.Duration, path func(domain.Category) string) *HTTPStage {
	return &HTTPStage{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		path:    path,
	}
}

// PolicyPath returns the policy service route for category.
func PolicyPath(c domain.Category) string { return "/check_" + string(c) + "_policy" }

// ComputePath returns the compute service route for category.
func ComputePath(c domain.Category) string { return "/compute_" + string(c) }

// ExecutorPath returns the executor service route for category.
func ExecutorPath(c domain.Category) string { return "/execute_" + string(c) }

// Handle sends req to the next service and decodes its response.
func (s *HTTPStage) Handle(ctx context.Context, category domain.Category, req domain.Request) (domain.Response, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return domain.Response{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+s.path(category), bytes.NewReader(b))
	if err != nil {
		return domain.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID(ctx))

	resp, err := s.HTTP.Do(httpReq)
	if err != nil {
		return domain.Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Response{}, fmt.Errorf("%s returned %d: %s", s.path(category), resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out domain.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Response{}, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func requestID(ctx context.Context) string {
	if id := chiMiddleware.GetReqID(ctx); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}

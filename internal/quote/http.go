package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StatusError is a non-2xx reply from an oracle.
type StatusError struct {
	Venue      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Venue, e.StatusCode, e.Body)
}

// restClient performs single-attempt, rate-limited JSON requests.
type restClient struct {
	venue   string
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newRESTClient(venue, baseURL, apiKey string, httpClient *http.Client, rps float64, logger *zap.Logger) *restClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &restClient{
		venue:   venue,
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

func (c *restClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(ctx, req, out)
}

func (c *restClient) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req, out)
}

func (c *restClient) do(ctx context.Context, req *http.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn(c.venue+".http_failed",
			zap.String("path", req.URL.Path),
			zap.Error(err))
		return fmt.Errorf("%s request: %w", c.venue, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s read response: %w", c.venue, err)
	}

	if resp.StatusCode >= 300 {
		c.logger.Warn(c.venue+".http_status",
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.Duration("latency", time.Since(start)))
		return &StatusError{Venue: c.venue, StatusCode: resp.StatusCode, Body: truncate(body, 512)}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s decode: %w", c.venue, err)
		}
	}

	c.logger.Debug(c.venue+".http_success",
		zap.String("path", req.URL.Path),
		zap.Duration("latency", time.Since(start)))
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

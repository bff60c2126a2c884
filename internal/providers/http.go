package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"vtuplatform/internal/common/resilience"
	"vtuplatform/internal/domain"
)

// Client posts JSON to a vendor API behind a circuit breaker and maps
// transport failures to *domain.VendorError.
type Client struct {
	vendor     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient creates a vendor HTTP client
func NewClient(vendor string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		vendor:     vendor,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    resilience.NewCircuitBreaker(vendor, logger),
		logger:     logger,
	}
}

// StatusError is a non-2xx vendor response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.StatusCode, e.Body)
}

// PostJSON sends req to url and decodes the response into resp.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, req, resp interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, url, headers, req, resp)
	})
	if err == nil {
		return nil
	}

	c.logger.Warn("vendor call failed",
		"vendor", c.vendor,
		"url", url,
		"error", err,
	)
	return c.vendorError(err)
}

func (c *Client) do(ctx context.Context, url string, headers map[string]string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return &StatusError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) vendorError(err error) error {
	var reason string
	var statusErr *StatusError
	var netErr net.Error

	switch {
	case resilience.IsOpen(err):
		reason = "vendor temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		reason = "vendor timeout"
	case errors.As(err, &statusErr) && statusErr.StatusCode >= 500:
		reason = "vendor temporarily unavailable"
	case errors.As(err, &statusErr):
		reason = fmt.Sprintf("vendor rejected request (status %d)", statusErr.StatusCode)
	default:
		reason = "vendor request failed"
	}

	return &domain.VendorError{Vendor: c.vendor, Reason: reason, Err: err}
}

// Rejected builds the error for a vendor response that reports failure in
// its body.
func Rejected(vendor, message string) error {
	if message == "" {
		message = "transaction failed"
	}
	return &domain.VendorError{Vendor: vendor, Reason: message}
}

package driverelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SourceFetcher retrieves the raw bytes behind a gateway source reference.
type SourceFetcher interface {
	FetchSource(ctx context.Context, sourceRef string) (io.ReadCloser, error)
}

// Notifier updates the requester-visible status message. Both methods are
// idempotent on the gateway side.
type Notifier interface {
	RenderStatus(ctx context.Context, notificationRef string, update StatusUpdate) error
	RenderMessage(ctx context.Context, notificationRef string, text string) error
}

type GatewayAccessTokenProvider func(ctx context.Context) (string, error)

type GatewayHTTPClientOptions struct {
	BaseURL       string
	TokenProvider GatewayAccessTokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// HTTPGatewayClient talks to the messaging gateway's REST surface. Writes are
// retried on 429 and 5xx with exponential backoff, honoring Retry-After.
type HTTPGatewayClient struct {
	baseURL       string
	tokenProvider GatewayAccessTokenProvider
	httpClient    *http.Client
	userAgent     string
	maxRetries    int
	baseDelay     time.Duration
	maxDelay      time.Duration
}

func NewHTTPGatewayClient(opts GatewayHTTPClientOptions) *HTTPGatewayClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// No overall timeout: source downloads can legitimately run long.
		httpClient = &http.Client{}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &HTTPGatewayClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		maxRetries:    maxRetries,
		baseDelay:     baseDelay,
		maxDelay:      maxDelay,
	}
}

func (c *HTTPGatewayClient) FetchSource(ctx context.Context, sourceRef string) (io.ReadCloser, error) {
	if c == nil {
		return nil, fmt.Errorf("gateway http client is nil")
	}
	sourceRef = strings.TrimSpace(sourceRef)
	if sourceRef == "" {
		return nil, ErrInvalidInput
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, err
	}
	fetchURL := c.baseURL + "/v1/files/" + url.PathEscape(sourceRef) + "/content"

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req, token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return resp.Body, nil
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return nil, fmt.Errorf("gateway fetch failed: status=%d message=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
}

func (c *HTTPGatewayClient) RenderStatus(ctx context.Context, notificationRef string, update StatusUpdate) error {
	payload := map[string]any{
		"notificationRef": notificationRef,
		"update":          update,
	}
	return c.doWrite(ctx, "/v1/messages/render-status", payload)
}

func (c *HTTPGatewayClient) RenderMessage(ctx context.Context, notificationRef string, text string) error {
	payload := map[string]any{
		"notificationRef": notificationRef,
		"text":            text,
	}
	return c.doWrite(ctx, "/v1/messages/render", payload)
}

func (c *HTTPGatewayClient) doWrite(ctx context.Context, path string, payload any) error {
	if c == nil {
		return fmt.Errorf("gateway http client is nil")
	}
	token, err := c.resolveToken(ctx)
	if err != nil {
		return err
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeURL := c.baseURL + path

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, writeURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		c.setHeaders(req, token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return nil
		}
		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		errMessage := strings.TrimSpace(string(respBody))
		var parsed map[string]any
		if json.Unmarshal(respBody, &parsed) == nil {
			if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
				errMessage = message
			}
		}
		return fmt.Errorf("gateway write failed: status=%d message=%s", resp.StatusCode, errMessage)
	}
}

func (c *HTTPGatewayClient) resolveToken(ctx context.Context) (string, error) {
	if c.tokenProvider == nil {
		return "", fmt.Errorf("gateway token provider is required")
	}
	token, err := c.tokenProvider(ctx)
	if err != nil {
		return "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("gateway token is empty")
	}
	return token, nil
}

func (c *HTTPGatewayClient) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func (c *HTTPGatewayClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

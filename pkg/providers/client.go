package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"
)

// maxBodyBytes caps how much of an upstream body is read.
const maxBodyBytes = 32 << 20

// Client is the shared HTTP client for upstream calls. It provides
// connection pooling, per-attempt timeouts, optional proxying, and
// optional retries with exponential backoff.
//
// Concrete provider clients embed or hold a Client and translate their
// wire formats on top of Do.
type Client struct {
	config ClientConfig
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a client. It fails only if ProxyURL is malformed.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 100
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = 10
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = 90 * time.Second
	}

	transport := config.Transport
	if transport == nil {
		t := &http.Transport{
			MaxIdleConns:        config.MaxIdleConns,
			MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
			IdleConnTimeout:     config.IdleConnTimeout,
			ForceAttemptHTTP2:   true,
		}
		if config.ProxyURL != "" {
			proxyURL, err := url.Parse(config.ProxyURL)
			if err != nil {
				return nil, &ConfigError{Provider: config.Name, Field: "proxy_url", Message: err.Error()}
			}
			switch proxyURL.Scheme {
			case "http", "https", "socks5", "socks5h":
			default:
				return nil, &ConfigError{
					Provider: config.Name,
					Field:    "proxy_url",
					Message:  fmt.Sprintf("unsupported proxy scheme %q", proxyURL.Scheme),
				}
			}
			t.Proxy = http.ProxyURL(proxyURL)
		}
		transport = t
	}

	return &Client{
		config: config,
		// Timeouts are applied per attempt through the context.
		client: &http.Client{Transport: transport},
		logger: slog.Default().With("provider", config.Name),
	}, nil
}

// Name returns the configured provider name.
func (c *Client) Name() string {
	return c.config.Name
}

// Timeout returns the per-attempt timeout.
func (c *Client) Timeout() time.Duration {
	return c.config.Timeout
}

// Do performs an HTTP request and returns the response with its body read,
// whatever the status code. Only transport failures are returned as errors
// (*TimeoutError or *TransportError); status mapping is left to callers.
//
// Transport errors and 5xx responses are retried up to MaxRetries times.
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) (*Response, error) {
	var (
		resp    *Response
		lastErr error
	)

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"max_retries", c.config.MaxRetries,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return nil, c.contextError(ctx.Err())
			case <-time.After(backoff):
			}
		}

		resp, lastErr = c.doOnce(ctx, method, rawURL, body, headers)
		if lastErr != nil {
			if ctx.Err() != nil {
				return nil, lastErr
			}
			c.logger.Warn("request failed", "attempt", attempt+1, "error", lastErr)
			continue
		}
		if resp.StatusCode >= 500 && attempt < c.config.MaxRetries {
			c.logger.Warn("request returned error status, will retry",
				"status", resp.StatusCode,
				"attempt", attempt+1,
			)
			continue
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return resp, nil
}

// DoOnce performs a single attempt regardless of MaxRetries. Health probes
// use it so one check is exactly one upstream call.
func (c *Client) DoOnce(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) (*Response, error) {
	return c.doOnce(ctx, method, rawURL, body, headers)
}

func (c *Client) doOnce(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	httpResp, err := c.client.Do(req)
	if err != nil {
		if attemptCtx.Err() != nil {
			return nil, c.contextError(attemptCtx.Err())
		}
		return nil, &TransportError{Provider: c.config.Name, Cause: redactURLError(err)}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		if attemptCtx.Err() != nil {
			return nil, c.contextError(attemptCtx.Err())
		}
		return nil, &TransportError{Provider: c.config.Name, Cause: fmt.Errorf("failed to read response: %w", err)}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		Latency:    time.Since(start),
	}, nil
}

func (c *Client) contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Provider: c.config.Name, Timeout: c.config.Timeout}
	}
	return &TransportError{Provider: c.config.Name, Cause: err}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// redactURLError strips the request URL from a *url.Error, since query
// strings carry credentials.
func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}

	return 0
}

// ConfigError represents a provider configuration error.
type ConfigError struct {
	// Provider is the name of the provider with invalid configuration
	Provider string

	// Field is the configuration field that is invalid
	Field string

	// Message describes the configuration error
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q configuration error for field %q: %s",
		e.Provider, e.Field, e.Message)
}

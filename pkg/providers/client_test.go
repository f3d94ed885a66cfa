package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestClient_ReturnsAnyStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{Name: "test", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	resp, err := client.Do(context.Background(), http.MethodGet, server.URL, nil, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", resp.StatusCode)
	}
	if resp.IsSuccess() {
		t.Error("IsSuccess() = true for 400")
	}
	if string(resp.Body) != `{"error":"bad"}` {
		t.Errorf("Body = %q", resp.Body)
	}
}

func TestClient_RetryOn5xx(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{Name: "test", Timeout: 5 * time.Second, MaxRetries: 2})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	resp, err := client.Do(context.Background(), http.MethodPost, server.URL, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestClient_NoRetryByDefault(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := NewClient(ClientConfig{Name: "test", Timeout: 5 * time.Second})
	resp, err := client.Do(context.Background(), http.MethodGet, server.URL, nil, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestClient_DoOnceIgnoresRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := NewClient(ClientConfig{Name: "test", Timeout: 5 * time.Second, MaxRetries: 3})
	resp, err := client.DoOnce(context.Background(), http.MethodGet, server.URL, nil, nil)
	if err != nil {
		t.Fatalf("DoOnce() error = %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, _ := NewClient(ClientConfig{Name: "slow", Timeout: 50 * time.Millisecond})
	_, err := client.Do(context.Background(), http.MethodGet, server.URL, nil, nil)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("Do() error = %v, want *TimeoutError", err)
	}
	if te.Timeout != 50*time.Millisecond {
		t.Errorf("Timeout = %v, want 50ms", te.Timeout)
	}
	if !IsTransport(err) {
		t.Error("IsTransport() = false for timeout")
	}
}

func TestClient_ConnectionRefusedRedactsURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client, _ := NewClient(ClientConfig{Name: "gone", Timeout: time.Second})
	_, err := client.Do(context.Background(), http.MethodGet, addr+"/v1beta/models?key=AIzaSECRET", nil, nil)

	var tre *TransportError
	if !errors.As(err, &tre) {
		t.Fatalf("Do() error = %v, want *TransportError", err)
	}
	if strings.Contains(err.Error(), "AIzaSECRET") {
		t.Errorf("error leaks credential: %v", err)
	}
}

func TestClient_ProxyURL(t *testing.T) {
	var proxied int32
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&proxied, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer proxy.Close()

	client, err := NewClient(ClientConfig{Name: "via-proxy", Timeout: time.Second, ProxyURL: proxy.URL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	// The target host does not exist; only the proxy can answer.
	resp, err := client.Do(context.Background(), http.MethodGet, "http://upstream.invalid/ping", nil, nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if atomic.LoadInt32(&proxied) != 1 {
		t.Errorf("proxy saw %d requests, want 1", proxied)
	}
}

func TestNewClient_InvalidProxy(t *testing.T) {
	tests := []struct {
		name  string
		proxy string
	}{
		{name: "bad scheme", proxy: "ftp://proxy:21"},
		{name: "unparsable", proxy: "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(ClientConfig{Name: "p", ProxyURL: tt.proxy})
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("NewClient() error = %v, want *ConfigError", err)
			}
			if ce.Field != "proxy_url" {
				t.Errorf("Field = %q, want proxy_url", ce.Field)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     http.Header
		check      func(error) bool
		wantStatus int
	}{
		{
			name:   "429 is rate limit",
			status: http.StatusTooManyRequests,
			header: http.Header{"Retry-After": []string{"7"}},
			check: func(err error) bool {
				var rl *RateLimitError
				return errors.As(err, &rl) && rl.RetryAfter == 7*time.Second
			},
			wantStatus: 429,
		},
		{
			name:   "401 is auth",
			status: http.StatusUnauthorized,
			check: func(err error) bool {
				var ae *AuthError
				return errors.As(err, &ae)
			},
			wantStatus: 401,
		},
		{
			name:   "403 is auth",
			status: http.StatusForbidden,
			check: func(err error) bool {
				var ae *AuthError
				return errors.As(err, &ae)
			},
			wantStatus: 403,
		},
		{
			name:   "500 is provider error",
			status: http.StatusInternalServerError,
			check: func(err error) bool {
				var pe *ProviderError
				return errors.As(err, &pe)
			},
			wantStatus: 500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			err := StatusError("p", &Response{StatusCode: tt.status, Header: header, Body: []byte("oops")})
			if !tt.check(err) {
				t.Errorf("StatusError() = %T %v", err, err)
			}
			if got := StatusCode(err); got != tt.wantStatus {
				t.Errorf("StatusCode() = %d, want %d", got, tt.wantStatus)
			}
			if IsTransport(err) {
				t.Error("IsTransport() = true for status error")
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("parseRetryAfter(\"\") = %v, want 0", got)
	}
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("parseRetryAfter(\"30\") = %v, want 30s", got)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 || got > time.Minute {
		t.Errorf("parseRetryAfter(date) = %v, want (0, 1m]", got)
	}
}

func TestNoArtifactError(t *testing.T) {
	err := &NoArtifactError{Provider: "gemini", Message: "I cannot draw that"}
	if !strings.Contains(err.Error(), "returned no image") {
		t.Errorf("Error() = %q", err.Error())
	}
	if IsTransport(err) || IsRateLimit(err) {
		t.Error("NoArtifactError misclassified")
	}
}

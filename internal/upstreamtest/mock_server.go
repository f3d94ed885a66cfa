// Package upstreamtest provides a scriptable fake of the upstream services
// (primary generative API and hosted endpoint) for package tests.
package upstreamtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockServer is a mock HTTP server keyed by request path.
type MockServer struct {
	server    *httptest.Server
	responses map[string][]MockResponse
	requests  []Request
	mu        sync.Mutex
}

// MockResponse defines a mock response configuration.
type MockResponse struct {
	StatusCode int
	Body       interface{}
	Delay      time.Duration
	Headers    map[string]string
}

// Request is what the server recorded about one inbound call.
type Request struct {
	Method string
	Path   string
	Key    string
	Body   []byte
}

// NewMockServer creates and starts a mock server.
func NewMockServer() *MockServer {
	ms := &MockServer{
		responses: make(map[string][]MockResponse),
	}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handler))
	return ms
}

// URL returns the mock server's base URL.
func (ms *MockServer) URL() string {
	return ms.server.URL
}

// Close closes the mock server.
func (ms *MockServer) Close() {
	ms.server.CloseClientConnections()
	ms.server.Close()
}

// SetResponse sets the response for path, replacing any queued ones.
func (ms *MockServer) SetResponse(path string, response MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.responses[path] = []MockResponse{response}
}

// QueueResponses scripts successive responses for path. The last one
// repeats once the queue is drained.
func (ms *MockServer) QueueResponses(path string, responses ...MockResponse) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.responses[path] = append([]MockResponse(nil), responses...)
}

// GetRequestCount returns the number of requests received.
func (ms *MockServer) GetRequestCount() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return len(ms.requests)
}

// CountPath returns the number of requests received for path.
func (ms *MockServer) CountPath(path string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	n := 0
	for _, r := range ms.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// Requests returns a copy of every recorded request.
func (ms *MockServer) Requests() []Request {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	return append([]Request(nil), ms.requests...)
}

func (ms *MockServer) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	ms.mu.Lock()
	ms.requests = append(ms.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Key:    r.URL.Query().Get("key"),
		Body:   body,
	})
	queue, ok := ms.responses[r.URL.Path]
	var response MockResponse
	if ok && len(queue) > 0 {
		response = queue[0]
		if len(queue) > 1 {
			ms.responses[r.URL.Path] = queue[1:]
		}
	}
	ms.mu.Unlock()

	if !ok || len(queue) == 0 {
		http.NotFound(w, r)
		return
	}

	if response.Delay > 0 {
		select {
		case <-time.After(response.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range response.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(response.StatusCode)

	if response.Body != nil {
		switch v := response.Body.(type) {
		case string:
			_, _ = w.Write([]byte(v))
		case []byte:
			_, _ = w.Write(v)
		default:
			_ = json.NewEncoder(w).Encode(response.Body)
		}
	}
}

package providers

import (
	"context"
	"net/http"
	"time"
)

// Generator is implemented by every upstream that can produce an image for
// a prompt.
type Generator interface {
	// Generate sends one request upstream. It never retries on its own
	// unless ClientConfig.MaxRetries says so.
	Generate(ctx context.Context, req *GenerationRequest) (*Generation, error)

	// Name returns the provider's configured name.
	Name() string
}

// InlineImage is an image carried inside a JSON body.
type InlineImage struct {
	// MimeType is the media type, e.g. "image/png".
	MimeType string `json:"mime_type"`

	// Data is the base64-encoded image.
	Data string `json:"data"`
}

// GenerationRequest is a provider-agnostic generation request.
type GenerationRequest struct {
	// Prompt is the text instruction.
	Prompt string

	// Image is an optional input image.
	Image *InlineImage

	// APIKey is the credential for this call. Empty means the provider
	// uses whatever it is configured with.
	APIKey string
}

// Generation is a normalized upstream result: at most one text part and
// one image part.
type Generation struct {
	// Provider is the name of the provider that produced it.
	Provider string `json:"provider"`

	// Message is the text part, if any.
	Message string `json:"message,omitempty"`

	// ImageData is the base64-encoded image, if any.
	ImageData string `json:"image_data,omitempty"`

	// MimeType is the media type of ImageData.
	MimeType string `json:"mime_type,omitempty"`
}

// HasArtifact reports whether the generation carries an image.
func (g *Generation) HasArtifact() bool {
	return g != nil && g.ImageData != ""
}

// Response is a raw upstream HTTP response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
}

// IsSuccess reports whether the status is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ClientConfig configures the shared HTTP client.
type ClientConfig struct {
	// Name is the provider identifier used in errors and logs.
	Name string

	// Timeout bounds each attempt.
	Timeout time.Duration

	// ProxyURL routes requests through an HTTP(S) or SOCKS5 proxy.
	// Empty means direct.
	ProxyURL string

	// MaxRetries is the number of extra attempts on transport errors and
	// 5xx responses. Zero disables retries.
	MaxRetries int

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection remains in the pool
	IdleConnTimeout time.Duration

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

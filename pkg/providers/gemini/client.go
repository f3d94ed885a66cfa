package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mercator-hq/keyrelay/pkg/providers"
)

const (
	// DefaultBaseURL is the public endpoint of the primary service.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultModel is the image-capable model used when none is configured.
	DefaultModel = "gemini-2.0-flash-exp"

	// DefaultTimeout bounds generation and probe calls.
	DefaultTimeout = 30 * time.Second
)

// Config configures a Client.
type Config struct {
	// Name identifies the client in errors and logs. Default: "gemini".
	Name string

	// BaseURL is the API root, without the version segment.
	BaseURL string

	// Model is the generateContent model.
	Model string

	// DefaultKey is used when a request carries no key.
	DefaultKey string

	// ProxyURL routes calls through a network proxy.
	ProxyURL string

	// Timeout bounds each call.
	Timeout time.Duration

	// MaxRetries retries transport errors and 5xx responses.
	MaxRetries int

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Client talks to the primary generative service. It implements
// providers.Generator and serves as the health probe for stored keys.
type Client struct {
	http    *providers.Client
	baseURL string
	model   string
	defKey  string
}

// New creates a client from config.
func New(config Config) (*Client, error) {
	if config.Name == "" {
		config.Name = "gemini"
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	hc, err := providers.NewClient(providers.ClientConfig{
		Name:       config.Name,
		Timeout:    config.Timeout,
		ProxyURL:   config.ProxyURL,
		MaxRetries: config.MaxRetries,
		Transport:  config.Transport,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		http:    hc,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		model:   config.Model,
		defKey:  config.DefaultKey,
	}, nil
}

// Name returns the configured name.
func (c *Client) Name() string {
	return c.http.Name()
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.model
}

// HasDefaultKey reports whether a fallback key is configured.
func (c *Client) HasDefaultKey() bool {
	return c.defKey != ""
}

// Probe issues the "list models" call with key and returns the raw
// response. Transport failures are returned as errors; every HTTP status is
// returned as a response.
func (c *Client) Probe(ctx context.Context, key string) (*providers.Response, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models?key=%s", c.baseURL, url.QueryEscape(key))
	return c.http.DoOnce(ctx, http.MethodGet, endpoint, nil, nil)
}

// Generate sends a generateContent request. The request key wins over the
// configured default key.
func (c *Client) Generate(ctx context.Context, req *providers.GenerationRequest) (*providers.Generation, error) {
	key := req.APIKey
	if key == "" {
		key = c.defKey
	}
	if key == "" {
		return nil, &providers.AuthError{Provider: c.Name(), Message: "no API key available"}
	}

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(key))

	resp, err := c.http.Do(ctx, http.MethodPost, endpoint, body, nil)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, statusError(c.Name(), resp)
	}

	var parsed generateResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, &providers.ParseError{
			Provider:    c.Name(),
			RawResponse: string(resp.Body),
			Cause:       err,
		}
	}

	gen := extract(c.Name(), &parsed)
	if !gen.HasArtifact() {
		msg := gen.Message
		if msg == "" && parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			msg = "blocked: " + parsed.PromptFeedback.BlockReason
		}
		return nil, &providers.NoArtifactError{Provider: c.Name(), Message: msg}
	}
	return gen, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

func buildRequest(req *providers.GenerationRequest) *generateRequest {
	parts := []part{{Text: req.Prompt}}
	if req.Image != nil && req.Image.Data != "" {
		parts = append(parts, part{InlineData: &blob{
			MimeType: req.Image.MimeType,
			Data:     req.Image.Data,
		}})
	}
	return &generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
}

// extract takes at most one text part and one image part across all
// candidates, in order.
func extract(provider string, resp *generateResponse) *providers.Generation {
	gen := &providers.Generation{Provider: provider}
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if gen.Message == "" && p.Text != "" {
				gen.Message = p.Text
			}
			if img := p.image(); gen.ImageData == "" && img != nil && img.Data != "" {
				gen.ImageData = img.Data
				gen.MimeType = img.mimeType()
			}
		}
	}
	return gen
}

// statusError maps a non-2xx response. The API answers a malformed key with
// 400 INVALID_ARGUMENT, which is a credential failure rather than a bad
// request.
func statusError(provider string, resp *providers.Response) error {
	if resp.StatusCode == http.StatusBadRequest {
		if body := ParseError(resp.Body); body != nil && isKeyRejection(body) {
			return &providers.AuthError{
				Provider:   provider,
				StatusCode: resp.StatusCode,
				Message:    body.Message,
			}
		}
	}
	return providers.StatusError(provider, resp)
}

// ParseError decodes the error envelope, or returns nil.
func ParseError(body []byte) *ErrorBody {
	var env ErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	return env.Error
}

func isKeyRejection(body *ErrorBody) bool {
	msg := strings.ToLower(body.Message)
	return strings.Contains(msg, "api key not valid") ||
		strings.Contains(msg, "api_key_invalid") ||
		strings.Contains(msg, "invalid api key")
}

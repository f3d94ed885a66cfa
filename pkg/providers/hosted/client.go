// Package hosted is the client for the secondary hosted generation
// endpoint. The endpoint is a black box: the client inspects only the status
// code and whether imageData is present.
package hosted

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mercator-hq/keyrelay/pkg/providers"
)

// DefaultTimeout bounds a hosted call.
const DefaultTimeout = 15 * time.Second

// Config configures a Client.
type Config struct {
	// Name identifies the client in errors and logs. Default: "hosted".
	Name string

	// URL is the full endpoint URL.
	URL string

	// Timeout bounds each call.
	Timeout time.Duration

	// ProxyURL routes calls through a network proxy.
	ProxyURL string

	// Headers are sent with every request.
	Headers map[string]string

	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

type generateRequest struct {
	Prompt     string      `json:"prompt"`
	ImageInput *imageInput `json:"imageInput,omitempty"`
	APIKey     string      `json:"apiKey,omitempty"`
}

type imageInput struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Message   string `json:"message,omitempty"`
	ImageData string `json:"imageData,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
}

// Client calls the hosted endpoint. It implements providers.Generator.
type Client struct {
	http    *providers.Client
	url     string
	headers map[string]string
}

// New creates a client from config.
func New(config Config) (*Client, error) {
	if config.Name == "" {
		config.Name = "hosted"
	}
	if config.URL == "" {
		return nil, &providers.ConfigError{Provider: config.Name, Field: "url", Message: "url is required"}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	hc, err := providers.NewClient(providers.ClientConfig{
		Name:      config.Name,
		Timeout:   config.Timeout,
		ProxyURL:  config.ProxyURL,
		Transport: config.Transport,
	})
	if err != nil {
		return nil, err
	}
	return &Client{http: hc, url: config.URL, headers: config.Headers}, nil
}

// Name returns the configured name.
func (c *Client) Name() string {
	return c.http.Name()
}

// Generate posts the request. A caller key, when present, is passed through
// as apiKey.
func (c *Client) Generate(ctx context.Context, req *providers.GenerationRequest) (*providers.Generation, error) {
	payload := generateRequest{Prompt: req.Prompt, APIKey: req.APIKey}
	if req.Image != nil && req.Image.Data != "" {
		payload.ImageInput = &imageInput{MimeType: req.Image.MimeType, Data: req.Image.Data}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.http.Do(ctx, http.MethodPost, c.url, body, c.headers)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, providers.StatusError(c.Name(), resp)
	}

	var parsed generateResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, &providers.ParseError{Provider: c.Name(), RawResponse: string(resp.Body), Cause: err}
	}
	if parsed.ImageData == "" {
		return nil, &providers.NoArtifactError{Provider: c.Name(), Message: parsed.Message}
	}

	mimeType, data := splitDataURL(parsed.ImageData)
	if mimeType == "" {
		mimeType = parsed.MimeType
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &providers.Generation{
		Provider:  c.Name(),
		Message:   parsed.Message,
		ImageData: data,
		MimeType:  mimeType,
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// splitDataURL accepts either bare base64 or "data:<mime>;base64,<data>".
func splitDataURL(s string) (mimeType, data string) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", s
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", s
	}
	mimeType, _, _ = strings.Cut(meta, ";")
	return mimeType, payload
}

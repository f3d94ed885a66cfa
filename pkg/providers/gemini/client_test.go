package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"mercator-hq/keyrelay/internal/upstreamtest"
	"mercator-hq/keyrelay/pkg/providers"
)

const testModel = "test-image-model"

func newTestClient(t *testing.T, ms *upstreamtest.MockServer, defKey string) *Client {
	t.Helper()

	c, err := New(Config{
		BaseURL:    ms.URL(),
		Model:      testModel,
		DefaultKey: defKey,
		Timeout:    2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGenerate_TextAndImage(t *testing.T) {
	ms := upstreamtest.NewMockServer()
	defer ms.Close()
	ms.SetResponse(upstreamtest.GeneratePath(testModel),
		upstreamtest.PrimaryImage("ok", "image/png", "aW1n"))

	c := newTestClient(t, ms, "")
	gen, err := c.Generate(context.Background(), &providers.GenerationRequest{
		Prompt: "draw a cat",
		Image:  &providers.InlineImage{MimeType: "image/jpeg", Data: "aW5wdXQ="},
		APIKey: "caller-key",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gen.Message != "ok" {
		t.Errorf("Message = %q, want ok", gen.Message)
	}
	if gen.ImageData != "aW1n" || gen.MimeType != "image/png" {
		t.Errorf("image = %q (%s), want aW1n (image/png)", gen.ImageData, gen.MimeType)
	}

	reqs := ms.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d, want 1", len(reqs))
	}
	if reqs[0].Key != "caller-key" {
		t.Errorf("key = %q, want caller-key", reqs[0].Key)
	}

	var sent generateRequest
	if err := json.Unmarshal(reqs[0].Body, &sent); err != nil {
		t.Fatalf("request body not JSON: %v", err)
	}
	parts := sent.Contents[0].Parts
	if len(parts) != 2 || parts[0].Text != "draw a cat" || parts[1].InlineData == nil {
		t.Fatalf("unexpected parts: %+v", parts)
	}
	if parts[1].InlineData.MimeType != "image/jpeg" {
		t.Errorf("inline mime = %q, want image/jpeg", parts[1].InlineData.MimeType)
	}
}

func TestGenerate_TakesFirstTextAndImageOnly(t *testing.T) {
	ms := upstreamtest.NewMockServer()
	defer ms.Close()
	ms.SetResponse(upstreamtest.GeneratePath(testModel), upstreamtest.MockResponse{
		StatusCode: http.StatusOK,
		Body: `{"candidates":[{"content":{"parts":[
			{"text":"first"},
			{"inlineData":{"mimeType":"image/png","data":"b25l"}},
			{"text":"second"},
			{"inlineData":{"mimeType":"image/webp","data":"dHdv"}}
		]},"safetyRatings":[]}],"usageMetadata":{"totalTokenCount":3}}`,
	})

	c := newTestClient(t, ms, "default")
	gen, err := c.Generate(context.Background(), &providers.GenerationRequest{Prompt: "x"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if gen.Message != "first" || gen.ImageData != "b25l" || gen.MimeType != "image/png" {
		t.Errorf("got %+v", gen)
	}
	if ms.Requests()[0].Key != "default" {
		t.Errorf("default key not used")
	}
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		response upstreamtest.MockResponse
		check    func(error) bool
	}{
		{
			name:     "invalid key 400 is auth error",
			response: upstreamtest.PrimaryInvalidKey(),
			check: func(err error) bool {
				var ae *providers.AuthError
				return errors.As(err, &ae) && ae.StatusCode == 400
			},
		},
		{
			name:     "other 400 is provider error",
			response: upstreamtest.PrimaryError(400, "INVALID_ARGUMENT", "prompt too long"),
			check: func(err error) bool {
				var pe *providers.ProviderError
				return errors.As(err, &pe)
			},
		},
		{
			name:     "429 is rate limit",
			response: upstreamtest.PrimaryQuotaExceeded(),
			check:    providers.IsRateLimit,
		},
		{
			name:     "text only is no artifact",
			response: upstreamtest.PrimaryImage("I can only describe it", "", ""),
			check: func(err error) bool {
				var na *providers.NoArtifactError
				return errors.As(err, &na) && na.Message == "I can only describe it"
			},
		},
		{
			name:     "malformed body is parse error",
			response: upstreamtest.MockResponse{StatusCode: 200, Body: "<html>"},
			check: func(err error) bool {
				var pe *providers.ParseError
				return errors.As(err, &pe)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := upstreamtest.NewMockServer()
			defer ms.Close()
			ms.SetResponse(upstreamtest.GeneratePath(testModel), tt.response)

			c := newTestClient(t, ms, "k")
			_, err := c.Generate(context.Background(), &providers.GenerationRequest{Prompt: "x"})
			if err == nil {
				t.Fatal("Generate() error = nil")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error %T: %v", err, err)
			}
		})
	}
}

func TestGenerate_NoKey(t *testing.T) {
	ms := upstreamtest.NewMockServer()
	defer ms.Close()

	c := newTestClient(t, ms, "")
	_, err := c.Generate(context.Background(), &providers.GenerationRequest{Prompt: "x"})
	var ae *providers.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Generate() error = %v, want *AuthError", err)
	}
	if ms.GetRequestCount() != 0 {
		t.Error("request sent without a key")
	}
}

func TestProbe_ReturnsRawResponse(t *testing.T) {
	ms := upstreamtest.NewMockServer()
	defer ms.Close()
	ms.SetResponse(upstreamtest.ModelsPath, upstreamtest.PrimaryQuotaExceeded())

	c := newTestClient(t, ms, "")
	resp, err := c.Probe(context.Background(), "probe-key")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", resp.StatusCode)
	}
	if got := ms.Requests()[0]; got.Method != http.MethodGet || got.Key != "probe-key" {
		t.Errorf("probe request = %+v", got)
	}
}

func TestProbe_NeverRetries(t *testing.T) {
	ms := upstreamtest.NewMockServer()
	defer ms.Close()
	ms.SetResponse(upstreamtest.ModelsPath, upstreamtest.PrimaryError(http.StatusServiceUnavailable, "UNAVAILABLE", "overloaded"))

	c, err := New(Config{BaseURL: ms.URL(), Model: testModel, Timeout: 2 * time.Second, MaxRetries: 2})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close()

	resp, err := c.Probe(context.Background(), "probe-key")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", resp.StatusCode)
	}
	if got := ms.CountPath(upstreamtest.ModelsPath); got != 1 {
		t.Errorf("probe calls = %d, want 1", got)
	}
}

func TestParseError(t *testing.T) {
	body := ParseError([]byte(`{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`))
	if body == nil || body.Code != 403 || body.Status != "PERMISSION_DENIED" {
		t.Errorf("ParseError() = %+v", body)
	}
	if ParseError([]byte("not json")) != nil {
		t.Error("ParseError() on text should be nil")
	}
}

package upstreamtest

import (
	"fmt"
	"net/http"
	"time"
)

// ModelsPath is the health probe path of the primary service.
const ModelsPath = "/v1beta/models"

// GeneratePath returns the generateContent path for model.
func GeneratePath(model string) string {
	return fmt.Sprintf("/v1beta/models/%s:generateContent", model)
}

// ModelsOK is a successful model listing.
func ModelsOK() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body: map[string]interface{}{
			"models": []map[string]interface{}{
				{"name": "models/gemini-2.0-flash-exp"},
			},
		},
	}
}

// PrimaryError builds an error in the primary service's envelope.
func PrimaryError(statusCode int, status, message string) MockResponse {
	return MockResponse{
		StatusCode: statusCode,
		Body: map[string]interface{}{
			"error": map[string]interface{}{
				"code":    statusCode,
				"message": message,
				"status":  status,
			},
		},
	}
}

// PrimaryInvalidKey is the response for a rejected key.
func PrimaryInvalidKey() MockResponse {
	return PrimaryError(http.StatusBadRequest, "INVALID_ARGUMENT",
		"API key not valid. Please pass a valid API key.")
}

// PrimaryQuotaExceeded is the response for a depleted key.
func PrimaryQuotaExceeded() MockResponse {
	return PrimaryError(http.StatusTooManyRequests, "RESOURCE_EXHAUSTED",
		"You exceeded your current quota, please check your plan and billing details.")
}

// PrimaryImage is a generateContent response with an optional text part
// and one inline image.
func PrimaryImage(text, mimeType, data string) MockResponse {
	parts := []map[string]interface{}{}
	if text != "" {
		parts = append(parts, map[string]interface{}{"text": text})
	}
	if data != "" {
		parts = append(parts, map[string]interface{}{
			"inlineData": map[string]interface{}{
				"mimeType": mimeType,
				"data":     data,
			},
		})
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body: map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content":      map[string]interface{}{"role": "model", "parts": parts},
					"finishReason": "STOP",
				},
			},
			"modelVersion": "test",
		},
	}
}

// HostedImage is a successful hosted endpoint response.
func HostedImage(message, data string) MockResponse {
	body := map[string]interface{}{"imageData": data}
	if message != "" {
		body["message"] = message
	}
	return MockResponse{StatusCode: http.StatusOK, Body: body}
}

// HostedError is a failing hosted endpoint response.
func HostedError(statusCode int, message string) MockResponse {
	return MockResponse{
		StatusCode: statusCode,
		Body:       map[string]interface{}{"error": message},
	}
}

// Slow wraps r with a delay.
func Slow(r MockResponse, delay time.Duration) MockResponse {
	r.Delay = delay
	return r
}

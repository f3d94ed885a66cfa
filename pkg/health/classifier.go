package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mercator-hq/keyrelay/pkg/keys"
	"mercator-hq/keyrelay/pkg/providers"
)

// DefaultQuotaIndicators are matched case-insensitively against upstream
// error messages when no structured field decides the outcome.
var DefaultQuotaIndicators = []string{
	"quota",
	"rate limit",
	"rate-limit",
	"rate_limit",
	"resource_exhausted",
	"resource has been exhausted",
	"too many requests",
}

// DefaultInvalidIndicators are the "invalid key" family of substrings.
var DefaultInvalidIndicators = []string{
	"api key not valid",
	"api_key_invalid",
	"invalid api key",
	"api key expired",
	"permission_denied",
	"unauthenticated",
}

// Observation is the outcome of one probe: a response or a transport error.
type Observation struct {
	Response *providers.Response
	Err      error
	At       time.Time
}

// Classifier maps a probe observation to a verdict. Implementations must be
// pure and must not panic on malformed bodies.
type Classifier interface {
	Classify(obs Observation) Verdict
}

// RuleClassifier applies the ordered rules: transport failure, quota,
// invalid key, other non-2xx, success. Within each rule the status code and
// structured error fields are consulted before the substring indicators.
type RuleClassifier struct {
	QuotaIndicators   []string
	InvalidIndicators []string
}

// NewRuleClassifier creates a classifier. Nil indicator lists fall back to
// the defaults; empty non-nil lists disable substring matching.
func NewRuleClassifier(quota, invalid []string) *RuleClassifier {
	if quota == nil {
		quota = DefaultQuotaIndicators
	}
	if invalid == nil {
		invalid = DefaultInvalidIndicators
	}
	return &RuleClassifier{
		QuotaIndicators:   lowerAll(quota),
		InvalidIndicators: lowerAll(invalid),
	}
}

// upstreamError is the structured part of an error body.
type upstreamError struct {
	Code    int
	Status  string
	Message string
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(obs Observation) Verdict {
	at := obs.At
	if at.IsZero() {
		at = time.Now()
	}

	if obs.Err != nil || obs.Response == nil {
		msg := "probe failed"
		if obs.Err != nil {
			msg = fmt.Sprintf("probe failed: %v", obs.Err)
		}
		return Verdict{
			Code:        CodeCheckError,
			Message:     msg,
			QuotaStatus: keys.QuotaUnknown,
			CheckedAt:   at,
		}
	}

	resp := obs.Response
	raw, uerr := decodeBody(resp.Body)
	base := Verdict{StatusCode: resp.StatusCode, Raw: raw, CheckedAt: at}

	if resp.IsSuccess() {
		base.IsValid = true
		base.HasQuota = true
		base.Code = CodeKeyValid
		base.Message = "key is valid and has quota"
		base.QuotaStatus = keys.QuotaAvailable
		return base
	}

	message := uerr.Message
	if message == "" {
		if text, ok := raw.(string); ok {
			message = strings.TrimSpace(text)
		}
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	base.Message = message
	base.QuotaStatus = keys.QuotaUnknown

	switch {
	case c.isQuota(resp.StatusCode, uerr, message):
		base.IsValid = true
		base.Code = CodeQuotaExceeded
		base.QuotaStatus = keys.QuotaExceeded
	case c.isInvalid(resp.StatusCode, uerr, message):
		base.Code = CodeInvalidKey
	default:
		base.Code = CodeUnknownError
	}
	return base
}

func (c *RuleClassifier) isQuota(status int, uerr upstreamError, message string) bool {
	if status == http.StatusTooManyRequests || uerr.Code == http.StatusTooManyRequests {
		return true
	}
	if strings.EqualFold(uerr.Status, "RESOURCE_EXHAUSTED") {
		return true
	}
	return containsAny(message, c.QuotaIndicators)
}

func (c *RuleClassifier) isInvalid(status int, uerr upstreamError, message string) bool {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	switch uerr.Code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	switch strings.ToUpper(uerr.Status) {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		return true
	}
	return containsAny(message, c.InvalidIndicators)
}

// decodeBody returns the parsed JSON body (or the raw text) and the
// structured error fields, if present. It never fails.
func decodeBody(body []byte) (any, upstreamError) {
	if len(body) == 0 {
		return nil, upstreamError{}
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body), upstreamError{}
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return parsed, upstreamError{}
	}

	var uerr upstreamError
	switch e := obj["error"].(type) {
	case map[string]any:
		if code, ok := e["code"].(float64); ok {
			uerr.Code = int(code)
		}
		uerr.Status, _ = e["status"].(string)
		uerr.Message, _ = e["message"].(string)
	case string:
		uerr.Message = e
	}
	if uerr.Message == "" {
		uerr.Message, _ = obj["message"].(string)
	}
	return parsed, uerr
}

func containsAny(s string, needles []string) bool {
	lower := strings.ToLower(s)
	for _, n := range needles {
		if n != "" && strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

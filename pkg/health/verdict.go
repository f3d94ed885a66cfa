package health

import (
	"time"

	"mercator-hq/keyrelay/pkg/keys"
)

// Code is the classifier taxonomy.
type Code string

const (
	// CodeKeyValid means the key was accepted and has quota.
	CodeKeyValid Code = "KEY_VALID"

	// CodeQuotaExceeded means the key is authentic but depleted.
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"

	// CodeInvalidKey means the upstream rejected the key.
	CodeInvalidKey Code = "INVALID_KEY"

	// CodeUnknownError means a non-2xx response that fits no other rule.
	CodeUnknownError Code = "UNKNOWN_ERROR"

	// CodeCheckError means the probe itself failed to complete. It says
	// nothing about the key.
	CodeCheckError Code = "CHECK_ERROR"
)

// Verdict is the classifier's judgment of a single key. It is a value:
// classification never mutates state, and the store applies the only
// resulting change.
type Verdict struct {
	IsValid     bool             `json:"is_valid"`
	HasQuota    bool             `json:"has_quota"`
	Code        Code             `json:"code"`
	Message     string           `json:"message"`
	QuotaStatus keys.QuotaStatus `json:"quota_status"`

	// StatusCode is the upstream HTTP status, 0 on transport failure.
	StatusCode int `json:"status_code,omitempty"`

	// Raw is the decoded upstream body, or its text when it is not JSON.
	Raw any `json:"raw,omitempty"`

	CheckedAt time.Time `json:"checked_at"`
}

// Usable reports whether the key may be handed out.
func (v Verdict) Usable() bool {
	return v.IsValid && v.HasQuota
}

// IsCheckError reports whether the probe failed to run.
func (v Verdict) IsCheckError() bool {
	return v.Code == CodeCheckError
}

// Result converts v into the record persisted on the key.
func (v Verdict) Result() *keys.CheckResult {
	return &keys.CheckResult{
		IsValid:    v.IsValid,
		HasQuota:   v.HasQuota,
		Code:       string(v.Code),
		Message:    v.Message,
		StatusCode: v.StatusCode,
		CheckedAt:  v.CheckedAt,
	}
}

// Patch is the store update implied by v. Quota status and check metadata
// are always written. Enabled is set to Usable() unless the probe failed to
// run, in which case it is left alone.
func (v Verdict) Patch() keys.Patch {
	quota := v.QuotaStatus
	checked := v.CheckedAt
	patch := keys.Patch{
		QuotaStatus:     &quota,
		LastCheckTime:   &checked,
		LastCheckResult: v.Result(),
	}
	if !v.IsCheckError() {
		enabled := v.Usable()
		patch.Enabled = &enabled
	}
	return patch
}

package keys

import (
	"context"
	"time"
)

// QuotaStatus is the last known quota state of a key.
type QuotaStatus string

const (
	// QuotaUnknown means the key has not been checked, or the last check
	// could not tell.
	QuotaUnknown QuotaStatus = "unknown"

	// QuotaAvailable means the last check succeeded.
	QuotaAvailable QuotaStatus = "available"

	// QuotaExceeded means the key is authentic but rate or credit limited.
	QuotaExceeded QuotaStatus = "exceeded"
)

// CheckResult is the persisted summary of the most recent health check.
// It is attached to a KeyRecord and never compared across keys.
type CheckResult struct {
	// IsValid reports whether the upstream accepted the key.
	IsValid bool `json:"is_valid"`

	// HasQuota reports whether the key can currently be used.
	HasQuota bool `json:"has_quota"`

	// Code is the classifier code (KEY_VALID, QUOTA_EXCEEDED, ...).
	Code string `json:"code"`

	// Message is a human-readable explanation.
	Message string `json:"message"`

	// StatusCode is the upstream HTTP status (0 on transport failure).
	StatusCode int `json:"status_code,omitempty"`

	// CheckedAt is when the probe completed.
	CheckedAt time.Time `json:"checked_at"`
}

// KeyRecord is a stored credential plus its health and usage metadata.
type KeyRecord struct {
	// ID is the opaque, immutable identifier.
	ID string `json:"id"`

	// Secret is the credential value. Unique across all records.
	Secret string `json:"secret"`

	// Name is the display name.
	Name string `json:"name"`

	// Enabled controls whether the selector may hand out this key.
	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// UsageCount is the number of times the key was selected. Monotonic.
	UsageCount int64 `json:"usage_count"`

	// LastUsed is when the key was last selected.
	LastUsed *time.Time `json:"last_used,omitempty"`

	// QuotaStatus is the quota state from the last health check.
	QuotaStatus QuotaStatus `json:"quota_status"`

	// LastCheckTime is when the last health check ran.
	LastCheckTime *time.Time `json:"last_check_time,omitempty"`

	// LastCheckResult is the outcome of the last health check.
	LastCheckResult *CheckResult `json:"last_check_result,omitempty"`
}

// Masked returns a copy of the record with the secret reduced to a
// recognisable suffix, for listings and logs.
func (r KeyRecord) Masked() KeyRecord {
	r.Secret = MaskSecret(r.Secret)
	return r
}

// MaskSecret hides all but the last four characters of a secret.
func MaskSecret(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name            *string
	Enabled         *bool
	QuotaStatus     *QuotaStatus
	LastCheckTime   *time.Time
	LastCheckResult *CheckResult
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Enabled == nil && p.QuotaStatus == nil &&
		p.LastCheckTime == nil && p.LastCheckResult == nil
}

// apply copies the set fields of p onto r.
func (p Patch) apply(r *KeyRecord) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Enabled != nil {
		r.Enabled = *p.Enabled
	}
	if p.QuotaStatus != nil {
		r.QuotaStatus = *p.QuotaStatus
	}
	if p.LastCheckTime != nil {
		t := *p.LastCheckTime
		r.LastCheckTime = &t
	}
	if p.LastCheckResult != nil {
		res := *p.LastCheckResult
		r.LastCheckResult = &res
	}
}

// Store holds key records. Every mutating call is atomic with respect to
// other calls on the same store, so concurrent selectors and health checks
// cannot lose each other's writes.
//
// Methods returning a record return a copy; callers may not mutate stored
// state through it. Absent ids yield ErrNotFound.
type Store interface {
	// Add creates a new enabled record with zeroed counters.
	// Returns ErrDuplicateSecret if the secret is already stored.
	Add(ctx context.Context, name, secret string) (KeyRecord, error)

	// List returns all records in store iteration order (creation order).
	List(ctx context.Context) ([]KeyRecord, error)

	// Get returns a single record.
	Get(ctx context.Context, id string) (KeyRecord, error)

	// Update applies a partial update and stamps UpdatedAt.
	Update(ctx context.Context, id string, patch Patch) (KeyRecord, error)

	// Toggle flips Enabled and stamps UpdatedAt.
	Toggle(ctx context.Context, id string) (KeyRecord, error)

	// RecordUsage increments UsageCount and sets LastUsed to at.
	RecordUsage(ctx context.Context, id string, at time.Time) (KeyRecord, error)

	// Delete removes a record. Returns false if it did not exist.
	Delete(ctx context.Context, id string) (bool, error)

	// Close releases backend resources.
	Close() error
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mercator-hq/keyrelay/pkg/health"
	"mercator-hq/keyrelay/pkg/keys"
	"mercator-hq/keyrelay/pkg/providers"
	"mercator-hq/keyrelay/pkg/routing"
	"mercator-hq/keyrelay/pkg/server/middleware"
	"mercator-hq/keyrelay/pkg/telemetry/logging"
)

// CallerKeyHeader carries an optional caller-supplied credential. A key in
// the request body takes precedence.
const CallerKeyHeader = "X-Caller-Key"

// Error types used in error responses.
const (
	errInvalidRequest = "invalid_request"
	errNotFound       = "not_found"
	errConflict       = "conflict"
	errServer         = "server_error"
)

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	Prompt    string                 `json:"prompt"`
	Image     *providers.InlineImage `json:"image,omitempty"`
	CallerKey string                 `json:"api_key,omitempty"`
}

// GenerateResponse is the routing result plus printable errors.
type GenerateResponse struct {
	*routing.Result

	// Error is the aggregated failure when no tier succeeded.
	Error string `json:"error,omitempty"`

	// OriginalError is the first tier's failure, set whenever a fallback
	// happened.
	OriginalError string `json:"original_error,omitempty"`
}

// AddKeyRequest is the body of POST /api/keys.
type AddKeyRequest struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// KeyList is the body of GET /api/keys.
type KeyList struct {
	Keys    []keys.KeyRecord `json:"keys"`
	Total   int              `json:"total"`
	Enabled int              `json:"enabled"`
}

// CheckResponse is the body of POST /api/keys/{id}/check.
type CheckResponse struct {
	Verdict health.Verdict `json:"verdict"`
	Key     keys.KeyRecord `json:"key"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Routing *routing.RoutingStats `json:"routing"`
	Tiers   []string              `json:"tiers"`
	Policy  string                `json:"policy,omitempty"`

	SchedulerRunning bool       `json:"scheduler_running"`
	NextCheck        *time.Time `json:"next_check,omitempty"`
	BatchRunning     bool       `json:"batch_running"`
}

type handlers struct {
	deps   Deps
	bgCtx  context.Context
	bgWG   *sync.WaitGroup
	logger *slog.Logger
}

func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		middleware.WriteError(w, http.StatusBadRequest, errInvalidRequest, "prompt is required")
		return
	}
	if req.Image != nil {
		if req.Image.Data == "" || !strings.HasPrefix(req.Image.MimeType, "image/") {
			middleware.WriteError(w, http.StatusBadRequest, errInvalidRequest,
				"image requires data and an image/* mime_type")
			return
		}
	}
	if req.CallerKey == "" {
		req.CallerKey = r.Header.Get(CallerKeyHeader)
	}

	res := h.deps.Router.Route(r.Context(), &routing.Request{
		Prompt:    req.Prompt,
		Image:     req.Image,
		CallerKey: req.CallerKey,
	})

	resp := GenerateResponse{Result: res}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	if res.OriginalError != nil {
		resp.OriginalError = res.OriginalError.Error()
	}

	status := http.StatusOK
	switch {
	case res.Success:
	case res.QuotaExhausted:
		status = http.StatusTooManyRequests
	default:
		status = http.StatusBadGateway
	}
	if !res.Success {
		h.logger.WarnContext(r.Context(), "generation failed on every tier",
			"error", res.Err,
			"quota_exhausted", res.QuotaExhausted,
		)
	}
	writeJSON(w, status, resp)
}

func (h *handlers) listKeys(w http.ResponseWriter, r *http.Request) {
	records, err := h.deps.Store.List(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	list := KeyList{Keys: make([]keys.KeyRecord, 0, len(records)), Total: len(records)}
	for _, rec := range records {
		if rec.Enabled {
			list.Enabled++
		}
		list.Keys = append(list.Keys, rec.Masked())
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) addKey(w http.ResponseWriter, r *http.Request) {
	var req AddKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rec, err := h.deps.Store.Add(r.Context(), strings.TrimSpace(req.Name), strings.TrimSpace(req.Secret))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "key added", "key_id", rec.ID, "name", rec.Name)
	writeJSON(w, http.StatusCreated, rec.Masked())
}

func (h *handlers) getKey(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Masked())
}

func (h *handlers) deleteKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.deps.Store.Delete(r.Context(), id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	if !ok {
		h.storeError(w, r, keys.ErrNotFound)
		return
	}
	h.logger.InfoContext(r.Context(), "key deleted", "key_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) toggleKey(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Store.Toggle(r.Context(), r.PathValue("id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "key toggled", "key_id", rec.ID, "enabled", rec.Enabled)
	writeJSON(w, http.StatusOK, rec.Masked())
}

func (h *handlers) checkKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := logging.WithKeyID(r.Context(), id)
	verdict, rec, err := h.deps.Checker.Check(ctx, id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckResponse{Verdict: verdict, Key: rec.Masked()})
}

// checkAll runs a batch check. By default it waits for the report; with
// ?wait=false it starts the run in the background and answers 202.
func (h *handlers) checkAll(w http.ResponseWriter, r *http.Request) {
	wait := true
	if v := r.URL.Query().Get("wait"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, errInvalidRequest, "wait must be a boolean")
			return
		}
		wait = b
	}

	if !wait {
		if h.deps.Batch.Running() {
			middleware.WriteError(w, http.StatusConflict, errConflict, health.ErrBatchInProgress.Error())
			return
		}
		h.bgWG.Add(1)
		go func() {
			defer h.bgWG.Done()
			if _, err := h.deps.Batch.Run(h.bgCtx); err != nil && !errors.Is(err, health.ErrBatchInProgress) {
				h.logger.Error("background batch check failed", "error", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		return
	}

	report, err := h.deps.Batch.Run(r.Context())
	if errors.Is(err, health.ErrBatchInProgress) {
		middleware.WriteError(w, http.StatusConflict, errConflict, err.Error())
		return
	}
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Routing:      h.deps.Router.Stats(),
		Tiers:        h.deps.Router.TierNames(),
		BatchRunning: h.deps.Batch.Running(),
	}
	if h.deps.Pool != nil {
		resp.Policy = h.deps.Pool.Policy()
	}
	if h.deps.Scheduler != nil {
		resp.SchedulerRunning = h.deps.Scheduler.IsRunning()
		resp.NextCheck = h.deps.Scheduler.NextRun()
	}
	writeJSON(w, http.StatusOK, resp)
}

// storeError maps key store errors to HTTP responses.
func (h *handlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, keys.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, errNotFound, err.Error())
	case errors.Is(err, keys.ErrDuplicateSecret):
		middleware.WriteError(w, http.StatusConflict, errConflict, err.Error())
	case errors.Is(err, keys.ErrEmptySecret):
		middleware.WriteError(w, http.StatusBadRequest, errInvalidRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "key store operation failed", "error", err)
		middleware.WriteError(w, http.StatusInternalServerError, errServer, "key store operation failed")
	}
}

// decodeJSON decodes the body into v, answering 400 or 413 itself on
// failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, errInvalidRequest, "request body too large")
	case errors.Is(err, io.EOF):
		middleware.WriteError(w, http.StatusBadRequest, errInvalidRequest, "request body is empty")
	default:
		middleware.WriteError(w, http.StatusBadRequest, errInvalidRequest, "invalid JSON: "+err.Error())
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/keyrelay/pkg/config"
	"mercator-hq/keyrelay/pkg/health"
	"mercator-hq/keyrelay/pkg/keys"
	"mercator-hq/keyrelay/pkg/providers"
	"mercator-hq/keyrelay/pkg/routing"
	"mercator-hq/keyrelay/pkg/server/middleware"
	"mercator-hq/keyrelay/pkg/telemetry/metrics"
	"mercator-hq/keyrelay/pkg/telemetry/readiness"
)

// fakeRouter returns a fixed result and remembers the last request.
type fakeRouter struct {
	mu     sync.Mutex
	result *routing.Result
	last   *routing.Request
}

func (f *fakeRouter) Route(ctx context.Context, req *routing.Request) *routing.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	return f.result
}

func (f *fakeRouter) Stats() *routing.RoutingStats {
	return &routing.RoutingStats{TotalRequests: 3, WinsPerTier: map[string]int64{routing.TierPooled: 3}}
}

func (f *fakeRouter) TierNames() []string {
	return []string{routing.TierHosted, routing.TierPooled}
}

// statusProber answers every probe with a fixed status.
type statusProber struct {
	status int
}

func (p statusProber) Probe(ctx context.Context, key string) (*providers.Response, error) {
	return &providers.Response{StatusCode: p.status, Body: []byte(`{}`)}, nil
}

// blockingBatch reports a run in progress.
type blockingBatch struct{}

func (blockingBatch) Run(context.Context) (health.BatchReport, error) {
	return health.BatchReport{}, health.ErrBatchInProgress
}

func (blockingBatch) Running() bool { return true }

type testEnv struct {
	store   *keys.MemoryStore
	router  *fakeRouter
	handler http.Handler
	metrics *metrics.Collector
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	store := keys.NewMemoryStore()
	checker := health.NewChecker(statusProber{status: http.StatusOK}, store, health.CheckerConfig{Timeout: time.Second})
	router := &fakeRouter{result: &routing.Result{Success: true, Tier: routing.TierHosted, ImageData: "aW1n", MimeType: "image/png"}}
	collector := metrics.NewCollector(&config.MetricsConfig{Enabled: true}, prometheus.NewRegistry())

	deps := Deps{
		Router:    router,
		Store:     store,
		Checker:   checker,
		Batch:     health.NewBatchChecker(checker, -1),
		Readiness: readiness.New(time.Second),
		Metrics:   collector,
		Build:     BuildInfo{Version: "1.2.3", Commit: "abc123"},
	}
	deps.Readiness.Register("store", readiness.StoreCheck(store))
	if mutate != nil {
		mutate(&deps)
	}

	cfg := config.NewDefaultConfig().Server
	cfg.MaxBodyBytes = 1 << 16
	srv := NewServer(&cfg, deps)
	return &testEnv{store: store, router: router, handler: srv.Handler(), metrics: collector}
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v (body %q)", v, err, w.Body.String())
	}
	return v
}

func (e *testEnv) addKey(t *testing.T, name, secret string) keys.KeyRecord {
	t.Helper()
	rec, err := e.store.Add(context.Background(), name, secret)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return rec
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/v1/generate",
		`{"prompt":"a cat","image":{"mime_type":"image/png","data":"aW1n"},"api_key":"AIzaBody"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[map[string]any](t, w)
	if resp["success"] != true || resp["tier"] != routing.TierHosted || resp["image_data"] != "aW1n" {
		t.Errorf("response = %v", resp)
	}

	last := env.router.last
	if last.Prompt != "a cat" || last.CallerKey != "AIzaBody" || last.Image == nil || last.Image.MimeType != "image/png" {
		t.Errorf("routed request = %+v", last)
	}
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request ID header")
	}
}

func TestGenerate_CallerKeyHeader(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/v1/generate", `{"prompt":"p"}`, CallerKeyHeader, "AIzaHeader")
	if env.router.last.CallerKey != "AIzaHeader" {
		t.Errorf("CallerKey = %q, want header value", env.router.last.CallerKey)
	}
}

func TestGenerate_FailureStatus(t *testing.T) {
	hostedErr := &providers.ProviderError{Provider: "hosted", StatusCode: 500, Message: "down"}
	quotaErr := &providers.RateLimitError{Provider: "gemini", Message: "quota"}

	tests := []struct {
		name       string
		result     *routing.Result
		wantStatus int
	}{
		{
			name: "quota at final tier",
			result: &routing.Result{
				Err:            &routing.AllProvidersFailedError{QuotaExhausted: true},
				QuotaExhausted: true,
				OriginalError:  hostedErr,
			},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name: "generic failure",
			result: &routing.Result{
				Err:           &routing.AllProvidersFailedError{},
				OriginalError: quotaErr,
			},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.router.result = tt.result

			w := env.do(t, http.MethodPost, "/v1/generate", `{"prompt":"p"}`)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			resp := decode[map[string]any](t, w)
			if resp["success"] != false {
				t.Errorf("success = %v", resp["success"])
			}
			if resp["error"] == nil || resp["original_error"] == nil {
				t.Errorf("response lacks errors: %v", resp)
			}
		})
	}
}

func TestGenerate_BadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest},
		{name: "invalid JSON", body: `{"prompt":`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"prompt":"p","model":"x"}`, wantStatus: http.StatusBadRequest},
		{name: "blank prompt", body: `{"prompt":"   "}`, wantStatus: http.StatusBadRequest},
		{name: "image without data", body: `{"prompt":"p","image":{"mime_type":"image/png"}}`, wantStatus: http.StatusBadRequest},
		{name: "non-image mime type", body: `{"prompt":"p","image":{"mime_type":"text/plain","data":"eA=="}}`, wantStatus: http.StatusBadRequest},
		{name: "too large", body: `{"prompt":"` + strings.Repeat("x", 1<<16) + `"}`, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/generate", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
	if env.router.last != nil {
		t.Error("router called for an invalid request")
	}
}

func TestKeysAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/keys", `{"name":"main","secret":"AIzaSyExampleSecret0001"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body %s", w.Code, w.Body.String())
	}
	added := decode[keys.KeyRecord](t, w)
	if added.Secret == "AIzaSyExampleSecret0001" || !added.Enabled {
		t.Errorf("added = %+v, want masked and enabled", added)
	}

	if w := env.do(t, http.MethodPost, "/api/keys", `{"name":"dup","secret":"AIzaSyExampleSecret0001"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate add status = %d, want 409", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/keys", `{"name":"empty","secret":"  "}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty secret status = %d, want 400", w.Code)
	}

	list := decode[KeyList](t, env.do(t, http.MethodGet, "/api/keys", ""))
	if list.Total != 1 || list.Enabled != 1 || len(list.Keys) != 1 {
		t.Fatalf("list = %+v", list)
	}
	if strings.Contains(list.Keys[0].Secret, "ExampleSecret") {
		t.Errorf("list leaks secret: %q", list.Keys[0].Secret)
	}

	w = env.do(t, http.MethodPost, "/api/keys/"+added.ID+"/toggle", "")
	if toggled := decode[keys.KeyRecord](t, w); toggled.Enabled {
		t.Error("toggle did not disable key")
	}

	if w := env.do(t, http.MethodGet, "/api/keys/"+added.ID, ""); w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/keys/"+added.ID, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/keys/missing"},
		{http.MethodDelete, "/api/keys/missing"},
		{http.MethodPost, "/api/keys/missing/toggle"},
		{http.MethodPost, "/api/keys/missing/check"},
	} {
		if w := env.do(t, tc.method, tc.path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want 404", tc.method, tc.path, w.Code)
		}
	}
}

func TestCheckKey(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.addKey(t, "k", "AIzaSyExampleSecret0002")

	w := env.do(t, http.MethodPost, "/api/keys/"+rec.ID+"/check", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[CheckResponse](t, w)
	if resp.Verdict.Code != health.CodeKeyValid || resp.Key.LastCheckResult == nil {
		t.Errorf("check response = %+v", resp)
	}
	if resp.Key.Secret == rec.Secret {
		t.Error("check response leaks secret")
	}
}

func TestCheckAll(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addKey(t, "a", "AIzaSyExampleSecret0003")
	env.addKey(t, "b", "AIzaSyExampleSecret0004")

	w := env.do(t, http.MethodPost, "/api/keys/check", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	report := decode[health.BatchReport](t, w)
	if report.Total != 2 || report.Valid != 2 || len(report.Details) != 2 {
		t.Errorf("report = %+v", report)
	}

	if w := env.do(t, http.MethodPost, "/api/keys/check?wait=maybe", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad wait status = %d, want 400", w.Code)
	}
}

func TestCheckAll_InProgress(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Batch = blockingBatch{} })

	for _, path := range []string{"/api/keys/check", "/api/keys/check?wait=false"} {
		if w := env.do(t, http.MethodPost, path, ""); w.Code != http.StatusConflict {
			t.Errorf("%s status = %d, want 409", path, w.Code)
		}
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := decode[StatsResponse](t, env.do(t, http.MethodGet, "/api/stats", ""))
	if resp.Routing.TotalRequests != 3 || len(resp.Tiers) != 2 || resp.BatchRunning {
		t.Errorf("stats = %+v", resp)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/health", http.StatusOK, `"status":"ok"`},
		{"/ready", http.StatusOK, `"status":"ready"`},
		{"/version", http.StatusOK, `"version":"1.2.3"`},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodGet, tt.path, "")
		if w.Code != tt.wantStatus || !strings.Contains(w.Body.String(), tt.wantBody) {
			t.Errorf("GET %s = %d %s", tt.path, w.Code, w.Body.String())
		}
	}

	// One generate request so the HTTP series exist.
	env.do(t, http.MethodPost, "/v1/generate", `{"prompt":"p"}`)
	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `path="/v1/generate"`) {
		t.Errorf("metrics missing route-labelled request series:\n%s", w.Body.String())
	}
}

func TestReady_NotReady(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Readiness.Register("pool", readiness.PoolCheck(d.Store))
	})
	if w := env.do(t, http.MethodGet, "/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 with an empty pool", w.Code)
	}
}

func TestServer_Lifecycle(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	cfg := config.NewDefaultConfig().Server
	cfg.ShutdownTimeout = 2 * time.Second
	store := keys.NewMemoryStore()
	checker := health.NewChecker(statusProber{status: http.StatusOK}, store, health.CheckerConfig{})
	srv := NewServer(&cfg, Deps{
		Router:  &fakeRouter{result: &routing.Result{Success: true}},
		Store:   store,
		Checker: checker,
		Batch:   health.NewBatchChecker(checker, -1),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if !srv.IsRunning() {
		t.Error("IsRunning() = false while serving")
	}

	second, _ := net.Listen("tcp", "127.0.0.1:0")
	if err := srv.Serve(ctx, second); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Serve() error = %v, want ErrAlreadyRunning", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestRecoveryInChain(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Router = panicRouter{&fakeRouter{}} })
	w := env.do(t, http.MethodPost, "/v1/generate", `{"prompt":"p"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body middleware.ErrorBody
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&body); err != nil || body.Error.Type != "server_error" {
		t.Errorf("body = %s", w.Body.String())
	}
}

type panicRouter struct{ *fakeRouter }

func (panicRouter) Route(context.Context, *routing.Request) *routing.Result {
	panic("router exploded")
}

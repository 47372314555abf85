package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"club-feedback/internal/backup"
	"club-feedback/internal/config"
	"club-feedback/internal/feedback"
	"club-feedback/internal/logging"
	"club-feedback/internal/store"
)

const (
	testUser = "admin"
	testPass = "correct-horse"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>form</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "admin.html"), []byte("<html>admin</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "form.js"), []byte("console.log('ok')"), 0o644))

	return &config.Config{
		Server: config.ServerConfig{Port: 3000, StaticDir: dir, ShutdownTimeout: time.Second},
		Admin:  config.AdminConfig{Username: testUser, Password: testPass},
		CORS:   config.CORSConfig{AllowedOrigins: []string{"https://club.example.org"}},
		RateLimit: config.RateLimitConfig{
			APIRate: 100, APIWindow: 15 * time.Minute,
			SubmitRate: 3, SubmitWindow: time.Hour,
		},
	}
}

type testEnv struct {
	srv     *Server
	backend *store.Memory
}

func newTestEnv(t *testing.T, cfg *config.Config, mutate func(*Deps)) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	deps := Deps{
		Store: store.NewSubmissions(mem, time.Second, logging.NewTestLogger(t)),
		Log:   logging.NewTestLogger(t),
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := New(cfg, deps)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, backend: mem}
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte, setup func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, target, bytes.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.RemoteAddr = "203.0.113.7:40000"
	if setup != nil {
		setup(r)
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, r)
	return w
}

func asAdmin(r *http.Request) { r.SetBasicAuth(testUser, testPass) }

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

type submitResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	ID      string   `json:"id"`
	Errors  []string `json:"errors"`
}

type listResponse struct {
	Success     bool                  `json:"success"`
	Count       int                   `json:"count"`
	Submissions []feedback.Submission `json:"submissions"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestSubmitListDelete(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)
	before := time.Now().UTC().Truncate(time.Millisecond)

	w := env.do(t, http.MethodPost, "/api/submit-feedback",
		mustJSON(t, map[string]any{"fullName": "Jane Doe", "department": "Eng", "telegram": "@jane_99"}), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sr := decode[submitResponse](t, w)
	assert.True(t, sr.Success)
	assert.Equal(t, "Feedback submitted successfully", sr.Message)
	require.NotEmpty(t, sr.ID)

	w = env.do(t, http.MethodGet, "/api/submissions", nil, asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	lr := decode[listResponse](t, w)
	assert.True(t, lr.Success)
	require.Equal(t, 1, lr.Count)
	require.Len(t, lr.Submissions, 1)
	assert.Equal(t, sr.ID, lr.Submissions[0].ID)
	ts, err := time.Parse(feedback.TimestampLayout, lr.Submissions[0].Timestamp)
	require.NoError(t, err)
	assert.False(t, ts.Before(before))

	w = env.do(t, http.MethodDelete, "/api/submissions/"+sr.ID, nil, asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Submission deleted"}`, w.Body.String())

	w = env.do(t, http.MethodDelete, "/api/submissions/"+sr.ID, nil, asAdmin)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Submission not found"}`, w.Body.String())
}

func TestSubmit_InvalidTelegram(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	w := env.do(t, http.MethodPost, "/api/submit-feedback",
		mustJSON(t, map[string]any{"fullName": "Jane Doe", "department": "Eng", "telegram": "ab"}), nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	sr := decode[submitResponse](t, w)
	assert.False(t, sr.Success)
	assert.Equal(t, "Validation failed", sr.Message)
	assert.Contains(t, sr.Errors, "Invalid Telegram username format")

	subs, err := env.backend.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubmit_MissingRequiredFields(t *testing.T) {
	payloads := []map[string]any{
		{},
		{"department": "Eng", "telegram": "@jane_99"},
		{"fullName": "Jane", "telegram": "@jane_99"},
		{"fullName": "Jane", "department": "Eng"},
		{"fullName": 42, "department": "Eng", "telegram": "@jane_99"},
		{"fullName": "\x01\x02", "department": "\t", "telegram": "@jane_99"},
	}
	for _, p := range payloads {
		env := newTestEnv(t, testConfig(t), nil)
		w := env.do(t, http.MethodPost, "/api/submit-feedback", mustJSON(t, p), nil)
		require.Equal(t, http.StatusBadRequest, w.Code, "%v", p)
		assert.NotEmpty(t, decode[submitResponse](t, w).Errors)
	}
}

func TestSubmit_EmptyBodyIsValidationError(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	w := env.do(t, http.MethodPost, "/api/submit-feedback", []byte{}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, []string{
		"Full name is required",
		"Department is required",
		"Telegram username is required",
	}, decode[submitResponse](t, w).Errors)
}

func TestSubmit_SanitizesAndDropsUnknownFields(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	w := env.do(t, http.MethodPost, "/api/submit-feedback", mustJSON(t, map[string]any{
		"fullName":   "<script>alert(1)</script>",
		"department": "Eng",
		"telegram":   "jane_99",
		"ideas":      "a <b>bold</b> idea\x07",
		"isAdmin":    true,
		"rating":     5,
		"welcomed":   false,
	}), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/submissions", nil, asAdmin)
	lr := decode[listResponse](t, w)
	require.Len(t, lr.Submissions, 1)
	got := lr.Submissions[0]

	assert.NotContains(t, got.FullName, "<")
	assert.NotContains(t, got.FullName, ">")
	assert.Equal(t, "&lt;script&gt;alert(1)&lt;&#x2F;script&gt;", got.FullName)
	require.NotNil(t, got.Ideas)
	assert.Equal(t, "a &lt;b&gt;bold&lt;&#x2F;b&gt; idea", *got.Ideas)
	require.NotNil(t, got.Rating)
	assert.Equal(t, "5", *got.Rating)
	assert.Nil(t, got.Welcomed)
	assert.Nil(t, got.Skills)
	assert.NotContains(t, w.Body.String(), "isAdmin")
}

func TestSubmit_FormEncoded(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	form := url.Values{
		"fullName":   {"Jane Doe"},
		"department": {"Eng"},
		"telegram":   {"@jane_99"},
		"skills":     {"go, sql"},
	}
	w := env.do(t, http.MethodPost, "/api/submit-feedback", nil, func(r *http.Request) {
		r.Body = httpBody(form.Encode())
		r.ContentLength = int64(len(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	subs, _ := env.backend.FindAll(context.Background())
	require.Len(t, subs, 1)
	require.NotNil(t, subs[0].Skills)
	assert.Equal(t, "go, sql", *subs[0].Skills)
}

func TestSubmit_BadBodies(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	w := env.do(t, http.MethodPost, "/api/submit-feedback", []byte(`{"fullName":`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Invalid request body"}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/submit-feedback", []byte(`["not","an","object"]`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, body := range []string{
		`{"fullName":"Jane Doe","department":"Eng","telegram":"@jane_99"} xyz`,
		`{"fullName":"Jane Doe","department":"Eng","telegram":"@jane_99"}{}`,
		`{"fullName":"Jane Doe","department":"Eng","telegram":"@jane_99"}}`,
	} {
		w = env.do(t, http.MethodPost, "/api/submit-feedback", []byte(body), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.JSONEq(t, `{"success":false,"message":"Invalid request body"}`, w.Body.String())
	}
	subs, err := env.backend.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs, "trailing data must not be stored")

	w = env.do(t, http.MethodPost, "/api/submit-feedback",
		[]byte("{\"fullName\":\"Jane Doe\",\"department\":\"Eng\",\"telegram\":\"@jane_99\"}\n  "), nil)
	assert.Equal(t, http.StatusOK, w.Code, "trailing whitespace is fine")

	huge := mustJSON(t, map[string]any{"ideas": strings.Repeat("x", maxBodyBytes)})
	w = env.do(t, http.MethodPost, "/api/submit-feedback", huge, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

type failingBackend struct {
	*store.Memory
}

func (failingBackend) Insert(context.Context, feedback.Submission) error {
	return errors.New("connection pool exhausted: mongo-1.internal:27017")
}

func (failingBackend) FindAll(context.Context) ([]feedback.Submission, error) {
	return nil, errors.New("server selection timeout")
}

func (failingBackend) DeleteOne(context.Context, string) (bool, error) {
	return false, errors.New("server selection timeout")
}

func (failingBackend) Ping(context.Context) error {
	return errors.New("server selection timeout")
}

func TestStoreFailures(t *testing.T) {
	env := newTestEnv(t, testConfig(t), func(d *Deps) {
		d.Store = store.NewSubmissions(failingBackend{store.NewMemory()}, time.Second, logging.NewTestLogger(t))
	})

	w := env.do(t, http.MethodPost, "/api/submit-feedback",
		mustJSON(t, map[string]any{"fullName": "Jane Doe", "department": "Eng", "telegram": "@jane_99"}), nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Error submitting feedback. Please try again later."}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "mongo-1")

	w = env.do(t, http.MethodGet, "/api/submissions", nil, asAdmin)
	require.Equal(t, http.StatusOK, w.Code, "reads fail soft")
	assert.JSONEq(t, `{"success":true,"count":0,"submissions":[]}`, w.Body.String())

	w = env.do(t, http.MethodDelete, "/api/submissions/abc", nil, asAdmin)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Error deleting submission"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	h := decode[Health](t, w)
	assert.Equal(t, HealthStatusUnavailable, h.Status)
	assert.Equal(t, ComponentStatusDown, h.Components["store"].Status)
	assert.NotContains(t, w.Body.String(), "server selection timeout")
}

func TestDelete_OverlongIDIsNotFound(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	w := env.do(t, http.MethodDelete, "/api/submissions/"+strings.Repeat("a", 51), nil, asAdmin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/submissions"},
		{http.MethodDelete, "/api/submissions/abc"},
		{http.MethodPost, "/api/submissions/backup"},
		{http.MethodGet, "/admin"},
		{http.MethodGet, "/metrics"},
	}
	for _, rt := range routes {
		w := env.do(t, rt.method, rt.path, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", rt.method, rt.path)
		assert.Equal(t, `Basic realm="Admin Area"`, w.Header().Get("WWW-Authenticate"))

		w = env.do(t, rt.method, rt.path, nil, func(r *http.Request) { r.SetBasicAuth(testUser, "wrong") })
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"Invalid credentials"}`, w.Body.String())
	}
}

func TestSubmitRateLimit(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	for i := 0; i < 3; i++ {
		// Payload validity does not matter to the limiter.
		w := env.do(t, http.MethodPost, "/api/submit-feedback", mustJSON(t, map[string]any{"telegram": "x"}), nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/submit-feedback",
		mustJSON(t, map[string]any{"fullName": "Jane Doe", "department": "Eng", "telegram": "@jane_99"}), nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Too many feedback submissions. Please try again later."}`, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/submit-feedback",
		mustJSON(t, map[string]any{"fullName": "Jane Doe", "department": "Eng", "telegram": "@jane_99"}),
		func(r *http.Request) { r.RemoteAddr = "198.51.100.1:1000" })
	assert.Equal(t, http.StatusOK, w.Code, "other clients are unaffected")
}

func TestAPIRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.APIRate = 2
	env := newTestEnv(t, cfg, nil)

	w := env.do(t, http.MethodGet, "/api/submissions", nil, asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("RateLimit-Remaining"))

	// Unauthenticated requests still spend the budget.
	w = env.do(t, http.MethodGet, "/api/submissions", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/submissions", nil, asAdmin)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Too many requests from this IP, please try again later."}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/admin", nil, asAdmin)
	assert.Equal(t, http.StatusOK, w.Code, "pages are outside the API limiter")
}

func TestPages(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	w := env.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "form")

	w = env.do(t, http.MethodGet, "/admin", nil, asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = env.do(t, http.MethodGet, "/assets/form.js", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/assets/", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no directory listings")
}

func TestHealth(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env := newTestEnv(t, testConfig(t), func(d *Deps) { d.Now = func() time.Time { return fixed } })

	w := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	h := decode[Health](t, w)
	assert.Equal(t, HealthStatusOK, h.Status)
	assert.Equal(t, "2026-03-01T12:00:00Z", h.Timestamp)
	require.Len(t, h.Components, 1, "only configured components are reported")
	assert.Equal(t, ComponentStatusUp, h.Components["store"].Status)
}

func TestHealth_Components(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp 10.0.0.5:6379: refused") })

	tests := []struct {
		name       string
		failStore  bool
		redis      Pinger
		bucket     Pinger
		wantCode   int
		wantStatus HealthStatus
	}{
		{"all up", false, up, up, http.StatusOK, HealthStatusOK},
		{"redis down", false, down, up, http.StatusOK, HealthStatusDegraded},
		{"bucket down", false, up, down, http.StatusOK, HealthStatusDegraded},
		{"store down", true, up, up, http.StatusServiceUnavailable, HealthStatusUnavailable},
		{"store and redis down", true, down, nil, http.StatusServiceUnavailable, HealthStatusUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig(t), func(d *Deps) {
				if tt.failStore {
					d.Store = store.NewSubmissions(failingBackend{store.NewMemory()}, time.Second, nil)
				}
				d.Redis = tt.redis
				d.Bucket = tt.bucket
			})

			w := env.do(t, http.MethodGet, "/health", nil, nil)
			require.Equal(t, tt.wantCode, w.Code)
			assert.NotContains(t, w.Body.String(), "10.0.0.5")

			h := decode[Health](t, w)
			assert.Equal(t, tt.wantStatus, h.Status)
			if tt.redis != nil {
				assert.Contains(t, h.Components, "redis")
			}
			if tt.bucket != nil {
				assert.Contains(t, h.Components, "backup")
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	env.do(t, http.MethodGet, "/health", nil, nil)
	w := env.do(t, http.MethodGet, "/metrics", nil, asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "feedback_http_requests_total")
	assert.Contains(t, w.Body.String(), `route="/health"`)
}

type stubExporter struct {
	res backup.Result
	err error
}

func (s stubExporter) Export(context.Context) (backup.Result, error) { return s.res, s.err }

func TestBackupEndpoint(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, testConfig(t), nil)
		w := env.do(t, http.MethodPost, "/api/submissions/backup", nil, asAdmin)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("written", func(t *testing.T) {
		env := newTestEnv(t, testConfig(t), func(d *Deps) {
			d.Backup = stubExporter{res: backup.Result{Key: "backups/submissions-20260301-120000.json", Count: 4}}
		})
		w := env.do(t, http.MethodPost, "/api/submissions/backup", nil, asAdmin)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"key":"backups/submissions-20260301-120000.json","count":4}`, w.Body.String())
	})

	t.Run("failed", func(t *testing.T) {
		env := newTestEnv(t, testConfig(t), func(d *Deps) {
			d.Backup = stubExporter{err: errors.New("bucket gone")}
		})
		w := env.do(t, http.MethodPost, "/api/submissions/backup", nil, asAdmin)
		require.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "bucket gone")
	})
}

func TestServeAndShutdown(t *testing.T) {
	env := newTestEnv(t, testConfig(t), nil)

	ln, err := newLocalListener()
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- env.srv.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.srv.Shutdown(ctx))
	assert.NoError(t, <-errc, "a clean shutdown is not an error")
}

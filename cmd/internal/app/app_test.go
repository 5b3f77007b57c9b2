package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// devEnv sets the minimum environment for an in-memory server with cheap
// password hashing.
func devEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ESTATE_TOKEN_KEYS", "k1:"+strings.Repeat("ef", 32))
	t.Setenv("ESTATE_ARGON2_MEMORY_KIB", "8192")
	t.Setenv("ESTATE_ARGON2_ITERATIONS", "1")
	t.Setenv("ESTATE_ARGON2_PARALLELISM", "1")
}

func TestLoadConfig_ResetBackendDefaults(t *testing.T) {
	cases := []struct {
		name  string
		db    string
		redis string
		want  string
	}{
		{name: "nothing", want: ResetBackendMemory},
		{name: "db only", db: "postgres://x", want: ResetBackendPostgres},
		{name: "redis wins", db: "postgres://x", redis: "redis://localhost:6379/0", want: ResetBackendRedis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ESTATE_DATABASE_URL", tc.db)
			t.Setenv("ESTATE_REDIS_URL", tc.redis)
			t.Setenv("ESTATE_RESET_BACKEND", "")
			if got := LoadConfig().ResetBackend; got != tc.want {
				t.Fatalf("ResetBackend=%q want %q", got, tc.want)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{LogFormat: "json", ResetBackend: ResetBackendMemory, DBSchema: "estate"}
	if err := base.Validate(); err != nil {
		t.Fatalf("base: %v", err)
	}

	bad := []func(*Config){
		func(c *Config) { c.LogFormat = "xml" },
		func(c *Config) { c.ResetBackend = ResetBackendPostgres },
		func(c *Config) { c.ResetBackend = ResetBackendRedis },
		func(c *Config) { c.ResetBackend = "etcd" },
		func(c *Config) { c.DBSchema = "drop table;" },
	}
	for i, mutate := range bad {
		c := base
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, c)
		}
	}
}

func TestResetTokenHasherPolicy(t *testing.T) {
	t.Setenv("ESTATE_TOKEN_HMAC_KEY", "")
	if _, err := resetTokenHasher(Config{RequireTokenHMAC: true}); err == nil {
		t.Fatalf("missing key must fail when HMAC is required")
	}
	t.Setenv("ESTATE_TOKEN_HMAC_KEY", "short")
	if _, err := resetTokenHasher(Config{RequireTokenHMAC: true}); err == nil {
		t.Fatalf("short key must fail when HMAC is required")
	}
	t.Setenv("ESTATE_TOKEN_HMAC_KEY", strings.Repeat("z", 32))
	h, err := resetTokenHasher(Config{RequireTokenHMAC: true})
	if err != nil || !h.Keyed() {
		t.Fatalf("expected keyed hasher, err=%v", err)
	}
}

func TestApp_InMemoryEndToEnd(t *testing.T) {
	devEnv(t)
	cfg := Config{LogFormat: "json", ResetBackend: ResetBackendMemory, DBSchema: "estate"}

	a, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	post := func(path string, body any) *http.Response {
		t.Helper()
		b, _ := json.Marshal(body)
		resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(b))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	if resp := post("/auth/register", map[string]string{"email": "agent@example.com", "password": "correct horse battery staple", "role": "agent"}); resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d", resp.StatusCode)
	}
	resp := post("/auth/login", map[string]string{"email": "agent@example.com", "password": "correct horse battery staple", "device_id": "laptop"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d", resp.StatusCode)
	}
	var sess struct {
		Role        string `json:"role"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil || sess.Role != "agent" || sess.AccessToken == "" {
		t.Fatalf("decode login: %+v err=%v", sess, err)
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		r, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = r.Body.Close()
		if r.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d", path, r.StatusCode)
		}
	}

	r, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = r.Body.Close() }()
	body, _ := io.ReadAll(r.Body)
	for _, want := range []string{
		`estate_auth_logins_total{outcome="success",reason=""} 1`,
		`estate_http_request_duration_seconds_count{code="200",route="/auth/login"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	devEnv(t)
	cfg := Config{LogFormat: "json", ResetBackend: ResetBackendMemory, DBSchema: "estate", ReadinessRequireDB: true}
	a, err := New(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestApp_MissingTokenKeysFails(t *testing.T) {
	t.Setenv("ESTATE_TOKEN_KEYS", "")
	cfg := Config{LogFormat: "json", ResetBackend: ResetBackendMemory, DBSchema: "estate"}
	if _, err := New(context.Background(), cfg, testLogger()); err == nil {
		t.Fatalf("expected startup to fail without signing keys")
	}
}

func TestPurgeResetTickets_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{
		LogFormat:    "json",
		ResetBackend: ResetBackendRedis,
		RedisURL:     "redis://" + mr.Addr() + "/0",
		DBSchema:     "estate",
	}

	n, err := purgeResetTickets(context.Background(), cfg, testLogger(), time.Now())
	if err != nil || n != 0 {
		t.Fatalf("purge on empty store: n=%d err=%v", n, err)
	}

	mr.Close()
	if _, err := purgeResetTickets(context.Background(), cfg, testLogger(), time.Now()); err == nil {
		t.Fatalf("expected an error with redis down")
	}
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	if err := Run([]string{"help"}, &out); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(out.String(), "purge-reset-tickets") {
		t.Fatalf("usage missing commands: %q", out.String())
	}
	if err := Run([]string{"frobnicate"}, &out); err == nil {
		t.Fatalf("unknown command must fail")
	}
}

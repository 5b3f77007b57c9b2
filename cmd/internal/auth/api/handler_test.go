package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"estate/cmd/identity"
	"estate/cmd/internal/auth/device"
	"estate/cmd/internal/auth/lockout"
	"estate/cmd/internal/auth/reset"
	"estate/cmd/internal/auth/session"
	"estate/cmd/internal/auth/tokens"
	"estate/cmd/internal/mail"
	"estate/cmd/security/password"
	"estate/cmd/security/token"
)

const testPassword = "correct horse battery staple"

type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (o *outbox) Dispatch(m mail.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, m)
	return true
}

func (o *outbox) resetLinks() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, m := range o.msgs {
		if m.TemplateID == mail.TemplatePasswordReset {
			link, _ := m.Data["Link"].(string)
			out = append(out, link)
		}
	}
	return out
}

type testServer struct {
	mux      *http.ServeMux
	outbox   *outbox
	sessions *session.Service
}

func newTestServer(t *testing.T, cfg Config, opts ...HandlerOption) *testServer {
	t.Helper()

	pcfg := password.DefaultConfig()
	pcfg.Params.MemoryKiB = 8 * 1024
	pcfg.Params.Iterations = 1
	pcfg.Params.Parallelism = 1

	codec, err := tokens.New(tokens.Config{
		Format:      tokens.FormatJWT,
		Issuer:      "estate-test",
		Keys:        map[string]string{"k1": strings.Repeat("cd", 32)},
		ActiveKeyID: "k1",
	})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	accounts := identity.NewInMemoryStore()
	registry, err := device.NewRegistry(device.NewInMemoryStore(func(ctx context.Context, id string) bool {
		_, err := accounts.FindByID(ctx, id)
		return err == nil
	}), device.Config{Cap: 2})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	guard, err := lockout.NewGuard(accounts, lockout.DefaultConfig())
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	resets, err := reset.NewService(reset.NewInMemoryStore(), token.NewHMACHasher([]byte(strings.Repeat("k", 32))), reset.DefaultConfig())
	if err != nil {
		t.Fatalf("resets: %v", err)
	}

	box := &outbox{}
	svc, err := session.NewService(session.DefaultConfig(), session.Deps{
		Accounts: accounts,
		Hasher:   password.NewHasher(pcfg),
		Codec:    codec,
		Devices:  registry,
		Lockout:  guard,
		Resets:   resets,
		Mailer:   box,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	h, err := NewHandler(svc, cfg, opts...)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	t.Cleanup(svc.Wait)
	return &testServer{mux: mux, outbox: box, sessions: svc}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:4000"
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (s *testServer) login(t *testing.T, email, pw, dev string) sessionResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: email, Password: pw, DeviceID: dev})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", dev, rec.Code, rec.Body.String())
	}
	return decodeBody[sessionResponse](t, rec)
}

func TestRegisterLoginRefresh(t *testing.T) {
	s := newTestServer(t, DefaultConfig())

	rec := s.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "buyer@example.com", Password: testPassword})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body.String())
	}
	acct := decodeBody[registerResponse](t, rec).Account
	if acct.Role != "customer" || acct.ID == "" {
		t.Fatalf("unexpected account %+v", acct)
	}

	rec = s.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "buyer@example.com", Password: testPassword})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: %d", rec.Code)
	}
	for _, role := range []string{"admin", "agent", " Agent ", "root"} {
		rec = s.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "boss@example.com", Password: testPassword, Role: role})
		if rec.Code != http.StatusBadRequest || decodeBody[errorResponse](t, rec).Error.Code != session.OutcomeInvalidRequest {
			t.Fatalf("self-registered %q: %d %s", role, rec.Code, rec.Body.String())
		}
	}
	rec = s.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "explicit@example.com", Password: testPassword, Role: "customer"})
	if rec.Code != http.StatusCreated || decodeBody[registerResponse](t, rec).Account.Role != "customer" {
		t.Fatalf("explicit customer: %d %s", rec.Code, rec.Body.String())
	}

	sess := s.login(t, "buyer@example.com", testPassword, "phone")
	if sess.AccountID != acct.ID || sess.RefreshToken == "" || sess.AccessToken == "" {
		t.Fatalf("unexpected session %+v", sess)
	}

	rec = s.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: sess.RefreshToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("auth responses must not be cached")
	}
	if decodeBody[refreshResponse](t, rec).AccessToken == "" {
		t.Fatalf("expected a new access token")
	}
}

func TestLogin_ErrorsAreCoarse(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "a@example.com", Password: testPassword})

	unknown := s.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "nobody@example.com", Password: testPassword, DeviceID: "x"})
	wrong := s.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "a@example.com", Password: "not the password", DeviceID: "x"})
	if unknown.Code != http.StatusUnauthorized || unknown.Body.String() != wrong.Body.String() {
		t.Fatalf("unknown email and wrong password must look alike:\n%s\n%s", unknown.Body.String(), wrong.Body.String())
	}

	for range 5 {
		s.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "a@example.com", Password: "not the password", DeviceID: "x"})
	}
	locked := s.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "a@example.com", Password: testPassword, DeviceID: "x"})
	if locked.Code != http.StatusUnauthorized || locked.Body.String() != wrong.Body.String() {
		t.Fatalf("locked account must look like bad credentials: %d %s", locked.Code, locked.Body.String())
	}

	rec := s.do(t, http.MethodPost, "/auth/login", "", map[string]any{"email": "a@example.com", "extra": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown fields must be rejected: %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET login: %d", rec.Code)
	}
}

func TestEvictedDeviceGetsGenericSessionExpired(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "a@example.com", Password: testPassword})

	a := s.login(t, "a@example.com", testPassword, "A")
	s.login(t, "a@example.com", testPassword, "B")
	c := s.login(t, "a@example.com", testPassword, "C")
	if c.EvictedDeviceID != "A" {
		t.Fatalf("expected A evicted, got %q", c.EvictedDeviceID)
	}

	evicted := s.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: a.RefreshToken})
	garbage := s.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: "garbage"})
	if evicted.Code != http.StatusUnauthorized || evicted.Body.String() != garbage.Body.String() {
		t.Fatalf("eviction must be indistinguishable from a bad token:\n%s\n%s", evicted.Body.String(), garbage.Body.String())
	}
}

func TestDevicesLogoutOthersAndLogout(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "a@example.com", Password: testPassword})
	a := s.login(t, "a@example.com", testPassword, "A")
	b := s.login(t, "a@example.com", testPassword, "B")

	rec := s.do(t, http.MethodGet, "/auth/devices", b.AccessToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("devices: %d %s", rec.Code, rec.Body.String())
	}
	list := decodeBody[devicesResponse](t, rec).Devices
	if len(list) != 2 {
		t.Fatalf("expected 2 devices, got %+v", list)
	}
	for _, d := range list {
		if d.Current != (d.DeviceID == "B") {
			t.Fatalf("current flag wrong: %+v", d)
		}
	}

	rec = s.do(t, http.MethodPost, "/auth/logout_others", b.AccessToken, nil)
	if rec.Code != http.StatusOK || decodeBody[signOutOthersResponse](t, rec).SignedOut != 1 {
		t.Fatalf("logout_others: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, "/auth/devices", a.AccessToken, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("A should be signed out: %d", rec.Code)
	}

	if rec := s.do(t, http.MethodPost, "/auth/logout", b.AccessToken, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("logout: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/auth/logout", b.AccessToken, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("access token must die with its device: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/auth/logout", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing bearer: %d", rec.Code)
	}
}

func TestRevokeDevice(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "a@example.com", Password: testPassword})
	a := s.login(t, "a@example.com", testPassword, "A")
	b := s.login(t, "a@example.com", testPassword, "B")

	if rec := s.do(t, http.MethodPost, "/auth/devices/revoke", a.AccessToken, revokeDeviceRequest{DeviceID: "B"}); rec.Code != http.StatusNoContent {
		t.Fatalf("revoke: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodPost, "/auth/refresh", "", refreshRequest{RefreshToken: b.RefreshToken}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked device refresh: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/auth/devices/revoke", a.AccessToken, revokeDeviceRequest{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty device id: %d", rec.Code)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t, DefaultConfig())
	s.do(t, http.MethodPost, "/auth/register", "", registerRequest{Email: "a@example.com", Password: testPassword})
	s.login(t, "a@example.com", testPassword, "A")

	known := s.do(t, http.MethodPost, "/auth/password/forgot", "", forgotPasswordRequest{Email: "a@example.com"})
	unknown := s.do(t, http.MethodPost, "/auth/password/forgot", "", forgotPasswordRequest{Email: "ghost@example.com"})
	if known.Code != http.StatusAccepted || known.Body.String() != unknown.Body.String() {
		t.Fatalf("forgot responses differ:\n%s\n%s", known.Body.String(), unknown.Body.String())
	}
	s.sessions.Wait()

	links := s.outbox.resetLinks()
	if len(links) != 1 {
		t.Fatalf("expected one reset link, got %v", links)
	}
	u, err := url.Parse(links[0])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	tok := u.Query().Get("token")

	body := resetPasswordRequest{Token: tok, Password: "brand new passphrase"}
	if rec := s.do(t, http.MethodPost, "/auth/password/reset", "", body); rec.Code != http.StatusNoContent {
		t.Fatalf("reset: %d %s", rec.Code, rec.Body.String())
	}
	rec := s.do(t, http.MethodPost, "/auth/password/reset", "", body)
	if rec.Code != http.StatusBadRequest || decodeBody[errorResponse](t, rec).Error.Code != session.OutcomeResetLinkInvalid {
		t.Fatalf("reuse: %d %s", rec.Code, rec.Body.String())
	}

	s.login(t, "a@example.com", "brand new passphrase", "A")
}

func TestLoginIsThrottledPerIP(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IPMax = 2
	cfg.IPWindow = time.Minute
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := newTestServer(t, cfg, WithClock(func() time.Time { return now }))

	for range 2 {
		s.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "x@example.com", Password: "nope nope nope", DeviceID: "x"})
	}
	rec := s.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "x@example.com", Password: "nope nope nope", DeviceID: "x"})
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected throttling, got %d", rec.Code)
	}

	now = now.Add(time.Minute)
	rec = s.do(t, http.MethodPost, "/auth/login", "", loginRequest{Email: "x@example.com", Password: "nope nope nope", DeviceID: "x"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("window should have passed, got %d", rec.Code)
	}
}

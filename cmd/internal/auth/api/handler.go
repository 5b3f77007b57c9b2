// Package authapi exposes the session orchestrator over HTTP.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"estate/cmd/identity"
	"estate/cmd/internal/auth/device"
	"estate/cmd/internal/auth/session"
	"estate/cmd/internal/auth/tokens"
)

// Orchestrator is the subset of session.Service the handlers call.
type Orchestrator interface {
	Register(ctx context.Context, in session.RegisterInput) (identity.Account, error)
	Login(ctx context.Context, in session.LoginInput) (session.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (session.RefreshResult, error)
	ValidateAccess(ctx context.Context, accessToken string) (tokens.Claims, error)
	Logout(ctx context.Context, accountID, deviceID string) error
	RevokeDevice(ctx context.Context, accountID, deviceID string) error
	SignOutOthers(ctx context.Context, accountID, keepDeviceID string) (int64, error)
	Devices(ctx context.Context, accountID string) ([]device.Session, error)
	RequestPasswordReset(ctx context.Context, email string) string
	CompletePasswordReset(ctx context.Context, resetToken, newPassword string) error
}

// Handler wires HTTP auth endpoints to the session orchestrator.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	sessions Orchestrator
	limiter  *ipLimiter
	now      func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithClock overrides the clock used for per-IP throttling.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(sessions Orchestrator, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("authapi: nil session service")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	h := &Handler{
		log:      slog.Default(),
		cfg:      cfg,
		sessions: sessions,
		limiter:  newIPLimiter(cfg.IPMax, cfg.IPWindow),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_others", h.handleLogoutOthers)
	mux.HandleFunc("/auth/devices", h.handleDevices)
	mux.HandleFunc("/auth/devices/revoke", h.handleRevokeDevice)
	mux.HandleFunc("/auth/password/forgot", h.handleForgotPassword)
	mux.HandleFunc("/auth/password/reset", h.handleResetPassword)
}

// Routes lists the registered paths, for metrics labelling.
func Routes() []string {
	return []string{
		"/auth/register",
		"/auth/login",
		"/auth/refresh",
		"/auth/logout",
		"/auth/logout_others",
		"/auth/devices",
		"/auth/devices/revoke",
		"/auth/password/forgot",
		"/auth/password/reset",
	}
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	// Self-registration only creates customers; agents and admins are
	// provisioned by operators.
	role := identity.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if role != "" && role != identity.RoleCustomer {
		writeError(w, http.StatusBadRequest, session.OutcomeInvalidRequest, "role not allowed")
		return
	}

	r = h.withClient(r)
	acct, err := h.sessions.Register(r.Context(), session.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		h.logUnexpected("auth.register.fail", err)
		writeOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{Account: accountResponse{
		ID:        acct.ID,
		Email:     acct.Email,
		Role:      string(acct.Role),
		CreatedAt: acct.CreatedAt,
	}})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.throttle(w, r) {
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	r = h.withClient(r)
	res, err := h.sessions.Login(r.Context(), session.LoginInput{
		Email:       req.Email,
		Password:    req.Password,
		DeviceID:    strings.TrimSpace(req.DeviceID),
		DeviceLabel: strings.TrimSpace(req.DeviceLabel),
	})
	if err != nil {
		h.logUnexpected("auth.login.fail", err)
		writeOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		AccountID:        res.AccountID,
		Role:             string(res.Role),
		DeviceID:         res.DeviceID,
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: res.RefreshExpiresAt,
		EvictedDeviceID:  res.EvictedDeviceID,
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	refreshToken := strings.TrimSpace(req.RefreshToken)
	if refreshToken == "" {
		writeError(w, http.StatusBadRequest, session.OutcomeInvalidRequest, "refresh_token is required")
		return
	}

	r = h.withClient(r)
	res, err := h.sessions.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.logUnexpected("auth.refresh.fail", err)
		writeOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:     res.AccessToken,
		AccessExpiresAt: res.AccessExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r = h.withClient(r)
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Logout(r.Context(), claims.AccountID, claims.DeviceID); err != nil {
		h.logUnexpected("auth.logout.fail", err)
		writeOutcome(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutOthers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r = h.withClient(r)
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	n, err := h.sessions.SignOutOthers(r.Context(), claims.AccountID, claims.DeviceID)
	if err != nil {
		h.logUnexpected("auth.logout_others.fail", err)
		writeOutcome(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signOutOthersResponse{SignedOut: n})
}

func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	list, err := h.sessions.Devices(r.Context(), claims.AccountID)
	if err != nil {
		h.logUnexpected("auth.devices.fail", err)
		writeOutcome(w, err)
		return
	}
	out := devicesResponse{Devices: make([]deviceResponse, 0, len(list))}
	for _, d := range list {
		out.Devices = append(out.Devices, deviceResponse{
			DeviceID:     d.DeviceID,
			Label:        d.Label,
			Current:      d.DeviceID == claims.DeviceID,
			CreatedAt:    d.CreatedAt,
			LastActiveAt: d.LastActiveAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r = h.withClient(r)
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req revokeDeviceRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.sessions.RevokeDevice(r.Context(), claims.AccountID, strings.TrimSpace(req.DeviceID)); err != nil {
		h.logUnexpected("auth.devices.revoke.fail", err)
		writeOutcome(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.throttle(w, r) {
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	r = h.withClient(r)
	msg := h.sessions.RequestPasswordReset(r.Context(), req.Email)
	writeJSON(w, http.StatusAccepted, messageResponse{Message: msg})
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	r = h.withClient(r)
	if err := h.sessions.CompletePasswordReset(r.Context(), strings.TrimSpace(req.Token), req.Password); err != nil {
		h.logUnexpected("auth.password.reset.fail", err)
		writeOutcome(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (tokens.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return tokens.Claims{}, false
	}
	claims, err := h.sessions.ValidateAccess(r.Context(), token)
	if err != nil {
		h.logUnexpected("auth.access.fail", err)
		writeOutcome(w, err)
		return tokens.Claims{}, false
	}
	return claims, true
}

func (h *Handler) throttle(w http.ResponseWriter, r *http.Request) bool {
	key := ""
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		key = ip.String()
	}
	ok, retry := h.limiter.allow(key, h.now())
	if !ok {
		h.log.Warn("auth.throttle.ip", "path", r.URL.Path, "ip", key, "retry_after", retry)
		writeRateLimited(w, retry)
	}
	return ok
}

// logUnexpected logs errors that did not map to a client outcome. Expected
// rejections are already in the audit trail.
func (h *Handler) logUnexpected(event string, err error) {
	if session.Outcome(err) == session.OutcomeInternal {
		h.log.Error(event, "err", err)
	}
}

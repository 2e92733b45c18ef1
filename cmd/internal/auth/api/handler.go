package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"relay/cmd/identity"
	"relay/cmd/internal/auth/session"
	"relay/cmd/internal/notify"
)

// Publisher persists and pushes personal notifications.
type Publisher interface {
	PublishPersonal(ctx context.Context, recipientUserID string, ev notify.Personal) (notify.Notification, notify.Delivery, error)
}

// Handler wires HTTP auth endpoints to the session service.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions      *session.Service
	verifications identity.Verifications
	publisher     Publisher
	audit         AuditLog

	now func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditLog records security events and enables login throttling.
func WithAuditLog(a AuditLog) HandlerOption {
	return func(h *Handler) { h.audit = a }
}

// WithPublisher sends personal notifications for email confirmation and reset validation.
func WithPublisher(p Publisher) HandlerOption {
	return func(h *Handler) { h.publisher = p }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, verifications identity.Verifications, opts ...HandlerOption) (*Handler, error) {
	if sessions == nil || verifications == nil {
		return nil, errors.New("authapi: nil dependency")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &Handler{
		log:           log,
		cfg:           cfg,
		sessions:      sessions,
		verifications: verifications,
		now:           func() time.Time { return time.Now().UTC() },
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
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/logout-all", h.handleLogoutAll)
	mux.HandleFunc("GET /auth/sessions", h.handleSessions)
	mux.HandleFunc("POST /auth/confirm-email", h.handleConfirmEmail)
	mux.HandleFunc("POST /auth/password-reset/validate", h.handleResetValidate)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	email := identity.NormalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	dev := h.device(r, req.Fingerprint)

	if blocked, retryAfter, err := h.checkLoginIPThrottle(ctx, dev.IP, h.now()); err != nil {
		h.log.Error("auth.login.throttle_ip.fail", "err", err)
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		return
	} else if blocked {
		h.insertAudit(ctx, AuditEntry{Action: actionLoginRateLimited, IP: dev.IP, UserAgent: dev.UserAgent, Meta: map[string]any{
			"identifier":    email,
			"retry_after_s": int64(retryAfter.Seconds()),
		}})
		writeRateLimited(w, retryAfter)
		return
	}

	pair, err := h.sessions.Login(ctx, session.LoginInput{Email: email, Password: req.Password, Device: dev})
	switch {
	case err == nil:
	case errors.Is(err, session.ErrInvalidCredentials):
		h.auditLoginFailed(ctx, dev.IP, dev.UserAgent, email, "invalid_credentials")
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	case errors.Is(err, session.ErrEmailNotConfirmed):
		h.auditLoginFailed(ctx, dev.IP, dev.UserAgent, email, "email_not_confirmed")
		writeError(w, http.StatusForbidden, "email_not_confirmed", "email confirmation required")
		return
	default:
		h.log.Error("auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditLoginSuccess(ctx, pair.UserID, pair.SessionID, dev.IP, dev.UserAgent)
	writeJSON(w, http.StatusOK, toPairResponse(pair))
}

// handleRefresh answers every token or session failure with a bare 401.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	dev := h.device(r, req.Fingerprint)

	pair, err := h.sessions.Refresh(ctx, session.RefreshInput{
		AccessToken:  strings.TrimSpace(req.AccessToken),
		RefreshToken: strings.TrimSpace(req.RefreshToken),
		Device:       dev,
	})
	if err != nil {
		if errors.Is(err, session.ErrReplayDetected) {
			h.auditSession(ctx, actionRefreshReuse, "", "", dev.IP, dev.UserAgent)
		}
		if session.IsTokenError(err) || session.IsSessionError(err) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.log.Error("auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditSession(ctx, actionRefreshSuccess, pair.UserID, pair.SessionID, dev.IP, dev.UserAgent)
	writeJSON(w, http.StatusOK, toPairResponse(pair))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := h.sessions.Logout(ctx, req.RefreshToken); err != nil {
		h.log.Error("auth.logout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditSession(ctx, actionLogout, "", "", clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if _, err := h.sessions.LogoutAll(ctx, claims.UserID); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditSession(ctx, actionLogoutAll, claims.UserID, "", clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	rows, err := h.sessions.Devices(r.Context(), claims.UserID)
	if err != nil {
		h.log.Error("auth.sessions.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := sessionsResponse{Sessions: make([]deviceResponse, 0, len(rows))}
	for _, s := range rows {
		out.Sessions = append(out.Sessions, toDeviceResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleConfirmEmail consumes the confirmation link and signs the user in on this device.
func (h *Handler) handleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	var req confirmEmailRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	u, err := h.verifications.ConsumeEmailConfirmation(ctx, req.Token, h.now())
	if err != nil {
		if identity.IsNotActive(err) || identity.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "invalid_token", "invalid or expired token")
			return
		}
		h.log.Error("auth.confirm_email.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	dev := h.device(r, req.Fingerprint)
	pair, err := h.sessions.IssueForUser(ctx, u, dev)
	if err != nil {
		h.log.Error("auth.confirm_email.issue.fail", "err", err, "user_id", u.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditSession(ctx, actionEmailConfirmed, u.ID, pair.SessionID, dev.IP, dev.UserAgent)
	h.publish(ctx, u.ID, notify.EmailConfirmed{UserID: u.ID, Email: u.Email})
	writeJSON(w, http.StatusOK, toPairResponse(pair))
}

func (h *Handler) handleResetValidate(w http.ResponseWriter, r *http.Request) {
	var req resetValidateRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	u, err := h.verifications.ValidatePasswordReset(ctx, req.Token, h.now())
	if err != nil {
		if identity.IsNotActive(err) || identity.IsNotFound(err) {
			writeError(w, http.StatusBadRequest, "invalid_token", "invalid or expired token")
			return
		}
		h.log.Error("auth.password_reset.validate.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.auditSession(ctx, actionResetValidated, u.ID, "", clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.publish(ctx, u.ID, notify.PasswordResetValidated{UserID: u.ID})
	w.WriteHeader(http.StatusNoContent)
}

// ---- helpers ----

// publish runs after the business change is committed; failures are only logged.
func (h *Handler) publish(ctx context.Context, userID string, ev notify.Personal) {
	if h.publisher == nil {
		return
	}
	if _, _, err := h.publisher.PublishPersonal(ctx, userID, ev); err != nil {
		h.log.Error("auth.notify.fail", "err", err, "user_id", userID, "kind", ev.Kind())
	}
}

func (h *Handler) device(r *http.Request, fingerprint string) session.Device {
	return session.Device{
		Fingerprint: strings.TrimSpace(fingerprint),
		UserAgent:   strings.TrimSpace(r.UserAgent()),
		IP:          clientIP(r, h.cfg.TrustProxy),
	}
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.Authenticate(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func toPairResponse(p session.Pair) tokenPairResponse {
	return tokenPairResponse{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
}

func toDeviceResponse(s session.Session) deviceResponse {
	out := deviceResponse{
		SessionID:   s.ID,
		Fingerprint: s.Fingerprint,
		UserAgent:   s.UserAgent,
		CreatedAt:   s.CreatedAt,
		LastUsedAt:  s.LastUsedAt,
		ExpiresAt:   s.ExpiresAt,
	}
	if s.IP != nil {
		out.IP = s.IP.String()
	}
	return out
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

package authapi

import (
	"context"
	"net"
	"strings"
)

const (
	actionLoginFailed      = "auth.login.failed"
	actionLoginSuccess     = "auth.login.success"
	actionLoginRateLimited = "auth.login.rate_limited"
	actionRefreshSuccess   = "auth.refresh.success"
	actionRefreshReuse     = "auth.refresh.reuse_detected"
	actionLogout           = "auth.logout"
	actionLogoutAll        = "auth.logout_all"
	actionEmailConfirmed   = "auth.email.confirmed"
	actionResetValidated   = "auth.password_reset.validated"
)

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP, ua, email, reason string) {
	h.insertAudit(ctx, AuditEntry{Action: actionLoginFailed, IP: ip, UserAgent: ua, Meta: map[string]any{
		"identifier": email,
		"reason":     reason,
	}})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.insertAudit(ctx, AuditEntry{Action: actionLoginSuccess, UserID: userID, SessionID: sessionID, IP: ip, UserAgent: ua})
}

func (h *Handler) auditSession(ctx context.Context, action, userID, sessionID string, ip net.IP, ua string) {
	h.insertAudit(ctx, AuditEntry{Action: action, UserID: userID, SessionID: sessionID, IP: ip, UserAgent: ua})
}

// insertAudit never fails the request.
func (h *Handler) insertAudit(ctx context.Context, e AuditEntry) {
	if h == nil || h.audit == nil {
		return
	}
	e.Action = strings.TrimSpace(e.Action)
	if e.Action == "" {
		return
	}
	if e.At.IsZero() {
		e.At = h.now()
	}
	if err := h.audit.Record(ctx, e); err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", e.Action)
	}
}

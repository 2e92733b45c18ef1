package notify

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"relay/cmd/internal/auth/session"
)

// Authenticator verifies bearer access tokens.
type Authenticator interface {
	Authenticate(token string) (session.AccessClaims, error)
}

// Handler serves the notification inbox.
type Handler struct {
	log   *slog.Logger
	store Store
	auth  Authenticator
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, store Store, auth Authenticator) *Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Handler{log: log, store: store, auth: auth}
}

// Register mounts the inbox routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /notifications", h.list)
	mux.HandleFunc("POST /notifications/{id}/read", h.markRead)
}

type listResponse struct {
	Notifications []NotificationPayload `json:"notifications"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	rows, err := h.store.ListByUser(r.Context(), claims.UserID, limit)
	if err != nil {
		h.log.Error("notify.http.list_fail", "user_id", claims.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	out := listResponse{Notifications: make([]NotificationPayload, 0, len(rows))}
	for _, n := range rows {
		out.Notifications = append(out.Notifications, n.Payload())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	err := h.store.MarkRead(r.Context(), claims.UserID, r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "notification not found")
	default:
		h.log.Error("notify.http.mark_read_fail", "user_id", claims.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.auth.Authenticate(strings.TrimSpace(authz[7:]))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, struct {
		Error apiError `json:"error"`
	}{apiError{Code: code, Message: msg}})
}

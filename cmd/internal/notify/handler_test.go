package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relay/cmd/internal/auth/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAuth map[string]string

func (a staticAuth) Authenticate(tok string) (session.AccessClaims, error) {
	uid, ok := a[tok]
	if !ok {
		return session.AccessClaims{}, session.ErrTokenMalformed
	}
	return session.AccessClaims{UserID: uid}, nil
}

func serveInbox(t *testing.T, store Store) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	NewHandler(nil, store, staticAuth{"tok-u": "u", "tok-v": "v"}).Register(mux)
	return mux
}

func doInbox(h http.Handler, method, path, tok string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, nil)
	if tok != "" {
		r.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandler_ListAndMarkRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first, err := store.Create(ctx, NewNotification{UserID: "u", Kind: KindGeneric, Title: "first", Now: t0})
	require.NoError(t, err)
	_, err = store.Create(ctx, NewNotification{UserID: "u", Kind: KindGeneric, Title: "second", Now: t0.Add(time.Minute)})
	require.NoError(t, err)
	_, err = store.Create(ctx, NewNotification{UserID: "v", Kind: KindGeneric, Title: "other", Now: t0})
	require.NoError(t, err)

	h := serveInbox(t, store)

	w := doInbox(h, http.MethodGet, "/notifications", "tok-u")
	require.Equal(t, http.StatusOK, w.Code)
	var body listResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 2)
	assert.Equal(t, "second", body.Notifications[0].Title)

	w = doInbox(h, http.MethodGet, "/notifications?limit=1", "tok-u")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Notifications, 1)

	// Another user's notification is invisible.
	w = doInbox(h, http.MethodPost, "/notifications/"+first.ID+"/read", "tok-v")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doInbox(h, http.MethodPost, "/notifications/"+first.ID+"/read", "tok-u")
	assert.Equal(t, http.StatusNoContent, w.Code)

	rows, err := store.ListByUser(ctx, "u", 0)
	require.NoError(t, err)
	assert.True(t, rows[1].IsRead)
	assert.False(t, rows[0].IsRead)
}

func TestHandler_Rejects(t *testing.T) {
	h := serveInbox(t, NewMemoryStore())

	assert.Equal(t, http.StatusUnauthorized, doInbox(h, http.MethodGet, "/notifications", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doInbox(h, http.MethodGet, "/notifications", "forged").Code)
	assert.Equal(t, http.StatusBadRequest, doInbox(h, http.MethodGet, "/notifications?limit=x", "tok-u").Code)
}

func TestMemoryStore_Validation(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Create(context.Background(), NewNotification{UserID: "u"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = s.Create(context.Background(), NewNotification{Title: "t"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, s.MarkRead(context.Background(), "u", "missing"), ErrNotFound)
}

package notify

import (
	"context"
	"strings"
	"time"
)

// Notification is a durable personal notification.
type Notification struct {
	ID          string
	UserID      string
	Kind        Kind
	Title       string
	Description string
	IsRead      bool
	CreatedAt   time.Time
}

// NewNotification is the input to Store.Create.
type NewNotification struct {
	UserID      string
	Kind        Kind
	Title       string
	Description string
	Now         time.Time
}

func (n NewNotification) validate() error {
	if strings.TrimSpace(n.UserID) == "" || strings.TrimSpace(n.Title) == "" {
		return ErrInvalidInput
	}
	return nil
}

// Store persists personal notifications.
type Store interface {
	Create(ctx context.Context, in NewNotification) (Notification, error)

	// ListByUser returns the newest notifications first. limit <= 0 selects DefaultListLimit.
	ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error)

	// MarkRead fails with ErrNotFound unless id belongs to userID.
	MarkRead(ctx context.Context, userID, id string) error
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	default:
		return n
	}
}

// Payload returns the wire shape of n.
func (n Notification) Payload() NotificationPayload {
	return NotificationPayload{
		ID:          n.ID,
		Kind:        n.Kind,
		Title:       n.Title,
		Description: n.Description,
		IsRead:      n.IsRead,
		CreatedAt:   n.CreatedAt,
	}
}

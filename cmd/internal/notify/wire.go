package notify

import (
	"fmt"
	"time"
)

// Event names on the wire.
const (
	EventPostCreated            = "post.created"
	EventPostUpdated            = "post.updated"
	EventPostDeleted            = "post.deleted"
	EventPostJoined             = "post.joined"
	EventPostLeft               = "post.left"
	EventMessageSent            = "message.sent"
	EventMessageUpdated         = "message.updated"
	EventMessageDeleted         = "message.deleted"
	EventNotification           = "notification"
	EventEmailConfirmed         = "email.confirmed"
	EventPasswordResetValidated = "password_reset.validated"
)

type postPayload struct {
	PostID    string     `json:"postId"`
	ActorID   string     `json:"actorId"`
	Title     string     `json:"title,omitempty"`
	UserID    string     `json:"userId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type messagePayload struct {
	MessageID string     `json:"messageId"`
	ChatID    string     `json:"chatId"`
	ActorID   string     `json:"actorId"`
	Text      string     `json:"text,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// NotificationPayload is the wire shape of a personal notification.
type NotificationPayload struct {
	ID          string    `json:"id,omitempty"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	IsRead      bool      `json:"isRead"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
}

// Wire maps ev to its event name and JSON payload.
func Wire(ev Event) (string, any) {
	switch e := ev.(type) {
	case PostCreated:
		return EventPostCreated, postPayload{PostID: e.PostID, ActorID: e.ActingUserID, Title: e.Title, Timestamp: timePtr(e.CreatedAt)}
	case PostUpdated:
		return EventPostUpdated, postPayload{PostID: e.PostID, ActorID: e.ActingUserID, Title: e.Title, Timestamp: timePtr(e.UpdatedAt)}
	case PostDeleted:
		return EventPostDeleted, postPayload{PostID: e.PostID, ActorID: e.ActingUserID}
	case PostJoined:
		return EventPostJoined, postPayload{PostID: e.PostID, ActorID: e.ActingUserID, UserID: e.UserID}
	case PostLeft:
		return EventPostLeft, postPayload{PostID: e.PostID, ActorID: e.ActingUserID, UserID: e.UserID}
	case MessageSent:
		return EventMessageSent, messagePayload{MessageID: e.MessageID, ChatID: e.ChatID, ActorID: e.ActingUserID, Text: e.Text, Timestamp: timePtr(e.SentAt)}
	case MessageUpdated:
		return EventMessageUpdated, messagePayload{MessageID: e.MessageID, ChatID: e.ChatID, ActorID: e.ActingUserID, Text: e.Text}
	case MessageDeleted:
		return EventMessageDeleted, messagePayload{MessageID: e.MessageID, ChatID: e.ChatID, ActorID: e.ActingUserID}
	case Generic:
		return EventNotification, personalPayload(e)
	case EmailConfirmed:
		return EventEmailConfirmed, personalPayload(e)
	case PasswordResetValidated:
		return EventPasswordResetValidated, personalPayload(e)
	default:
		panic(fmt.Sprintf("notify: unknown event %T", ev))
	}
}

func personalPayload(p Personal) NotificationPayload {
	title, desc := p.notification()
	return NotificationPayload{Kind: p.Kind(), Title: title, Description: desc}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

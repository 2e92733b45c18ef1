package notify

import "time"

// Kind tags an event.
type Kind string

const (
	KindPostCreated    Kind = "PostCreated"
	KindPostUpdated    Kind = "PostUpdated"
	KindPostDeleted    Kind = "PostDeleted"
	KindPostJoined     Kind = "PostJoined"
	KindPostLeft       Kind = "PostLeft"
	KindMessageSent    Kind = "MessageSent"
	KindMessageUpdated Kind = "MessageUpdated"
	KindMessageDeleted Kind = "MessageDeleted"
	KindGeneric        Kind = "Generic"
)

// Event is a domain occurrence that can be pushed to clients.
// The set of implementations is closed to this package.
type Event interface {
	Kind() Kind
	isEvent()
}

// Personal is an event that is also stored as a Notification row for its recipient.
type Personal interface {
	Event
	notification() (title, description string)
}

type PostCreated struct {
	ActingUserID string
	PostID       string
	Title        string
	CreatedAt    time.Time
}

type PostUpdated struct {
	ActingUserID string
	PostID       string
	Title        string
	UpdatedAt    time.Time
}

type PostDeleted struct {
	ActingUserID string
	PostID       string
}

// PostJoined reports that UserID became a member of PostID.
type PostJoined struct {
	ActingUserID string
	PostID       string
	UserID       string
}

type PostLeft struct {
	ActingUserID string
	PostID       string
	UserID       string
}

type MessageSent struct {
	ActingUserID string
	MessageID    string
	ChatID       string
	Text         string
	SentAt       time.Time
}

type MessageUpdated struct {
	ActingUserID string
	MessageID    string
	ChatID       string
	Text         string
}

type MessageDeleted struct {
	ActingUserID string
	MessageID    string
	ChatID       string
}

// Generic is a free-form personal notification.
type Generic struct {
	Title       string
	Description string
}

// EmailConfirmed is sent to a user whose email address was just confirmed.
type EmailConfirmed struct {
	UserID string
	Email  string
}

// PasswordResetValidated is sent when a password-reset link was opened and accepted.
type PasswordResetValidated struct {
	UserID string
}

func (PostCreated) Kind() Kind            { return KindPostCreated }
func (PostUpdated) Kind() Kind            { return KindPostUpdated }
func (PostDeleted) Kind() Kind            { return KindPostDeleted }
func (PostJoined) Kind() Kind             { return KindPostJoined }
func (PostLeft) Kind() Kind               { return KindPostLeft }
func (MessageSent) Kind() Kind            { return KindMessageSent }
func (MessageUpdated) Kind() Kind         { return KindMessageUpdated }
func (MessageDeleted) Kind() Kind         { return KindMessageDeleted }
func (Generic) Kind() Kind                { return KindGeneric }
func (EmailConfirmed) Kind() Kind         { return KindGeneric }
func (PasswordResetValidated) Kind() Kind { return KindGeneric }

func (PostCreated) isEvent()            {}
func (PostUpdated) isEvent()            {}
func (PostDeleted) isEvent()            {}
func (PostJoined) isEvent()             {}
func (PostLeft) isEvent()               {}
func (MessageSent) isEvent()            {}
func (MessageUpdated) isEvent()         {}
func (MessageDeleted) isEvent()         {}
func (Generic) isEvent()                {}
func (EmailConfirmed) isEvent()         {}
func (PasswordResetValidated) isEvent() {}

func (e Generic) notification() (string, string) { return e.Title, e.Description }

func (e EmailConfirmed) notification() (string, string) {
	return "Email confirmed", "Your email address " + e.Email + " has been confirmed."
}

func (PasswordResetValidated) notification() (string, string) {
	return "Password reset requested", "A password reset link for your account was opened."
}

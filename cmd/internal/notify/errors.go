package notify

import "errors"

var (
	// ErrNotFound is returned when a notification does not exist for the user.
	ErrNotFound = errors.New("notification not found")

	// ErrInvalidInput is returned for a notification without a recipient or title.
	ErrInvalidInput = errors.New("invalid notification")
)

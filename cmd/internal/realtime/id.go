package realtime

import (
	"time"

	"relay/cmd/identity/ids"

	"github.com/google/uuid"
)

// NewConnectionID returns a random UUID used as the transport connection id.
func NewConnectionID() string {
	return uuid.NewString()
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return uuid.NewString()
	}
	return id
}

package util

import "github.com/google/uuid"

// NewID returns a random identifier for entities, sessions, and jobs.
func NewID() string {
	return uuid.NewString()
}

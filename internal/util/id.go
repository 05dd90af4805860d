package util

import "github.com/google/uuid"

// NewID returns a random UUIDv4 string used for request ids and consumer names.
func NewID() string {
	return uuid.NewString()
}

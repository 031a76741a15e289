package httputil

import "github.com/google/uuid"

// NewID returns a new random UUID string, used for job ids and temp
// upload keys.
func NewID() string {
	return uuid.NewString()
}

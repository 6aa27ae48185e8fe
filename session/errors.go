package session

import "errors"

var (
	// ErrNotFound is returned when the requested session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned when creating a session id that is already taken.
	ErrExists = errors.New("session already exists")
)

package core

import "context"

// ArtifactStore persists binary payloads produced by tools (fetched images,
// rendered documents), scoped by session and name and versioned per write.
// Implementations must be safe for concurrent use.
type ArtifactStore interface {
	// Save stores data under (sessionID, name) and returns the new version,
	// starting at 1.
	Save(ctx context.Context, sessionID, name string, data []byte) (int, error)
	// Get returns the given version; version 0 means latest.
	Get(ctx context.Context, sessionID, name string, version int) ([]byte, error)
	// Versions lists stored versions for a name in ascending order.
	Versions(ctx context.Context, sessionID, name string) ([]int, error)
	// List returns all artifact names for a session.
	List(ctx context.Context, sessionID string) ([]string, error)
	// Delete removes all versions of a name.
	Delete(ctx context.Context, sessionID, name string) error
}

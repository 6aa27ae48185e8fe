// Package artifact contains concrete implementations of the
// core.ArtifactStore.
//
// The canonical ArtifactStore interface lives in the core package to avoid
// dependency cycles and keep domain contracts central. Implementation
// packages like this one provide storage backends that can be swapped without
// touching calling code: an in-memory store for tests and single-process use,
// and a Redis store for artifacts that must outlive the process.
//
// Artifacts are binary payloads produced by tools (fetched images, rendered
// documents), scoped by session and name. Every save creates a new version;
// version 0 always reads the latest.
package artifact

// Package session houses concrete implementations of the core.SessionStore.
// The interface itself (and the Session struct) live in the core package to
// centralize domain contracts. Keeping only implementations here prevents
// higher level packages (agents, runner, engine) from depending on concrete
// storage.
//
// Two backends ship today: an in-memory store for tests and single-process
// deployments, and a Redis store for deployments where sessions must outlive
// the process. Additional backends can be added without changing any calling
// code; only the wiring layer decides which implementation to instantiate.
package session

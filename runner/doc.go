// Package runner executes one workflow's root agent against sessions.
//
// A Runner owns the event loop of an invocation: it starts the root agent,
// applies emitted state deltas to the session store in event order, persists
// non-partial events, and streams everything to the caller. It is also the
// seam where suspension surfaces: when a run returns Pending the runner
// registers each record with the approval coordinator and emits the matching
// confirmation request events; Resume consumes a handle and re-invokes the
// root with the resume descent state attached.
//
// One invocation is in flight per session at a time. The runner is the only
// writer to the session store, which keeps the append-only event log and the
// derived state consistent without store-side locking.
package runner

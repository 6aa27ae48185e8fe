// Package engine is the multi-workflow service layer.
//
// An Engine maps workflow ids to registered root agents and owns the stores
// they share: one session store, one artifact store, one approval coordinator.
// Sessions are created against a workflow id; Send and Resume route by the
// session's workflow and delegate to a per-workflow runner, so every workflow
// gets the runner's serialization and persistence guarantees while suspensions
// from all workflows resolve through a single coordinator.
//
// The Engine is the surface a service embeds. Process-lifecycle concerns live
// here too: CloseSession drops a session together with its outstanding resume
// handles, and Rehydrate rebuilds the pending-approval registry from a
// session's event log after a restart.
package engine

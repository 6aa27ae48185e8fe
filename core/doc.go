// Package core provides the foundational domain types, interfaces and
// execution contexts used by Weft. It defines the core abstractions for:
//
//   - Agents (units of autonomous / orchestrated work returning Outcomes)
//   - Sessions (stateful workflow containers with an append-only event log)
//   - Events (immutable communication + orchestration records)
//   - Outcomes (the tri-state result of any run: success, pending, failed)
//   - Suspensions (serializable continuation records for resumable runs)
//   - RunContext / ToolContext (scoped execution & tool sandboxing)
//   - Pluggable stores for session state and artifacts
//
// The package intentionally keeps implementation concerns (persistence,
// orchestration policy, concrete agents) out of scope, exposing small
// interfaces so backends and agent kinds can be supplied by other packages.
package core

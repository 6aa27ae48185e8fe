// Package agent contains the agent implementations that make up a Weft
// workflow: the model-driven leaf agent and the composite orchestrators that
// schedule children over the shared session state. The package covers three
// concerns:
//
//  1. Identity plumbing shared by every implementation (BaseAgent)
//  2. The plan/act leaf agent integrating model and tool layers (LLMAgent)
//  3. Composition patterns (Sequential, Parallel, Loop)
//
// Design principles:
//   - No hidden global state; everything flows through *core.RunContext
//   - Composability: any composite child may itself be a composite
//   - Resumability: every agent consumes its continuation frame on resume
//     and fast-forwards instead of re-executing completed work
//   - Observability: structured logs on run start, suspension and completion
//
// Execution model:
//   - Run receives a *core.RunContext and returns a core.Outcome
//   - Sequential and Loop share the working session down the chain;
//     Parallel forks frozen snapshots and merges deltas in declaration order
//   - A Pending outcome bubbles a suspension record through every ancestor,
//     each pushing a frame so the coordinator can restore the full chain
//
// Persistence, model adapters and tool plumbing live in their own packages.
package agent

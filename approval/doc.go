// Package approval tracks suspended tool invocations awaiting an external
// decision. The Coordinator registers suspension records under their durable
// invocation handles as pending outcomes reach the workflow root, enforces
// single-use consumption on resume, and can rebuild its pending table from a
// session's confirmation traffic after a process restart.
package approval

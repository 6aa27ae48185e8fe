// Package code provides pluggable execution of model-emitted code snippets.
//
// Models are unreliable at arithmetic; agents that need exact numbers emit a
// small expression instead and hand it to an Executor. The default
// ArithmeticExecutor evaluates expressions locally without spawning a process.
package code

// Executor defines the interface for executing code snippets.
type Executor interface {
	// Execute runs the given code snippet and returns the output or an error.
	Execute(code string) (string, error)
}

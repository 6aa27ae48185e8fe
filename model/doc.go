// Package model defines the provider-agnostic abstractions for driving
// language models inside Weft.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool declarations so agents stay vendor independent
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic scripting for tests (ScriptedModel, FuncModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so the agent layer remains decoupled from vendor SDKs.
package model

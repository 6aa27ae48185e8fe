package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/weftworks/weft/core"
)

// Turn is one scripted assistant turn: optional text plus zero or more
// function calls the agent should execute.
type Turn struct {
	Text  string
	Calls []core.FunctionCall
}

// content converts the turn into assistant content.
func (t Turn) content() core.Content {
	var parts []core.Part
	if t.Text != "" {
		parts = append(parts, core.TextPart{Text: t.Text})
	}
	for _, fc := range t.Calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	return core.Content{Role: "assistant", Parts: parts}
}

func (t Turn) finishReason() string {
	if len(t.Calls) > 0 {
		return "tool_calls"
	}
	return "stop"
}

// ScriptedModel replays a fixed sequence of turns, one per Generate call.
// It is the deterministic driver behind workflow tests: tool-call turns make
// the agent execute real tools, and the script advances regardless of
// transcript content. Safe for concurrent use; calls consume turns in
// arrival order.
type ScriptedModel struct {
	info Info

	mu    sync.Mutex
	turns []Turn
	next  int
}

// NewScriptedModel creates a model that replays the given turns in order.
func NewScriptedModel(name string, turns ...Turn) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: name, Provider: "scripted", SupportsTools: true},
		turns: turns,
	}
}

// Generate pops the next scripted turn. Running past the script is an error,
// pointing at a test whose agent loops more than planned.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	m.mu.Lock()
	if m.next >= len(m.turns) {
		n := m.next
		m.mu.Unlock()
		errCh <- fmt.Errorf("scripted model %s: script exhausted after %d turns", m.info.Name, n)
		close(respCh)
		close(errCh)
		return respCh, errCh
	}
	turn := m.turns[m.next]
	m.next++
	m.mu.Unlock()

	respCh <- Response{
		Partial:      false,
		Content:      turn.content(),
		FinishReason: turn.finishReason(),
	}
	close(respCh)
	close(errCh)
	return respCh, errCh
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

// Consumed returns how many turns have been played so far.
func (m *ScriptedModel) Consumed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// FuncModel computes each turn from the request, for tests that need to
// assert on transcripts or branch on state.
type FuncModel struct {
	info Info
	fn   func(req Request) (Turn, error)
}

// NewFuncModel creates a model backed by the given function.
func NewFuncModel(name string, fn func(req Request) (Turn, error)) *FuncModel {
	return &FuncModel{
		info: Info{Name: name, Provider: "scripted", SupportsTools: true},
		fn:   fn,
	}
}

// Generate implements Model.
func (m *FuncModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 1)
	errCh := make(chan error, 1)

	turn, err := m.fn(req)
	if err != nil {
		errCh <- err
	} else {
		respCh <- Response{
			Partial:      false,
			Content:      turn.content(),
			FinishReason: turn.finishReason(),
		}
	}
	close(respCh)
	close(errCh)
	return respCh, errCh
}

// Info implements Model.
func (m *FuncModel) Info() Info { return m.info }

// MockModel is a lightweight in-memory Model mapping prompts to canned text
// completions, useful for examples.
type MockModel struct {
	info      Info
	responses map[string]string
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// Generate implements Model; emits optional streaming char chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if len(req.Contents) == 0 {
			errCh <- fmt.Errorf("no contents provided")
			return
		}
		last := req.Contents[len(req.Contents)-1]
		var inputText string
		for _, p := range last.Parts {
			if tp, ok := p.(core.TextPart); ok {
				inputText += tp.Text
			}
		}
		full := m.responses[inputText]
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", inputText)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.Content{
						Role:  "assistant",
						Parts: []core.Part{core.TextPart{Text: string(r)}},
					},
				}:
				}
			}
		}
		respCh <- Response{
			Partial: false,
			Content: core.Content{
				Role:  "assistant",
				Parts: []core.Part{core.TextPart{Text: full}},
			},
			FinishReason: "stop",
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

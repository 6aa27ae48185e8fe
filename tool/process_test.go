package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/core"
)

// shProcess launches /bin/sh with a script that answers the first request
// line with the given canned response.
func shProcess(t *testing.T, response string) *Process {
	t.Helper()
	script := "read line; printf '%s\\n' '" + response + "'"
	p := NewProcess("/bin/sh", []string{"-c", script}, func(o *ProcessOptions) {
		o.RequestTimeout = 5 * time.Second
	})
	t.Cleanup(func() { _ = p.Stop() })
	return p
}

func TestProcessCallRoundTrip(t *testing.T) {
	p := shProcess(t, `{"id":1,"result":{"quote":"stay curious"}}`)

	result, remoteErr, err := p.Call(context.Background(), "fetch_quote", map[string]any{"topic": "go"})
	require.NoError(t, err)
	require.Nil(t, remoteErr)
	assert.JSONEq(t, `{"quote":"stay curious"}`, string(result))
}

func TestProcessToolSuccess(t *testing.T) {
	p := shProcess(t, `{"id":1,"result":{"quote":"stay curious"}}`)
	pt := NewProcessTool("fetch_quote", "Fetch a quote", noSchema(), p)

	out := pt.Call(newTestToolContext("fc-1", pt.Name()), map[string]any{"topic": "go"})
	require.True(t, out.IsSuccess())

	value, ok := out.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "stay curious", value["quote"])
}

func TestProcessToolRemoteTransient(t *testing.T) {
	p := shProcess(t, `{"id":1,"error":{"code":503,"message":"backend unavailable"}}`)
	pt := NewProcessTool("fetch_quote", "Fetch a quote", noSchema(), p)

	out := pt.Call(newTestToolContext("fc-1", pt.Name()), map[string]any{})
	require.True(t, out.IsFailed())
	assert.Equal(t, core.KindTransient, out.Failure.Kind)
	assert.Equal(t, 503, out.Failure.Code)
}

func TestProcessToolRemoteNonRetryable(t *testing.T) {
	p := shProcess(t, `{"id":1,"error":{"code":404,"message":"no such quote"}}`)
	pt := NewProcessTool("fetch_quote", "Fetch a quote", noSchema(), p)

	out := pt.Call(newTestToolContext("fc-1", pt.Name()), map[string]any{})
	require.True(t, out.IsFailed())
	assert.Equal(t, core.KindNonRetryable, out.Failure.Kind)
	assert.Equal(t, 404, out.Failure.Code)
}

func TestProcessExitIsTransient(t *testing.T) {
	// The child exits without answering; the transport fault is retryable.
	p := NewProcess("/bin/sh", []string{"-c", "exit 0"})
	t.Cleanup(func() { _ = p.Stop() })
	pt := NewProcessTool("fetch_quote", "Fetch a quote", noSchema(), p)

	out := pt.Call(newTestToolContext("fc-1", pt.Name()), map[string]any{})
	require.True(t, out.IsFailed())
	assert.Equal(t, core.KindTransient, out.Failure.Kind)
}

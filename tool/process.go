package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/logging"
)

// Wire format spoken with the child process: one JSON object per line in
// each direction, correlated by id.
type procRequest struct {
	ID   int            `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

type procResponse struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *procError      `json:"error,omitempty"`
}

type procError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Process manages a child process exposing capabilities over line-delimited
// JSON on stdin/stdout. One Process can back several ProcessTools; requests
// are correlated by sequential ids so calls may interleave.
type Process struct {
	command string
	args    []string
	timeout time.Duration
	logger  logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	id      int
	pending map[int]chan *procResponse
	done    chan struct{}
}

// ProcessOptions configures a Process.
type ProcessOptions struct {
	// RequestTimeout bounds one round trip to the child. Default 10s.
	RequestTimeout time.Duration

	// Logger for transport diagnostics. Default is a no-op.
	Logger logging.Logger
}

// NewProcess creates a process transport for the given command. The child is
// launched lazily on first call and relaunched after an exit.
func NewProcess(command string, args []string, optFns ...func(o *ProcessOptions)) *Process {
	opts := ProcessOptions{RequestTimeout: 10 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Process{
		command: command,
		args:    args,
		timeout: opts.RequestTimeout,
		logger:  opts.Logger,
		pending: make(map[int]chan *procResponse),
	}
}

// Start launches the child process if it is not already running.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, p.command, p.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	p.cmd = cmd
	p.stdin = stdin
	p.done = make(chan struct{})

	go p.listen(bufio.NewScanner(stdout), p.done)

	p.logger.Info("process.started", "command", p.command)
	return nil
}

// listen routes child responses to waiting callers until stdout closes, then
// marks the process dead so the next call relaunches it.
func (p *Process) listen(scanner *bufio.Scanner, done chan struct{}) {
	for scanner.Scan() {
		var resp procResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			p.logger.Warn("process.decode_failed", "error", err.Error())
			continue
		}
		p.mu.Lock()
		ch, ok := p.pending[resp.ID]
		if ok {
			delete(p.pending, resp.ID)
		}
		p.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	p.mu.Lock()
	cmd := p.cmd
	p.cmd = nil
	p.stdin = nil
	p.mu.Unlock()
	if cmd != nil {
		_ = cmd.Wait()
	}
	close(done)
	p.logger.Warn("process.exited", "command", p.command)
}

// Call performs one request round trip, starting the child if needed.
func (p *Process) Call(ctx context.Context, tool string, args map[string]any) (json.RawMessage, *procError, error) {
	if err := p.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("start %s: %w", p.command, err)
	}

	p.mu.Lock()
	p.id++
	id := p.id
	ch := make(chan *procResponse, 1)
	p.pending[id] = ch
	stdin := p.stdin
	done := p.done
	p.mu.Unlock()

	data, err := json.Marshal(procRequest{ID: id, Tool: tool, Args: args})
	if err != nil {
		p.forget(id)
		return nil, nil, err
	}
	if _, err := io.WriteString(stdin, string(data)+"\n"); err != nil {
		p.forget(id)
		return nil, nil, fmt.Errorf("write to %s: %w", p.command, err)
	}

	select {
	case resp := <-ch:
		return resp.Result, resp.Error, nil
	case <-done:
		p.forget(id)
		return nil, nil, fmt.Errorf("%s exited before responding", p.command)
	case <-ctx.Done():
		p.forget(id)
		return nil, nil, ctx.Err()
	case <-time.After(p.timeout):
		p.forget(id)
		return nil, nil, fmt.Errorf("%s request timed out", p.command)
	}
}

func (p *Process) forget(id int) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// Stop terminates the child process, if running.
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd := p.cmd
	stdin := p.stdin
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if stdin != nil {
		_ = stdin.Close()
	}
	return cmd.Process.Kill()
}

// ProcessTool exposes one capability of a child process as a Tool. Remote
// errors map into the failure taxonomy: rate-limit and server-class codes
// (429, 5xx) are transient and eligible for retry; everything else is
// non-retryable. Transport faults (crash, timeout) are transient with a 503
// code since a relaunch may succeed.
type ProcessTool struct {
	name        string
	description string
	parameters  map[string]any
	proc        *Process
}

// NewProcessTool binds a remote tool name and schema to a process transport.
func NewProcessTool(name, description string, parameters map[string]any, proc *Process) *ProcessTool {
	return &ProcessTool{
		name:        name,
		description: description,
		parameters:  parameters,
		proc:        proc,
	}
}

// Name returns the remote tool name.
func (t *ProcessTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *ProcessTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *ProcessTool) Parameters() map[string]any { return t.parameters }

// Call performs the remote invocation and classifies the result.
func (t *ProcessTool) Call(toolCtx *core.ToolContext, args map[string]any) core.Outcome {
	result, remoteErr, err := t.proc.Call(toolCtx.Context(), t.name, args)
	if err != nil {
		if ctxErr := toolCtx.Context().Err(); ctxErr != nil {
			return core.Fail(contextFailure(t.name, ctxErr))
		}
		return core.Fail(core.Transientf(503, "process tool %s: %v", t.name, err))
	}
	if remoteErr != nil {
		if remoteErr.Code == 429 || remoteErr.Code >= 500 {
			return core.Fail(core.Transientf(remoteErr.Code, "process tool %s: %s", t.name, remoteErr.Message))
		}
		return core.Fail(&core.Failure{
			Kind:    core.KindNonRetryable,
			Code:    remoteErr.Code,
			Message: fmt.Sprintf("process tool %s: %s", t.name, remoteErr.Message),
		})
	}

	var value any
	if len(result) > 0 {
		if err := json.Unmarshal(result, &value); err != nil {
			return core.Fail(core.NonRetryablef("process tool %s: malformed result: %v", t.name, err))
		}
	}
	return core.Success(value)
}

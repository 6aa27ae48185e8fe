package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/weftworks/weft/approval"
	"github.com/weftworks/weft/artifact"
	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/internal/metrics"
	"github.com/weftworks/weft/logging"
	"github.com/weftworks/weft/runner"
	"github.com/weftworks/weft/session"
)

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// EventBufferSize sets channel buffering for event delivery, passed
	// through to every workflow runner.
	EventBufferSize int
	// MaxModelCalls bounds model calls per invocation; 0 means unlimited.
	MaxModelCalls int
	// SessionStore persists sessions for all workflows. Defaults to in-memory.
	SessionStore core.SessionStore
	// ArtifactStore persists binary artifacts. Defaults to in-memory.
	ArtifactStore core.ArtifactStore
	// ApprovalStore backs the shared approval coordinator. Defaults to
	// in-memory.
	ApprovalStore approval.Store
	// Logger receives structured logs. Defaults to NoOpLogger.
	Logger logging.Logger
	// Metrics receives invocation, retry and suspension observations.
	// Nil disables collection.
	Metrics *metrics.Metrics
}

// Engine hosts multiple workflows behind one session-lifecycle API. Each
// registered workflow is a root agent wrapped in its own runner; all runners
// share the engine's stores and approval coordinator, so a session created
// for one workflow routes to that workflow for its whole life and suspension
// handles stay resolvable engine-wide.
//
// All methods are safe for concurrent use. Workflow registration during
// active traffic is allowed but replacing a workflow mid-invocation is not
// detected; register everything up front.
type Engine struct {
	eventBufferSize int
	maxModelCalls   int

	sessions    core.SessionStore
	artifacts   core.ArtifactStore
	coordinator *approval.Coordinator
	logger      logging.Logger
	metrics     *metrics.Metrics

	mu        sync.RWMutex
	workflows map[string]*runner.Runner
}

// New constructs an Engine. All stores default to in-memory implementations,
// so a zero-option engine is immediately usable for tests and demos:
//
//	e := engine.New()
//	_ = e.RegisterWorkflow("support", rootAgent)
//	sessionID, _ := e.CreateSession(ctx, "support", "user-1")
//	_, events, errs, _ := e.Send(ctx, sessionID, core.NewUserContent("hello"))
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		EventBufferSize: 100,
		MaxModelCalls:   100,
		SessionStore:    session.NewInMemoryStore(),
		ArtifactStore:   artifact.NewInMemoryStore(),
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	coordinator := approval.NewCoordinator(opts.ApprovalStore, func(o *approval.Options) {
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
	})

	return &Engine{
		eventBufferSize: opts.EventBufferSize,
		maxModelCalls:   opts.MaxModelCalls,
		sessions:        opts.SessionStore,
		artifacts:       opts.ArtifactStore,
		coordinator:     coordinator,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		workflows:       make(map[string]*runner.Runner),
	}
}

// RegisterWorkflow makes the root agent invocable under the given workflow
// id. Registering an id again replaces the previous root; sessions already
// created for the id keep routing to it.
func (e *Engine) RegisterWorkflow(workflowID string, root core.Agent) error {
	if workflowID == "" {
		return fmt.Errorf("register workflow: empty workflow id")
	}
	if root == nil {
		return fmt.Errorf("register workflow %s: nil root agent", workflowID)
	}

	r := runner.New(root, func(o *runner.Options) {
		o.EventBufferSize = e.eventBufferSize
		o.MaxModelCalls = e.maxModelCalls
		o.SessionStore = e.sessions
		o.ArtifactStore = e.artifacts
		o.Coordinator = e.coordinator
		o.Logger = e.logger
		o.Metrics = e.metrics
	})

	e.mu.Lock()
	e.workflows[workflowID] = r
	e.mu.Unlock()

	e.logger.Info("engine.workflow.register", "workflow_id", workflowID, "root", root.Name())
	return nil
}

// Workflow returns the runner registered under the given id.
func (e *Engine) Workflow(workflowID string) (*runner.Runner, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.workflows[workflowID]
	return r, ok
}

// Coordinator returns the shared approval coordinator.
func (e *Engine) Coordinator() *approval.Coordinator { return e.coordinator }

// CreateSession initializes a session bound to a registered workflow and
// returns its id. Every later Send on the session runs that workflow's root.
func (e *Engine) CreateSession(ctx context.Context, workflowID, userID string) (string, error) {
	if _, ok := e.Workflow(workflowID); !ok {
		return "", fmt.Errorf("create session: workflow %s not registered", workflowID)
	}

	sessionID := core.NewID()
	if _, err := e.sessions.Create(ctx, sessionID, workflowID, userID); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	e.logger.Info("engine.session.create",
		"session_id", sessionID, "workflow_id", workflowID, "user_id", userID)
	return sessionID, nil
}

// Send routes the message to the session's workflow and starts an
// invocation. See runner.Runner.Send for the streaming contract.
func (e *Engine) Send(ctx context.Context, sessionID string, message core.Content) (string, <-chan core.Event, <-chan error, error) {
	r, err := e.route(ctx, sessionID)
	if err != nil {
		return "", nil, nil, err
	}
	return r.Send(ctx, sessionID, message)
}

// Resume consumes a suspension handle on the session's workflow and
// re-invokes its root with the decision attached. See runner.Runner.Resume.
func (e *Engine) Resume(ctx context.Context, sessionID, invocationID string, decision core.Decision) (string, <-chan core.Event, <-chan error, error) {
	r, err := e.route(ctx, sessionID)
	if err != nil {
		return "", nil, nil, err
	}
	return r.Resume(ctx, sessionID, invocationID, decision)
}

// Cancel aborts a running invocation by id, whichever workflow it belongs to.
func (e *Engine) Cancel(invocationID string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.workflows {
		if err := r.Cancel(invocationID); err == nil {
			return nil
		}
	}
	return fmt.Errorf("invocation %s not found", invocationID)
}

// Pending lists the session's unresolved approvals, oldest first.
func (e *Engine) Pending(ctx context.Context, sessionID string) ([]*core.Suspension, error) {
	return e.coordinator.Pending(ctx, sessionID)
}

// GetSession returns a snapshot of the stored session.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	return e.sessions.Get(ctx, sessionID)
}

// CloseSession deletes the session and drops its approval records, pending
// ones included, so outstanding resume handles stop resolving.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	if err := e.coordinator.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	e.logger.Info("engine.session.close", "session_id", sessionID)
	return nil
}

// Rehydrate rebuilds the session's pending approvals from its event log and
// returns the number of records restored. Call it after a process restart
// when the approval store is volatile but the session store is durable.
func (e *Engine) Rehydrate(ctx context.Context, sessionID string) (int, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("rehydrate: %w", err)
	}
	return e.coordinator.Rehydrate(ctx, sess)
}

// route resolves the session's workflow runner.
func (e *Engine) route(ctx context.Context, sessionID string) (*runner.Runner, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	r, ok := e.Workflow(sess.WorkflowID)
	if !ok {
		return nil, fmt.Errorf("session %s: workflow %s not registered", sessionID, sess.WorkflowID)
	}
	return r, nil
}

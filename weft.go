// Package weft provides a high-level façade over the workflow engine and its
// services (sessions, artifacts, approvals, logging). Most applications
// interact with this package by:
//  1. Creating a Weft via New() (optionally from a YAML config)
//  2. Registering one or more workflows (LLM, sequential, parallel, loop, custom)
//  3. Creating sessions and driving them with Send/Resume, or the synchronous
//     SendSync/ResumeSync helpers
//
// The façade delegates orchestration to engine.Engine while keeping setup
// concise. All defaults are safe for local development and testing;
// production deployments typically select durable stores and structured
// logging through the config package.
package weft

import (
	"context"

	"github.com/weftworks/weft/approval"
	"github.com/weftworks/weft/config"
	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/engine"
	"github.com/weftworks/weft/internal/metrics"
	"github.com/weftworks/weft/logging"
)

// Metrics is the Prometheus collector set shared by the invoker, coordinator
// and runners. Mount Handler() on a scrape endpoint.
type Metrics = metrics.Metrics

// NewMetrics creates the collector set on a fresh registry.
func NewMetrics() *Metrics { return metrics.New() }

// Options configures the Weft instance.
type Options struct {
	// Config supplies limits, store backends and logging. Nil means
	// config.Default().
	Config *config.Config

	// SessionStore overrides the config-selected session store.
	SessionStore core.SessionStore
	// ArtifactStore overrides the config-selected artifact store.
	ArtifactStore core.ArtifactStore
	// ApprovalStore backs the approval coordinator. Defaults to in-memory.
	ApprovalStore approval.Store

	// Logger overrides the config-built logger. When both are unset the
	// façade stays silent; a supplied Config activates its logging section.
	Logger logging.Logger

	// Metrics receives invocation, retry and suspension observations.
	// Nil disables collection.
	Metrics *Metrics
}

// Weft is the high-level façade aggregating the engine and its services.
type Weft struct {
	engine *engine.Engine
}

// New creates a Weft instance with optional overrides. Any unset store is
// built from the config (in-memory by default).
func New(optFns ...func(o *Options)) (*Weft, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := opts.Config
	fromConfig := cfg != nil
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		if fromConfig {
			logger = cfg.Logger()
		} else {
			logger = logging.NoOpLogger{}
		}
	}

	sessions, artifacts := opts.SessionStore, opts.ArtifactStore
	if sessions == nil || artifacts == nil {
		s, a, err := cfg.OpenStores()
		if err != nil {
			return nil, err
		}
		if sessions == nil {
			sessions = s
		}
		if artifacts == nil {
			artifacts = a
		}
	}

	e := engine.New(func(o *engine.Options) {
		o.EventBufferSize = cfg.Engine.EventBufferSize
		o.MaxModelCalls = cfg.Engine.MaxModelCalls
		o.SessionStore = sessions
		o.ArtifactStore = artifacts
		o.ApprovalStore = opts.ApprovalStore
		o.Logger = logger
		o.Metrics = opts.Metrics
	})

	return &Weft{engine: e}, nil
}

// Engine exposes the underlying engine for advanced wiring.
func (w *Weft) Engine() *engine.Engine { return w.engine }

// RegisterWorkflow makes the root agent invocable under the given workflow id.
func (w *Weft) RegisterWorkflow(workflowID string, root core.Agent) error {
	return w.engine.RegisterWorkflow(workflowID, root)
}

// CreateSession initializes a session bound to a registered workflow.
func (w *Weft) CreateSession(ctx context.Context, workflowID, userID string) (string, error) {
	return w.engine.CreateSession(ctx, workflowID, userID)
}

// Send starts an asynchronous invocation returning event & error channels.
func (w *Weft) Send(ctx context.Context, sessionID string, message core.Content) (string, <-chan core.Event, <-chan error, error) {
	return w.engine.Send(ctx, sessionID, message)
}

// Resume reattaches an external decision to a suspended invocation.
func (w *Weft) Resume(ctx context.Context, sessionID, invocationID string, decision core.Decision) (string, <-chan core.Event, <-chan error, error) {
	return w.engine.Resume(ctx, sessionID, invocationID, decision)
}

// SendSync drains the async channels, accumulating events until the run
// completes, fails or suspends. On suspension the events end at the
// confirmation request; inspect Pending for the open approvals.
func (w *Weft) SendSync(ctx context.Context, sessionID string, message core.Content) (string, []core.Event, error) {
	invocationID, eventsCh, errorsCh, err := w.engine.Send(ctx, sessionID, message)
	if err != nil {
		return "", nil, err
	}
	events, err := collect(eventsCh, errorsCh)
	return invocationID, events, err
}

// ResumeSync is the synchronous form of Resume.
func (w *Weft) ResumeSync(ctx context.Context, sessionID, invocationID string, decision core.Decision) (string, []core.Event, error) {
	resumedID, eventsCh, errorsCh, err := w.engine.Resume(ctx, sessionID, invocationID, decision)
	if err != nil {
		return "", nil, err
	}
	events, err := collect(eventsCh, errorsCh)
	return resumedID, events, err
}

// Cancel aborts a running invocation by id.
func (w *Weft) Cancel(invocationID string) error { return w.engine.Cancel(invocationID) }

// Pending lists the session's unresolved approvals, oldest first.
func (w *Weft) Pending(ctx context.Context, sessionID string) ([]*core.Suspension, error) {
	return w.engine.Pending(ctx, sessionID)
}

// GetSession returns a snapshot of the stored session.
func (w *Weft) GetSession(ctx context.Context, sessionID string) (*core.Session, error) {
	return w.engine.GetSession(ctx, sessionID)
}

// CloseSession discards the session and invalidates its approval handles.
func (w *Weft) CloseSession(ctx context.Context, sessionID string) error {
	return w.engine.CloseSession(ctx, sessionID)
}

// Rehydrate rebuilds the approval registry from the session's event log,
// typically once per session after a process restart.
func (w *Weft) Rehydrate(ctx context.Context, sessionID string) (int, error) {
	return w.engine.Rehydrate(ctx, sessionID)
}

// collect accumulates events until the stream closes, then reports the
// terminal error, if any. The runner closes the events channel first and the
// errors channel after, so ranging in sequence observes everything.
func collect(eventsCh <-chan core.Event, errorsCh <-chan error) ([]core.Event, error) {
	var events []core.Event
	for ev := range eventsCh {
		events = append(events, ev)
	}
	var first error
	for err := range errorsCh {
		if first == nil {
			first = err
		}
	}
	return events, first
}

package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/weftworks/weft/approval"
	"github.com/weftworks/weft/artifact"
	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/internal/metrics"
	"github.com/weftworks/weft/logging"
	"github.com/weftworks/weft/session"
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// EventBufferSize sets channel buffering for event delivery.
	EventBufferSize int
	// MaxModelCalls bounds model calls per invocation; 0 means unlimited.
	MaxModelCalls int
	// SessionStore persists sessions. Defaults to in-memory.
	SessionStore core.SessionStore
	// ArtifactStore persists binary artifacts. Defaults to in-memory.
	ArtifactStore core.ArtifactStore
	// Coordinator registers suspensions and consumes resume handles.
	// Defaults to a coordinator over a fresh in-memory registry.
	Coordinator *approval.Coordinator
	// Logger receives structured execution logs. Defaults to NoOpLogger.
	Logger logging.Logger
	// Metrics receives invocation observations. Nil disables collection.
	Metrics *metrics.Metrics
}

// Runner drives a single root agent. Send starts a fresh invocation from user
// content; Resume reattaches an external decision to a suspended one. Both
// stream events as they happen and report terminal errors on a separate
// channel. Public methods are safe for concurrent use; within one session,
// invocations are serialized: a Send or Resume while another invocation is
// still in flight is rejected.
type Runner struct {
	agent core.Agent

	eventBufferSize int
	maxModelCalls   int

	sessions    core.SessionStore
	artifacts   core.ArtifactStore
	coordinator *approval.Coordinator
	logger      logging.Logger
	metrics     *metrics.Metrics

	mu       sync.Mutex
	active   map[string]context.CancelFunc
	inFlight map[string]string
}

// New constructs a Runner for the given root agent with optional overrides.
func New(agent core.Agent, optFns ...func(o *Options)) *Runner {
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

	if opts.Coordinator == nil {
		opts.Coordinator = approval.NewCoordinator(nil, func(o *approval.Options) {
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		})
	}

	return &Runner{
		agent:           agent,
		eventBufferSize: opts.EventBufferSize,
		maxModelCalls:   opts.MaxModelCalls,
		sessions:        opts.SessionStore,
		artifacts:       opts.ArtifactStore,
		coordinator:     opts.Coordinator,
		logger:          opts.Logger,
		metrics:         opts.Metrics,
		active:          make(map[string]context.CancelFunc),
		inFlight:        make(map[string]string),
	}
}

// Agent returns the root agent this runner drives.
func (r *Runner) Agent() core.Agent { return r.agent }

// Coordinator returns the approval coordinator handling this runner's
// suspensions.
func (r *Runner) Coordinator() *approval.Coordinator { return r.coordinator }

// Send starts an asynchronous invocation with the given user content. The
// returned invocation id identifies the run for cancellation; the events
// channel closes when the run completes, fails or suspends. Callers must
// drain the events channel (or cancel ctx); event delivery applies
// backpressure to the run.
func (r *Runner) Send(ctx context.Context, sessionID string, message core.Content) (string, <-chan core.Event, <-chan error, error) {
	invocationID := core.NewID()
	if err := r.acquire(sessionID, invocationID); err != nil {
		return "", nil, nil, err
	}

	sess, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		r.release(sessionID, invocationID)
		return "", nil, nil, fmt.Errorf("send: %w", err)
	}

	if message.Role == "" {
		message.Role = "user"
	}
	userEvent := core.NewUserEvent(invocationID, message)
	if err := r.sessions.AppendEvent(ctx, sessionID, userEvent); err != nil {
		r.release(sessionID, invocationID)
		return "", nil, nil, fmt.Errorf("send: appending user event: %w", err)
	}
	sess.AddEvent(userEvent)

	r.logger.Info("runner.send", "session_id", sessionID, "invocation_id", invocationID)
	return r.start(ctx, sess, invocationID, nil)
}

// Resume consumes the single-use invocation id minted when the session
// suspended and re-invokes the root agent with the decision attached. The
// resumed run fast-forwards to the suspended position; completed steps are
// never re-executed. Unknown, consumed or session-mismatched ids fail with an
// invalid_resumption failure without starting a run.
func (r *Runner) Resume(ctx context.Context, sessionID, invocationID string, decision core.Decision) (string, <-chan core.Event, <-chan error, error) {
	runID := core.NewID()
	if err := r.acquire(sessionID, runID); err != nil {
		return "", nil, nil, err
	}

	rec, err := r.coordinator.Resume(ctx, sessionID, invocationID, decision)
	if err != nil {
		r.release(sessionID, runID)
		return "", nil, nil, err
	}

	sess, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		r.release(sessionID, runID)
		return "", nil, nil, fmt.Errorf("resume: %w", err)
	}

	if decision.ApprovalID == "" {
		decision.ApprovalID = rec.ApprovalID
	}
	respEvent := core.NewConfirmationResponseEvent(runID, decision)
	if err := r.sessions.AppendEvent(ctx, sessionID, respEvent); err != nil {
		r.release(sessionID, runID)
		return "", nil, nil, fmt.Errorf("resume: appending response event: %w", err)
	}
	sess.AddEvent(respEvent)

	r.logger.Info("runner.resume", "session_id", sessionID, "invocation_id", runID,
		"approval_id", rec.ApprovalID, "confirmed", decision.Confirmed)
	return r.start(ctx, sess, runID, core.NewResumeState(rec, decision))
}

// Cancel aborts a running invocation by id. Cancellation is cooperative: the
// run terminates once the agent observes it.
func (r *Runner) Cancel(invocationID string) error {
	r.mu.Lock()
	cancel, ok := r.active[invocationID]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("invocation %s not found", invocationID)
	}

	cancel()
	return nil
}

// start spins up the two goroutines of an invocation: the agent run and the
// event loop persisting and forwarding its emissions. The event loop is the
// sole closer of the returned channels and waits for the agent goroutine, so
// a closed events channel means the invocation has fully wound down and the
// session slot is free again.
func (r *Runner) start(ctx context.Context, sess *core.Session, invocationID string, rs *core.ResumeState) (string, <-chan core.Event, <-chan error, error) {
	eventsCh := make(chan core.Event, r.eventBufferSize)
	// Capacity two: the agent goroutine and the event loop send at most one
	// terminal error each, so neither ever blocks on a full channel.
	errorsCh := make(chan error, 2)
	agentEmit := make(chan core.Event, r.eventBufferSize)
	agentDone := make(chan struct{})

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.active[invocationID] = cancel
	r.mu.Unlock()

	info := core.AgentInfo{Name: r.agent.Name(), Type: "agent"}
	rc := core.NewRunContext(runCtx, sess.ID, invocationID, info, core.Content{},
		agentEmit, sess, r.sessions, r.artifacts, core.NewLimiter(r.maxModelCalls), r.logger)
	if rs != nil {
		rc = rc.WithResume(rs)
	}

	go func() {
		defer close(agentDone)
		defer close(agentEmit)
		r.invoke(rc, errorsCh)
	}()

	go func() {
		defer func() {
			<-agentDone
			cancel()
			r.release(sess.ID, invocationID)
			close(eventsCh)
			close(errorsCh)
		}()
		r.processEvents(rc, sess.ID, cancel, agentEmit, eventsCh, errorsCh)
	}()

	return invocationID, eventsCh, errorsCh, nil
}

// invoke runs the root agent and translates its outcome into terminal
// traffic: confirmation requests for Pending, an error event plus a terminal
// error for Failed, nothing extra for Success (the agent emitted its final
// event itself).
func (r *Runner) invoke(rc *core.RunContext, errorsCh chan<- error) {
	workflow := rc.Session.WorkflowID
	if workflow == "" {
		workflow = r.agent.Name()
	}

	out := r.agent.Run(rc)
	switch {
	case out.IsPending():
		r.metrics.ObserveInvocation(workflow, "pending")
		for _, rec := range out.Suspensions {
			if rec.SessionID == "" {
				rec.SessionID = rc.SessionID
			}
			if err := r.coordinator.Suspend(rc.Context, rec); err != nil {
				r.logger.Error("runner.suspend.failed", "session_id", rc.SessionID, "error", err.Error())
				errorsCh <- fmt.Errorf("registering suspension: %w", err)
				return
			}
			// Emit after registration so the event carries the durable handle:
			// a re-suspended approval keeps its original invocation id.
			if err := rc.EmitEvent(core.NewConfirmationRequestEvent(rc.InvocationID, rec)); err != nil {
				return
			}
		}
		r.logger.Info("runner.suspended", "session_id", rc.SessionID,
			"invocation_id", rc.InvocationID, "suspensions", len(out.Suspensions))

	case out.IsFailed():
		r.metrics.ObserveInvocation(workflow, "failed")
		r.logger.Warn("runner.failed", "session_id", rc.SessionID,
			"invocation_id", rc.InvocationID, "kind", string(out.Failure.Kind), "error", out.Failure.Message)
		_ = rc.EmitEvent(core.NewErrorEvent(rc.InvocationID, r.agent.Name(), out.Failure))
		errorsCh <- out.Failure

	default:
		r.metrics.ObserveInvocation(workflow, "success")
		r.logger.Info("runner.complete", "session_id", rc.SessionID, "invocation_id", rc.InvocationID)
	}
}

// processEvents is the single writer to the session store: it applies each
// event's state delta, appends non-partial events to the log, then forwards
// the event to the caller, in emission order. It always drains the emit
// channel to completion so the agent goroutine never blocks mid-shutdown;
// after a persistence failure or a cancelled consumer, remaining events are
// consumed without effect.
func (r *Runner) processEvents(rc *core.RunContext, sessionID string, cancel context.CancelFunc, agentEmit <-chan core.Event, eventsCh chan<- core.Event, errorsCh chan<- error) {
	var dead bool
	for ev := range agentEmit {
		if dead {
			continue
		}

		if len(ev.Actions.StateDelta) > 0 {
			if err := r.sessions.ApplyDelta(rc.Context, sessionID, ev.Actions.StateDelta); err != nil {
				r.logger.Error("runner.event.persist_failed", "session_id", sessionID, "error", err.Error())
				errorsCh <- fmt.Errorf("applying state delta: %w", err)
				cancel()
				dead = true
				continue
			}
		}
		if !ev.Partial {
			if err := r.sessions.AppendEvent(rc.Context, sessionID, ev); err != nil {
				r.logger.Error("runner.event.persist_failed", "session_id", sessionID, "error", err.Error())
				errorsCh <- fmt.Errorf("appending event: %w", err)
				cancel()
				dead = true
				continue
			}
		}

		select {
		case eventsCh <- ev:
			r.logger.Debug("runner.event.deliver", "event_id", ev.ID,
				"session_id", sessionID, "type", string(ev.Type()))
		case <-rc.Done():
			dead = true
		}
	}
}

// acquire claims the session's single invocation slot.
func (r *Runner) acquire(sessionID, invocationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, busy := r.inFlight[sessionID]; busy {
		return fmt.Errorf("session %s: invocation %s still in flight", sessionID, current)
	}
	r.inFlight[sessionID] = invocationID
	return nil
}

func (r *Runner) release(sessionID, invocationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, invocationID)
	if r.inFlight[sessionID] == invocationID {
		delete(r.inFlight, sessionID)
	}
}

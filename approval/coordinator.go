package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/internal/metrics"
	"github.com/weftworks/weft/logging"
)

// Options holds dependency overrides passed to NewCoordinator.
type Options struct {
	// Logger receives coordinator lifecycle logs.
	Logger logging.Logger
	// Metrics receives suspension and resumption observations. Nil disables.
	Metrics *metrics.Metrics
}

// Coordinator is the resumable-execution registry. The runner hands it every
// suspension record reaching the workflow root; external callers consume
// records through Resume exactly once, using the invocation id as the handle.
type Coordinator struct {
	store   Store
	logger  logging.Logger
	metrics *metrics.Metrics

	// mu serializes check-then-write sequences (upsert on Suspend, single-use
	// consume on Resume) against the store.
	mu sync.Mutex
}

// NewCoordinator constructs a Coordinator over the given store. A nil store
// falls back to a fresh in-memory one.
func NewCoordinator(store Store, optFns ...func(o *Options)) *Coordinator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if store == nil {
		store = NewInMemoryStore()
	}
	return &Coordinator{store: store, logger: opts.Logger, metrics: opts.Metrics}
}

// Suspend registers a pending record under its invocation id. When the
// approval id is already registered and still pending (a re-suspended
// parallel sibling), the record's invocation id is rewritten to the original
// handle so outstanding resume handles stay valid; the stored frames and
// payload are refreshed from the new record either way.
func (c *Coordinator) Suspend(ctx context.Context, rec *core.Suspension) error {
	if rec == nil {
		return fmt.Errorf("suspend: nil record")
	}
	if rec.SessionID == "" || rec.ApprovalID == "" || rec.InvocationID == "" {
		return fmt.Errorf("suspend: record missing session, approval or invocation id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	renewed := false
	existing, err := c.store.FindByApproval(ctx, rec.SessionID, rec.ApprovalID)
	switch {
	case err == nil && existing.Resolution == core.ResolutionPending:
		rec.InvocationID = existing.InvocationID
		renewed = true
	case err != nil && !errors.Is(err, ErrNotFound):
		return fmt.Errorf("suspend: %w", err)
	}

	rec.Resolution = core.ResolutionPending
	if err := c.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("suspend: %w", err)
	}
	if !renewed {
		c.metrics.ObserveSuspension()
	}

	c.logger.Info("approval.suspend",
		"session_id", rec.SessionID, "agent", rec.AgentName, "tool", rec.ToolName,
		"approval_id", rec.ApprovalID, "invocation_id", rec.InvocationID, "renewed", renewed)
	return nil
}

// Resume consumes the record registered under the invocation id, marking it
// confirmed or rejected per the decision. Consumption is single-use: unknown,
// already-consumed and session-mismatched ids fail with an invalid_resumption
// failure and leave the registry untouched.
func (c *Coordinator) Resume(ctx context.Context, sessionID, invocationID string, decision core.Decision) (*core.Suspension, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.store.Get(ctx, invocationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, c.invalid(invocationID, "unknown invocation id")
		}
		return nil, fmt.Errorf("resume: %w", err)
	}
	if rec.Resolution != core.ResolutionPending {
		return nil, c.invalid(invocationID, "invocation id already consumed")
	}
	if sessionID != "" && rec.SessionID != sessionID {
		return nil, c.invalid(invocationID, "invocation id belongs to a different session")
	}

	rec.Resolution = core.ResolutionRejected
	if decision.Confirmed {
		rec.Resolution = core.ResolutionConfirmed
	}
	if err := c.store.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	c.metrics.ObserveResumption("resumed")

	c.logger.Info("approval.resume",
		"session_id", rec.SessionID, "invocation_id", invocationID,
		"approval_id", rec.ApprovalID, "confirmed", decision.Confirmed)
	return rec, nil
}

func (c *Coordinator) invalid(invocationID, reason string) error {
	c.metrics.ObserveResumption("invalid")
	c.logger.Warn("approval.resume.invalid", "invocation_id", invocationID, "reason", reason)
	return core.NewFailure(core.KindInvalidResumption, "resume %s: %s", invocationID, reason)
}

// Pending returns the session's unresolved records ordered by creation time.
func (c *Coordinator) Pending(ctx context.Context, sessionID string) ([]*core.Suspension, error) {
	recs, err := c.store.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		if rec.Resolution == core.ResolutionPending {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b *core.Suspension) int {
		if cmp := a.Created.Compare(b.Created); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.ApprovalID, b.ApprovalID)
	})
	return out, nil
}

// Clear drops all of the session's records, pending ones included. Used when
// a session is closed and its outstanding handles must stop resolving.
func (c *Coordinator) Clear(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	recs, err := c.store.List(ctx, sessionID)
	if err != nil {
		return err
	}
	dropped := 0
	for _, rec := range recs {
		if err := c.store.Delete(ctx, rec.InvocationID); err != nil {
			return err
		}
		if rec.Resolution == core.ResolutionPending {
			dropped++
		}
	}
	c.metrics.ObserveDiscard(dropped)
	if len(recs) > 0 {
		c.logger.Info("approval.clear", "session_id", sessionID, "records", len(recs))
	}
	return nil
}

// Rehydrate rebuilds the session's pending records from its confirmation
// traffic: every confirmation_request without a later confirmation_response
// is re-registered under its original invocation id. Returns the number of
// records restored. Records already present in the store are left untouched,
// so rehydrating a live session is safe.
func (c *Coordinator) Rehydrate(ctx context.Context, sess *core.Session) (int, error) {
	if sess == nil {
		return 0, nil
	}

	pending := make(map[string]*core.Suspension)
	var order []string
	for _, ev := range sess.EventList() {
		switch ev.Type() {
		case core.EventConfirmationRequest:
			rec := recordFromEvent(sess, ev)
			if rec == nil {
				continue
			}
			if _, seen := pending[rec.ApprovalID]; !seen {
				order = append(order, rec.ApprovalID)
			}
			pending[rec.ApprovalID] = rec
		case core.EventConfirmationResponse:
			for _, fr := range ev.GetFunctionResponses() {
				if fr.Name == core.ConfirmationTool {
					delete(pending, fr.ID)
				}
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for _, approvalID := range order {
		rec, ok := pending[approvalID]
		if !ok {
			continue
		}
		delete(pending, approvalID)
		if _, err := c.store.Get(ctx, rec.InvocationID); err == nil {
			continue
		}
		rec.Resolution = core.ResolutionPending
		if err := c.store.Save(ctx, rec); err != nil {
			return restored, fmt.Errorf("rehydrate: %w", err)
		}
		c.metrics.ObserveSuspension()
		restored++
	}

	if restored > 0 {
		c.logger.Info("approval.rehydrate", "session_id", sess.ID, "restored", restored)
	}
	return restored, nil
}

// recordFromEvent reconstructs a suspension record from a confirmation
// request event, preferring the full snapshot stashed in the event metadata
// and falling back to the wire arguments (which lack frames and tool name).
func recordFromEvent(sess *core.Session, ev core.Event) *core.Suspension {
	calls := ev.GetFunctionCalls()
	idx := -1
	for i, fc := range calls {
		if fc.Name == core.ConfirmationTool {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if rec, ok := decodeRecord(ev.Metadata["suspension"]); ok {
		return rec
	}

	fc := calls[idx]
	var args struct {
		Hint         string         `json:"hint"`
		Payload      map[string]any `json:"payload"`
		InvocationID string         `json:"invocation_id"`
	}
	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil || args.InvocationID == "" {
		return nil
	}
	return &core.Suspension{
		ApprovalID:     fc.ID,
		InvocationID:   args.InvocationID,
		SessionID:      sess.ID,
		AgentName:      ev.Author,
		FunctionCallID: fc.ID,
		Hint:           args.Hint,
		Payload:        args.Payload,
		Resolution:     core.ResolutionPending,
		Created:        ev.Timestamp,
	}
}

// decodeRecord round-trips an arbitrary metadata value (json.RawMessage in
// process, map[string]any after a store round trip) into a record.
func decodeRecord(v any) (*core.Suspension, bool) {
	if v == nil {
		return nil, false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var rec core.Suspension
	if err := json.Unmarshal(raw, &rec); err != nil || rec.InvocationID == "" {
		return nil, false
	}
	return &rec, true
}

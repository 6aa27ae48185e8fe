package approval

import (
	"context"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/core"
	"github.com/weftworks/weft/internal/metrics"
	"github.com/weftworks/weft/internal/testutil"
)

func TestCoordinator_SuspendAndResume(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)

	rec := core.NewSuspension("sess-1", "biller", "fc-1", "charge_fee", "Approve the fee?", map[string]any{"amount": 2.5})
	require.NoError(t, c.Suspend(ctx, rec))

	got, err := c.Resume(ctx, "sess-1", rec.InvocationID, core.Decision{ApprovalID: "fc-1", Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, core.ResolutionConfirmed, got.Resolution)
	assert.Equal(t, "fc-1", got.FunctionCallID)
	assert.Equal(t, "charge_fee", got.ToolName)
}

func TestCoordinator_ResumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)

	rec := core.NewSuspension("sess-1", "biller", "fc-1", "charge_fee", "ok?", nil)
	require.NoError(t, c.Suspend(ctx, rec))

	_, err := c.Resume(ctx, "sess-1", rec.InvocationID, core.Decision{Confirmed: true})
	require.NoError(t, err)

	_, err = c.Resume(ctx, "sess-1", rec.InvocationID, core.Decision{Confirmed: true})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindInvalidResumption))
	assert.Contains(t, err.Error(), "already consumed")
}

func TestCoordinator_ResumeUnknownID(t *testing.T) {
	c := NewCoordinator(nil)

	_, err := c.Resume(context.Background(), "sess-1", "no-such-handle", core.Decision{Confirmed: true})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindInvalidResumption))
}

func TestCoordinator_ResumeSessionMismatch(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)

	rec := core.NewSuspension("sess-1", "biller", "fc-1", "charge_fee", "ok?", nil)
	require.NoError(t, c.Suspend(ctx, rec))

	_, err := c.Resume(ctx, "sess-2", rec.InvocationID, core.Decision{Confirmed: true})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindInvalidResumption))

	// A mismatched attempt must not consume the record.
	got, err := c.Resume(ctx, "sess-1", rec.InvocationID, core.Decision{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, core.ResolutionConfirmed, got.Resolution)
}

func TestCoordinator_ResumeRejected(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)

	rec := core.NewSuspension("sess-1", "biller", "fc-1", "charge_fee", "ok?", nil)
	require.NoError(t, c.Suspend(ctx, rec))

	got, err := c.Resume(ctx, "sess-1", rec.InvocationID, core.Decision{Confirmed: false})
	require.NoError(t, err)
	assert.Equal(t, core.ResolutionRejected, got.Resolution)
}

// A re-suspended parallel sibling re-registers the same approval id with a
// freshly minted invocation id; the coordinator must keep the original handle
// so callers holding it can still resume.
func TestCoordinator_SuspendRenewsPendingApproval(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	c := NewCoordinator(store)

	first := core.NewSuspension("sess-1", "two", "fc-10", "charge_fee", "ok?", nil)
	require.NoError(t, c.Suspend(ctx, first))

	renewed := core.NewSuspension("sess-1", "two", "fc-10", "charge_fee", "ok?", nil)
	renewed.PushFrame(core.Frame{Agent: "two", Kind: core.FrameAgent})
	renewed.PushFrame(core.Frame{Agent: "fanout", Kind: core.FrameParallel, Completed: []string{"one"}})
	require.NotEqual(t, first.InvocationID, renewed.InvocationID)

	require.NoError(t, c.Suspend(ctx, renewed))
	assert.Equal(t, first.InvocationID, renewed.InvocationID)

	// The stored record carries the refreshed frames under the old handle.
	got, err := store.Get(ctx, first.InvocationID)
	require.NoError(t, err)
	require.Len(t, got.Frames, 2)
	assert.Equal(t, []string{"one"}, got.Frames[0].Completed)

	_, err = c.Resume(ctx, "sess-1", first.InvocationID, core.Decision{Confirmed: true})
	assert.NoError(t, err)
}

func TestCoordinator_SuspendAfterConsumeMintsFreshHandle(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)

	first := core.NewSuspension("sess-1", "two", "fc-10", "charge_fee", "ok?", nil)
	require.NoError(t, c.Suspend(ctx, first))
	_, err := c.Resume(ctx, "sess-1", first.InvocationID, core.Decision{Confirmed: true})
	require.NoError(t, err)

	second := core.NewSuspension("sess-1", "two", "fc-10", "charge_fee", "ok?", nil)
	require.NoError(t, c.Suspend(ctx, second))
	assert.NotEqual(t, first.InvocationID, second.InvocationID)

	got, err := c.Resume(ctx, "sess-1", second.InvocationID, core.Decision{Confirmed: false})
	require.NoError(t, err)
	assert.Equal(t, core.ResolutionRejected, got.Resolution)
}

func TestCoordinator_PendingOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(nil)

	base := time.Now().UTC()
	late := core.NewSuspension("sess-1", "three", "fc-11", "charge_fee", "ok?", nil)
	late.Created = base.Add(time.Second)
	early := core.NewSuspension("sess-1", "two", "fc-10", "charge_fee", "ok?", nil)
	early.Created = base
	consumed := core.NewSuspension("sess-1", "one", "fc-9", "charge_fee", "ok?", nil)
	consumed.Created = base.Add(2 * time.Second)

	for _, rec := range []*core.Suspension{late, early, consumed} {
		require.NoError(t, c.Suspend(ctx, rec))
	}
	_, err := c.Resume(ctx, "sess-1", consumed.InvocationID, core.Decision{Confirmed: true})
	require.NoError(t, err)

	pending, err := c.Pending(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "fc-10", pending[0].ApprovalID)
	assert.Equal(t, "fc-11", pending[1].ApprovalID)
}

func TestCoordinator_ClearDropsSessionRecords(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	c := NewCoordinator(nil, func(o *Options) { o.Metrics = m })

	a := core.NewSuspension("sess-1", "two", "fc-10", "charge_fee", "ok?", nil)
	b := core.NewSuspension("sess-1", "three", "fc-11", "charge_fee", "ok?", nil)
	other := core.NewSuspension("sess-2", "two", "fc-12", "charge_fee", "ok?", nil)
	for _, rec := range []*core.Suspension{a, b, other} {
		require.NoError(t, c.Suspend(ctx, rec))
	}
	assert.Equal(t, 3.0, promtestutil.ToFloat64(m.SuspensionsActive))

	require.NoError(t, c.Clear(ctx, "sess-1"))

	pending, err := c.Pending(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.SuspensionsActive))

	_, err = c.Resume(ctx, "sess-1", a.InvocationID, core.Decision{Confirmed: true})
	assert.True(t, core.IsKind(err, core.KindInvalidResumption))

	// Other sessions are untouched.
	_, err = c.Resume(ctx, "sess-2", other.InvocationID, core.Decision{Confirmed: true})
	assert.NoError(t, err)
}

func TestCoordinator_RehydrateFromSessionLog(t *testing.T) {
	ctx := context.Background()

	answered := core.NewSuspension("sess-1", "two", "fc-9", "charge_fee", "ok?", nil)
	open := core.NewSuspension("sess-1", "three", "fc-10", "request_bulk_approval", "Bulk Order: 5 images requested. Approve cost?", map[string]any{"num_images": 5.0})
	open.PushFrame(core.Frame{Agent: "three", Kind: core.FrameAgent})
	open.PushFrame(core.Frame{Agent: "fanout", Kind: core.FrameParallel, Completed: []string{"one"}})

	sess := testutil.NewSessionBuilder("sess-1").Events(
		core.NewConfirmationRequestEvent("run-1", answered),
		core.NewConfirmationRequestEvent("run-1", open),
		core.NewConfirmationResponseEvent("run-2", core.Decision{ApprovalID: "fc-9", Confirmed: true}),
	).Build()

	// A fresh process rebuilds its pending table from the log alone.
	c := NewCoordinator(nil)
	restored, err := c.Rehydrate(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	pending, err := c.Pending(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	got := pending[0]
	assert.Equal(t, "fc-10", got.ApprovalID)
	assert.Equal(t, open.InvocationID, got.InvocationID)
	assert.Equal(t, "request_bulk_approval", got.ToolName)
	assert.Equal(t, 5.0, got.Payload["num_images"])
	require.Len(t, got.Frames, 2)
	assert.Equal(t, core.FrameParallel, got.Frames[0].Kind)
	assert.Equal(t, []string{"one"}, got.Frames[0].Completed)

	// Rehydrating again is a no-op for records already registered.
	restored, err = c.Rehydrate(ctx, sess)
	require.NoError(t, err)
	assert.Zero(t, restored)

	// The answered request never comes back.
	_, err = c.Resume(ctx, "sess-1", answered.InvocationID, core.Decision{Confirmed: true})
	assert.True(t, core.IsKind(err, core.KindInvalidResumption))

	got2, err := c.Resume(ctx, "sess-1", open.InvocationID, core.Decision{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, core.ResolutionConfirmed, got2.Resolution)
}

func TestCoordinator_RehydrateWireArgumentsOnly(t *testing.T) {
	ctx := context.Background()

	rec := core.NewSuspension("sess-1", "approver", "fc-1", "request_bulk_approval", "Approve cost?", map[string]any{"num_images": 3.0})
	ev := core.NewConfirmationRequestEvent("run-1", rec)
	ev.Metadata = nil // log written by an older build without the snapshot

	sess := testutil.NewSessionBuilder("sess-1").Event(ev).Build()

	c := NewCoordinator(nil)
	restored, err := c.Rehydrate(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, 1, restored)

	got, err := c.Resume(ctx, "sess-1", rec.InvocationID, core.Decision{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, "fc-1", got.ApprovalID)
	assert.Equal(t, "approver", got.AgentName)
	assert.Equal(t, "Approve cost?", got.Hint)
	assert.Equal(t, 3.0, got.Payload["num_images"])
	assert.Empty(t, got.Frames)
}

// After a resume, a tool may legitimately suspend the same approval id again
// (rejected bulk order retried with a new count). The replay must track the
// latest handle, not resurrect the consumed one.
func TestCoordinator_RehydrateReopenedApproval(t *testing.T) {
	ctx := context.Background()

	first := core.NewSuspension("sess-1", "approver", "fc-1", "request_bulk_approval", "ok?", nil)
	second := core.NewSuspension("sess-1", "approver", "fc-1", "request_bulk_approval", "ok?", nil)

	sess := testutil.NewSessionBuilder("sess-1").Events(
		core.NewConfirmationRequestEvent("run-1", first),
		core.NewConfirmationResponseEvent("run-2", core.Decision{ApprovalID: "fc-1", Confirmed: false}),
		core.NewConfirmationRequestEvent("run-2", second),
	).Build()

	c := NewCoordinator(nil)
	restored, err := c.Rehydrate(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, 1, restored)

	_, err = c.Resume(ctx, "sess-1", first.InvocationID, core.Decision{Confirmed: true})
	assert.True(t, core.IsKind(err, core.KindInvalidResumption))

	_, err = c.Resume(ctx, "sess-1", second.InvocationID, core.Decision{Confirmed: true})
	assert.NoError(t, err)
}

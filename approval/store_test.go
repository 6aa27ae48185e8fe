package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/core"
)

var _ Store = (*InMemoryStore)(nil)

func TestInMemoryStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	rec := core.NewSuspension("sess-1", "biller", "fc-1", "charge_fee", "Approve the fee?", map[string]any{"amount": 2.5})
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.Get(ctx, rec.InvocationID)
	require.NoError(t, err)
	assert.Equal(t, rec.ApprovalID, got.ApprovalID)
	assert.Equal(t, rec.SessionID, got.SessionID)
	assert.Equal(t, "charge_fee", got.ToolName)
	assert.Equal(t, core.ResolutionPending, got.Resolution)

	// Returned records are isolated copies.
	got.Resolution = core.ResolutionConfirmed
	got.Payload["amount"] = 99.0
	again, err := store.Get(ctx, rec.InvocationID)
	require.NoError(t, err)
	assert.Equal(t, core.ResolutionPending, again.Resolution)
	assert.Equal(t, 2.5, again.Payload["amount"])
}

func TestInMemoryStore_GetUnknown(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_SaveRequiresInvocationID(t *testing.T) {
	store := NewInMemoryStore()

	err := store.Save(context.Background(), &core.Suspension{SessionID: "sess-1", ApprovalID: "fc-1"})
	assert.Error(t, err)
}

func TestInMemoryStore_FindByApproval(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	rec := core.NewSuspension("sess-1", "biller", "fc-1", "charge_fee", "ok?", nil)
	require.NoError(t, store.Save(ctx, rec))

	got, err := store.FindByApproval(ctx, "sess-1", "fc-1")
	require.NoError(t, err)
	assert.Equal(t, rec.InvocationID, got.InvocationID)

	// Approval ids are scoped per session.
	_, err = store.FindByApproval(ctx, "sess-2", "fc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryStore_ListFiltersBySession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	a := core.NewSuspension("sess-1", "biller", "fc-1", "charge_fee", "ok?", nil)
	b := core.NewSuspension("sess-1", "shipper", "fc-2", "ship_order", "ok?", nil)
	c := core.NewSuspension("sess-2", "biller", "fc-3", "charge_fee", "ok?", nil)
	for _, rec := range []*core.Suspension{a, b, c} {
		require.NoError(t, store.Save(ctx, rec))
	}

	recs, err := store.List(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, "sess-1", rec.SessionID)
	}
}

func TestInMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	rec := core.NewSuspension("sess-1", "biller", "fc-1", "charge_fee", "ok?", nil)
	require.NoError(t, store.Save(ctx, rec))
	require.NoError(t, store.Delete(ctx, rec.InvocationID))

	_, err := store.Get(ctx, rec.InvocationID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindByApproval(ctx, "sess-1", "fc-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "missing"))
}

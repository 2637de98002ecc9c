package queue

import (
	"errors"
	"testing"
	"time"

	"barsync-go/internal/core/models"
	"barsync-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return New(mem), mem
}

func enqueueSale(t *testing.T, q *Queue, scopeID string) *models.Operation {
	t.Helper()
	op, err := q.Enqueue(models.OpCreateSale, &models.CreateSalePayload{
		Items: []models.SaleItem{{ProductID: "beer-33", Quantity: 2, UnitPrice: 450}},
	}, scopeID, models.Self("user-1"))
	require.NoError(t, err)
	return op
}

func TestEnqueue_GeneratesIdentityAndKey(t *testing.T) {
	q, _ := newTestQueue(t)

	op, err := q.Enqueue(models.OpCreateSale, &models.CreateSalePayload{}, "bar-1", models.Proxy("admin-1", "owner-9"))
	require.NoError(t, err)

	assert.NotEmpty(t, op.ID)
	assert.NotEmpty(t, op.IdempotencyKey)
	assert.Equal(t, models.StatusPending, op.Status)
	assert.Equal(t, "bar-1", op.ScopeID)
	assert.Equal(t, "admin-1", op.ActorID)
	assert.Equal(t, "owner-9", op.SubjectID)
	assert.True(t, op.Proxied)
	assert.Equal(t, 0, op.AttemptCount)

	// Key must be unique per operation.
	other := enqueueSale(t, q, "bar-1")
	assert.NotEqual(t, op.IdempotencyKey, other.IdempotencyKey)
}

func TestEnqueue_StorageFailureIsLoud(t *testing.T) {
	q, mem := newTestQueue(t)
	mem.FailWrites = errors.New("disk full")

	op, err := q.Enqueue(models.OpCreateSale, &models.CreateSalePayload{}, "bar-1", models.Self("user-1"))
	assert.Nil(t, op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestTransitions_HappyPath(t *testing.T) {
	q, _ := newTestQueue(t)
	op := enqueueSale(t, q, "bar-1")

	require.NoError(t, q.MarkSyncing(op.ID))
	got, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSyncing, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.False(t, got.LastAttemptAt.IsZero())

	require.NoError(t, q.MarkDone(op.ID))
	got, err = q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status)
	assert.False(t, got.SyncedAt.IsZero())
}

func TestTransitions_InvalidMovesRejected(t *testing.T) {
	q, _ := newTestQueue(t)
	op := enqueueSale(t, q, "bar-1")

	// pending operations cannot complete or fail directly
	assert.Error(t, q.MarkDone(op.ID))
	assert.Error(t, q.MarkFailed(op.ID, errors.New("boom")))
	assert.Error(t, q.Requeue(op.ID, time.Now()))

	require.NoError(t, q.MarkSyncing(op.ID))
	// syncing operations cannot start syncing again
	assert.Error(t, q.MarkSyncing(op.ID))

	require.NoError(t, q.MarkDone(op.ID))
	// done is terminal
	assert.Error(t, q.MarkSyncing(op.ID))
	assert.Error(t, q.MarkFailed(op.ID, errors.New("boom")))
	assert.Error(t, q.Retry(op.ID))
}

func TestRequeue_KeepsAttemptCountAndSetsNextAttempt(t *testing.T) {
	q, _ := newTestQueue(t)
	op := enqueueSale(t, q, "bar-1")

	require.NoError(t, q.MarkSyncing(op.ID))
	next := time.Now().Add(3 * time.Second)
	require.NoError(t, q.Requeue(op.ID, next))

	got, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.WithinDuration(t, next, got.NextAttemptAt, time.Millisecond)
}

func TestRetry_ResetsAttemptBudget(t *testing.T) {
	q, _ := newTestQueue(t)
	op := enqueueSale(t, q, "bar-1")

	require.NoError(t, q.MarkSyncing(op.ID))
	require.NoError(t, q.MarkFailed(op.ID, errors.New("connection refused")))

	got, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "connection refused", got.LastError)

	require.NoError(t, q.Retry(op.ID))
	got, err = q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Empty(t, got.LastError)
	assert.True(t, got.NextAttemptAt.IsZero())
}

func TestRetryAll_OnlyTouchesFailed(t *testing.T) {
	q, _ := newTestQueue(t)

	failed := enqueueSale(t, q, "bar-1")
	require.NoError(t, q.MarkSyncing(failed.ID))
	require.NoError(t, q.MarkFailed(failed.ID, errors.New("boom")))

	pending := enqueueSale(t, q, "bar-1")

	count, err := q.RetryAll()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := q.Get(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
}

func TestRescueStuck_ReturnsSyncingToPending(t *testing.T) {
	q, _ := newTestQueue(t)
	op := enqueueSale(t, q, "bar-1")
	require.NoError(t, q.MarkSyncing(op.ID))

	rescued, err := q.RescueStuck()
	require.NoError(t, err)
	assert.Equal(t, 1, rescued)

	got, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	// The interrupted attempt stays counted.
	assert.Equal(t, 1, got.AttemptCount)
}

func TestList_FIFOWithinScope(t *testing.T) {
	q, mem := newTestQueue(t)

	// Backdate creation times so ordering is unambiguous.
	base := time.Now().Add(-time.Minute)
	for i, scope := range []string{"bar-1", "bar-2", "bar-1", "bar-1"} {
		op := enqueueSale(t, q, scope)
		stored, err := mem.Get(op.ID)
		require.NoError(t, err)
		stored.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, mem.Put(stored))
	}

	ops, err := q.List(Filter{ScopeID: "bar-1"})
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.True(t, ops[0].CreatedAt.Before(ops[1].CreatedAt))
	assert.True(t, ops[1].CreatedAt.Before(ops[2].CreatedAt))
}

func TestDiscard_PendingIsDeleted(t *testing.T) {
	q, _ := newTestQueue(t)
	op := enqueueSale(t, q, "bar-1")

	require.NoError(t, q.Discard(op.ID))
	_, err := q.Get(op.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDiscard_SyncingIsRejected(t *testing.T) {
	q, _ := newTestQueue(t)
	op := enqueueSale(t, q, "bar-1")
	require.NoError(t, q.MarkSyncing(op.ID))

	assert.Error(t, q.Discard(op.ID))
}

func TestDiscard_FailedIsDismissedNotDeleted(t *testing.T) {
	q, _ := newTestQueue(t)
	op := enqueueSale(t, q, "bar-1")
	require.NoError(t, q.MarkSyncing(op.ID))
	require.NoError(t, q.MarkFailed(op.ID, errors.New("boom")))

	require.NoError(t, q.Discard(op.ID))

	got, err := q.Get(op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.False(t, got.DismissedAt.IsZero())
}

func TestPurgeTerminal_RespectsRetentionAndDismissal(t *testing.T) {
	q, mem := newTestQueue(t)

	// Old done operation: purged.
	done := enqueueSale(t, q, "bar-1")
	require.NoError(t, q.MarkSyncing(done.ID))
	require.NoError(t, q.MarkDone(done.ID))
	stored, err := mem.Get(done.ID)
	require.NoError(t, err)
	stored.SyncedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, mem.Put(stored))

	// Old failed but never dismissed: kept.
	failed := enqueueSale(t, q, "bar-1")
	require.NoError(t, q.MarkSyncing(failed.ID))
	require.NoError(t, q.MarkFailed(failed.ID, errors.New("boom")))

	// Old failed and dismissed: purged.
	dismissed := enqueueSale(t, q, "bar-1")
	require.NoError(t, q.MarkSyncing(dismissed.ID))
	require.NoError(t, q.MarkFailed(dismissed.ID, errors.New("boom")))
	require.NoError(t, q.Discard(dismissed.ID))
	stored, err = mem.Get(dismissed.ID)
	require.NoError(t, err)
	stored.DismissedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, mem.Put(stored))

	purged, err := q.PurgeTerminal(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	_, err = q.Get(done.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = q.Get(dismissed.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = q.Get(failed.ID)
	assert.NoError(t, err)
}

func TestOnChange_FiresOnEveryMutation(t *testing.T) {
	q, _ := newTestQueue(t)

	var fired int
	q.OnChange(func() { fired++ })

	op := enqueueSale(t, q, "bar-1")
	require.NoError(t, q.MarkSyncing(op.ID))
	require.NoError(t, q.MarkDone(op.ID))

	assert.Equal(t, 3, fired)
}

func TestCounts(t *testing.T) {
	q, _ := newTestQueue(t)

	enqueueSale(t, q, "bar-1")
	syncing := enqueueSale(t, q, "bar-1")
	require.NoError(t, q.MarkSyncing(syncing.ID))
	failed := enqueueSale(t, q, "bar-2")
	require.NoError(t, q.MarkSyncing(failed.ID))
	require.NoError(t, q.MarkFailed(failed.ID, errors.New("boom")))

	pending, inFlight, errored, err := q.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.Equal(t, 1, inFlight)
	assert.Equal(t, 1, errored)
}

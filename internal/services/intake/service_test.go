package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"barsync-go/config"
	"barsync-go/internal/core/models"
	"barsync-go/internal/network"
	"barsync-go/internal/queue"
	"barsync-go/internal/remote"
	"barsync-go/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedApplier struct {
	mu      sync.Mutex
	err     error
	onApply func()
	applied []*models.Operation
}

func (a *scriptedApplier) Apply(ctx context.Context, op *models.Operation) (*remote.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.onApply != nil {
		a.onApply()
	}
	if a.err != nil {
		return nil, a.err
	}
	a.applied = append(a.applied, op)
	return &remote.Result{RemoteID: "remote-" + op.ID}, nil
}

func (a *scriptedApplier) Ping(ctx context.Context) error { return a.err }

func newFixture(t *testing.T) (*Service, *queue.Queue, *network.Classifier, *scriptedApplier) {
	svc, q, classifier, applier, _ := newFixtureWithStore(t)
	return svc, q, classifier, applier
}

func newFixtureWithStore(t *testing.T) (*Service, *queue.Queue, *network.Classifier, *scriptedApplier, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	q := queue.New(mem)
	applier := &scriptedApplier{}
	classifier := network.NewClassifier(config.NetworkConfig{
		WindowSize:           5,
		ConsecutiveFailures:  3,
		FailureRateThreshold: 0.5,
		LatencyThreshold:     time.Hour,
		ProbeTimeout:         time.Second,
	}, applier)
	svc := NewService(q, classifier, applier, config.RemoteConfig{ForegroundTimeout: time.Second}, config.VenueConfig{ClosingHour: 6})
	return svc, q, classifier, applier, mem
}

func salePayload() *models.CreateSalePayload {
	return &models.CreateSalePayload{
		Items:         []models.SaleItem{{ProductID: "beer-33", Quantity: 1, UnitPrice: 450}},
		PaymentMethod: "cash",
	}
}

func TestSubmit_OnlineAppliesDirectly(t *testing.T) {
	svc, q, _, applier := newFixture(t)

	outcome, err := svc.Submit(context.Background(), models.OpCreateSale, salePayload(), "bar-1", models.Self("user-1"))
	require.NoError(t, err)

	assert.False(t, outcome.Queued)
	assert.NotEmpty(t, outcome.RemoteID)
	require.Len(t, applier.applied, 1)

	// The durable record reflects the completed delivery.
	got, err := q.Get(outcome.Operation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestSubmit_OfflineQueuesWithoutNetworkCall(t *testing.T) {
	svc, q, classifier, applier := newFixture(t)
	classifier.SetLinkState(false)

	outcome, err := svc.Submit(context.Background(), models.OpCreateSale, salePayload(), "bar-1", models.Self("user-1"))
	require.NoError(t, err)

	assert.True(t, outcome.Queued)
	assert.Empty(t, applier.applied)

	got, err := q.Get(outcome.Operation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.NotEmpty(t, got.IdempotencyKey)
}

func TestSubmit_DegradedQueuesImmediately(t *testing.T) {
	svc, _, classifier, applier := newFixture(t)

	// Failure rate above threshold but never three in a row.
	classifier.RecordOutcome(false, 10*time.Millisecond)
	classifier.RecordOutcome(true, 10*time.Millisecond)
	classifier.RecordOutcome(false, 10*time.Millisecond)
	classifier.RecordOutcome(true, 10*time.Millisecond)
	classifier.RecordOutcome(false, 10*time.Millisecond)
	require.Equal(t, network.StateDegraded, classifier.Classify().State)

	outcome, err := svc.Submit(context.Background(), models.OpCreateSale, salePayload(), "bar-1", models.Self("user-1"))
	require.NoError(t, err)
	assert.True(t, outcome.Queued)
	assert.Empty(t, applier.applied)
}

func TestSubmit_TransientFailureFallsBackToQueue(t *testing.T) {
	svc, q, _, applier := newFixture(t)
	applier.err = &remote.Error{Kind: remote.KindNetwork, Message: "connection reset"}

	outcome, err := svc.Submit(context.Background(), models.OpCreateSale, salePayload(), "bar-1", models.Self("user-1"))
	require.NoError(t, err, "a dropped connection must not lose the sale")

	assert.True(t, outcome.Queued)

	got, err := q.Get(outcome.Operation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestSubmit_PermanentRejectionSurfacesToCaller(t *testing.T) {
	svc, q, _, applier := newFixture(t)
	applier.err = &remote.Error{Kind: remote.KindApplicationRejected, Message: "unknown product"}

	outcome, err := svc.Submit(context.Background(), models.OpCreateSale, salePayload(), "bar-1", models.Self("user-1"))
	assert.Nil(t, outcome)
	require.Error(t, err)
	assert.Equal(t, remote.KindApplicationRejected, remote.Classify(err))

	// The record exists but does not sit in the error panel: the caller
	// already saw the rejection.
	ops, err := q.List(queue.Filter{Status: models.StatusFailed})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.False(t, ops[0].DismissedAt.IsZero())
}

func TestSubmit_DefaultsSaleBusinessDate(t *testing.T) {
	svc, q, classifier, _ := newFixture(t)
	classifier.SetLinkState(false)

	outcome, err := svc.Submit(context.Background(), models.OpCreateSale, salePayload(), "bar-1", models.Self("user-1"))
	require.NoError(t, err)

	got, err := q.Get(outcome.Operation.ID)
	require.NoError(t, err)

	var sale models.CreateSalePayload
	require.NoError(t, json.Unmarshal(got.Payload, &sale))
	assert.Equal(t, models.BusinessDate(time.Now(), 6), sale.BusinessDate,
		"the business date is fixed at submit time, not at delivery time")
}

func TestSubmit_KeepsCallerBusinessDate(t *testing.T) {
	svc, q, classifier, _ := newFixture(t)
	classifier.SetLinkState(false)

	payload := salePayload()
	payload.BusinessDate = "2026-08-01"

	outcome, err := svc.Submit(context.Background(), models.OpCreateSale, payload, "bar-1", models.Self("user-1"))
	require.NoError(t, err)

	got, err := q.Get(outcome.Operation.ID)
	require.NoError(t, err)

	var sale models.CreateSalePayload
	require.NoError(t, json.Unmarshal(got.Payload, &sale))
	assert.Equal(t, "2026-08-01", sale.BusinessDate)
}

func TestSubmit_ReloadFailureStillReturnsOperation(t *testing.T) {
	svc, _, _, applier, mem := newFixtureWithStore(t)

	// The store starts refusing reads once delivery is in flight, so the
	// post-apply reload fails.
	applier.onApply = func() { mem.FailReads = errors.New("disk read error") }

	outcome, err := svc.Submit(context.Background(), models.OpCreateSale, salePayload(), "bar-1", models.Self("user-1"))
	require.NoError(t, err)
	require.NotNil(t, outcome.Operation, "a reload failure must not blank the delivered operation")
	assert.NotEmpty(t, outcome.RemoteID)
}

func TestSubmit_IdentityCapturedAtSubmitTime(t *testing.T) {
	svc, q, classifier, _ := newFixture(t)
	classifier.SetLinkState(false)

	outcome, err := svc.Submit(context.Background(), models.OpCreateSale, salePayload(), "bar-1", models.Proxy("admin-1", "owner-9"))
	require.NoError(t, err)

	got, err := q.Get(outcome.Operation.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", got.ActorID)
	assert.Equal(t, "owner-9", got.SubjectID)
	assert.True(t, got.Proxied)
}

package queue

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"barsync-go/internal/core/models"
	"barsync-go/internal/store"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Queue is the domain object over the persistent operation store. All
// status transitions go through it; writes to the same operation id are
// serialized because a transition is a read-modify-write.
type Queue struct {
	store store.Store

	// Striped per-id locks. The process is the only writer, but two
	// concurrent transitions for the same id would race on
	// read-modify-write without this.
	locks [lockStripes]sync.Mutex

	listenerMu sync.RWMutex
	listeners  []func()
}

const lockStripes = 32

// Filter narrows List results.
type Filter struct {
	Status  models.OperationStatus
	ScopeID string
}

// New creates a queue over the given store.
func New(s store.Store) *Queue {
	return &Queue{store: s}
}

// OnChange registers a callback invoked after every successful mutation.
// The status aggregator uses this to recompute push-based.
func (q *Queue) OnChange(fn func()) {
	q.listenerMu.Lock()
	defer q.listenerMu.Unlock()
	q.listeners = append(q.listeners, fn)
}

func (q *Queue) notify() {
	q.listenerMu.RLock()
	defer q.listenerMu.RUnlock()
	for _, fn := range q.listeners {
		fn()
	}
}

func (q *Queue) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &q.locks[h.Sum32()%lockStripes]
}

// Enqueue persists a new pending operation and returns it immediately; it
// never touches the network. The idempotency key is generated here, once,
// and is immutable for the lifetime of the operation. A storage failure is
// returned loudly: losing a queued sale is worse than rejecting it.
func (q *Queue) Enqueue(opType models.OperationType, payload interface{}, scopeID string, identity models.ActingIdentity) (*models.Operation, error) {
	data, err := models.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	op := &models.Operation{
		ID:             uuid.NewString(),
		Type:           opType,
		Payload:        data,
		IdempotencyKey: uuid.NewString(),
		ScopeID:        scopeID,
		ActorID:        identity.ActorID,
		SubjectID:      identity.SubjectID,
		Proxied:        identity.Proxied,
		Status:         models.StatusPending,
		CreatedAt:      time.Now(),
	}

	if err := q.store.Put(op); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s operation: %w", opType, err)
	}

	log.Infof("Enqueued %s operation %s for scope %s", opType, op.ID, scopeID)
	q.notify()
	return op, nil
}

// Get loads one operation by id.
func (q *Queue) Get(id string) (*models.Operation, error) {
	return q.store.Get(id)
}

// List returns operations matching the filter, ordered by CreatedAt
// ascending. FIFO per scope follows from this ordering.
func (q *Queue) List(f Filter) ([]models.Operation, error) {
	all, err := q.store.ListAll()
	if err != nil {
		return nil, err
	}

	ops := all[:0]
	for _, op := range all {
		if f.Status != "" && op.Status != f.Status {
			continue
		}
		if f.ScopeID != "" && op.ScopeID != f.ScopeID {
			continue
		}
		ops = append(ops, op)
	}

	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].CreatedAt.Before(ops[j].CreatedAt)
	})
	return ops, nil
}

// ListPending returns pending operations in FIFO order.
func (q *Queue) ListPending() ([]models.Operation, error) {
	return q.List(Filter{Status: models.StatusPending})
}

// ListFailed returns failed operations awaiting user action.
func (q *Queue) ListFailed() ([]models.Operation, error) {
	return q.List(Filter{Status: models.StatusFailed})
}

// transition applies fn to the operation under its per-id lock and
// persists the result.
func (q *Queue) transition(id string, fn func(*models.Operation) error) error {
	mu := q.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	op, err := q.store.Get(id)
	if err != nil {
		return err
	}
	if err := fn(op); err != nil {
		return err
	}
	if err := q.store.Put(op); err != nil {
		return err
	}
	q.notify()
	return nil
}

// MarkSyncing moves a pending or failed operation to syncing and counts
// the delivery attempt. The sync engine is the only caller.
func (q *Queue) MarkSyncing(id string) error {
	return q.transition(id, func(op *models.Operation) error {
		if op.Status != models.StatusPending {
			return fmt.Errorf("operation %s is %s, cannot start syncing", id, op.Status)
		}
		op.Status = models.StatusSyncing
		op.AttemptCount++
		op.LastAttemptAt = time.Now()
		return nil
	})
}

// MarkDone moves a syncing operation to its terminal done state.
func (q *Queue) MarkDone(id string) error {
	return q.transition(id, func(op *models.Operation) error {
		if op.Status != models.StatusSyncing {
			return fmt.Errorf("operation %s is %s, cannot complete", id, op.Status)
		}
		op.Status = models.StatusDone
		op.LastError = ""
		op.SyncedAt = time.Now()
		return nil
	})
}

// MarkFailed records a permanent failure for user visibility.
func (q *Queue) MarkFailed(id string, cause error) error {
	return q.transition(id, func(op *models.Operation) error {
		if op.Status != models.StatusSyncing {
			return fmt.Errorf("operation %s is %s, cannot fail", id, op.Status)
		}
		op.Status = models.StatusFailed
		op.LastError = cause.Error()
		return nil
	})
}

// Requeue returns a syncing operation to pending after a transient
// failure, with the next attempt not before nextAttempt.
func (q *Queue) Requeue(id string, nextAttempt time.Time) error {
	return q.transition(id, func(op *models.Operation) error {
		if op.Status != models.StatusSyncing {
			return fmt.Errorf("operation %s is %s, cannot requeue", id, op.Status)
		}
		op.Status = models.StatusPending
		op.NextAttemptAt = nextAttempt
		return nil
	})
}

// Retry resets a failed operation to pending with a fresh attempt budget,
// so a manual retry is not immediately exhausted again.
func (q *Queue) Retry(id string) error {
	return q.transition(id, func(op *models.Operation) error {
		if op.Status != models.StatusFailed {
			return fmt.Errorf("operation %s is %s, only failed operations can be retried", id, op.Status)
		}
		op.Status = models.StatusPending
		op.AttemptCount = 0
		op.LastError = ""
		op.NextAttemptAt = time.Time{}
		op.DismissedAt = time.Time{}
		return nil
	})
}

// RetryAll resets every failed operation to pending and returns how many
// were reset.
func (q *Queue) RetryAll() (int, error) {
	failed, err := q.ListFailed()
	if err != nil {
		return 0, err
	}
	for _, op := range failed {
		if err := q.Retry(op.ID); err != nil {
			return 0, err
		}
	}
	return len(failed), nil
}

// RescueStuck returns operations stuck in syncing (crash mid-attempt) to
// pending. Run at startup and before a forced sync.
func (q *Queue) RescueStuck() (int, error) {
	stuck, err := q.List(Filter{Status: models.StatusSyncing})
	if err != nil {
		return 0, err
	}
	for _, op := range stuck {
		err := q.transition(op.ID, func(o *models.Operation) error {
			if o.Status != models.StatusSyncing {
				return nil // resolved meanwhile
			}
			o.Status = models.StatusPending
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	if len(stuck) > 0 {
		log.Infof("Rescued %d operations stuck in syncing", len(stuck))
	}
	return len(stuck), nil
}

// Discard removes a pending operation before the engine picks it up, or
// dismisses a failed one so the retention cycle can purge it. A syncing
// operation cannot be cancelled mid-attempt.
func (q *Queue) Discard(id string) error {
	mu := q.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	op, err := q.store.Get(id)
	if err != nil {
		return err
	}

	switch op.Status {
	case models.StatusPending, models.StatusDone:
		if err := q.store.Delete(id); err != nil {
			return err
		}
	case models.StatusFailed:
		op.DismissedAt = time.Now()
		if err := q.store.Put(op); err != nil {
			return err
		}
	default:
		return fmt.Errorf("operation %s is syncing and cannot be discarded", id)
	}

	q.notify()
	return nil
}

// PurgeTerminal garbage-collects done operations and dismissed failed
// operations older than the retention window. Failed operations the user
// has not dismissed are kept indefinitely.
func (q *Queue) PurgeTerminal(olderThan time.Duration) (int, error) {
	all, err := q.store.ListAll()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	purged := 0
	for _, op := range all {
		expired := false
		switch op.Status {
		case models.StatusDone:
			expired = !op.SyncedAt.IsZero() && op.SyncedAt.Before(cutoff)
		case models.StatusFailed:
			expired = !op.DismissedAt.IsZero() && op.DismissedAt.Before(cutoff)
		}
		if !expired {
			continue
		}
		if err := q.store.Delete(op.ID); err != nil {
			return purged, err
		}
		purged++
	}

	if purged > 0 {
		log.Infof("Purged %d terminal operations", purged)
		q.notify()
	}
	return purged, nil
}

// Counts returns the number of operations per live status.
func (q *Queue) Counts() (pending, syncing, failed int, err error) {
	all, err := q.store.ListAll()
	if err != nil {
		return 0, 0, 0, err
	}
	for _, op := range all {
		switch op.Status {
		case models.StatusPending:
			pending++
		case models.StatusSyncing:
			syncing++
		case models.StatusFailed:
			failed++
		}
	}
	return pending, syncing, failed, nil
}

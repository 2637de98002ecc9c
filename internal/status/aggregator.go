package status

import (
	"sync"
	"time"

	"barsync-go/internal/core/models"
	"barsync-go/internal/network"
	"barsync-go/internal/queue"

	log "github.com/sirupsen/logrus"
)

// SyncStatus is implemented by the sync engine; the aggregator only needs
// its progress indicators, not its control surface.
type SyncStatus interface {
	IsSyncing() bool
	LastSyncAt() time.Time
}

// OperationError is one failed operation as shown to the user interface.
type OperationError struct {
	ID           string                `json:"id"`
	Type         models.OperationType  `json:"type"`
	ScopeID      string                `json:"scope_id"`
	RetryCount   int                   `json:"retry_count"`
	ErrorMessage string                `json:"error_message"`
	Identity     models.ActingIdentity `json:"identity"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Snapshot is the single status object the UI consumes: network state,
// queue depth and the failed operations needing attention.
type Snapshot struct {
	NetworkState     network.State    `json:"network_state"`
	ShouldShowBanner bool             `json:"should_show_banner"`
	PendingCount     int              `json:"pending_count"`
	SyncingCount     int              `json:"syncing_count"`
	ErrorCount       int              `json:"error_count"`
	Errors           []OperationError `json:"errors"`
	IsSyncing        bool             `json:"is_syncing"`
	LastSyncAt       *time.Time       `json:"last_sync_at,omitempty"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// Aggregator folds queue counters and the classifier decision into
// snapshots and pushes them to subscribers whenever either side changes.
type Aggregator struct {
	queue      *queue.Queue
	classifier *network.Classifier
	engine     SyncStatus

	mutex       sync.Mutex
	subscribers map[int]func(Snapshot)
	nextID      int
	unsubscribe func()
}

func NewAggregator(q *queue.Queue, c *network.Classifier, e SyncStatus) *Aggregator {
	a := &Aggregator{
		queue:       q,
		classifier:  c,
		engine:      e,
		subscribers: make(map[int]func(Snapshot)),
	}
	q.OnChange(a.publish)
	a.unsubscribe = c.Subscribe(func(network.Decision) { a.publish() })
	return a
}

// Snapshot builds the current status. Failed operations with a dismissal
// timestamp stay out of the error list; they were acknowledged.
func (a *Aggregator) Snapshot() Snapshot {
	decision := a.classifier.Classify()

	snap := Snapshot{
		NetworkState:     decision.State,
		ShouldShowBanner: decision.ShouldShowBanner,
		IsSyncing:        a.engine.IsSyncing(),
		GeneratedAt:      time.Now(),
	}
	if last := a.engine.LastSyncAt(); !last.IsZero() {
		snap.LastSyncAt = &last
	}

	pending, syncing, _, err := a.queue.Counts()
	if err != nil {
		log.WithError(err).Error("Failed to count queued operations")
		return snap
	}
	snap.PendingCount = pending
	snap.SyncingCount = syncing

	failures, err := a.queue.ListFailed()
	if err != nil {
		log.WithError(err).Error("Failed to list failed operations")
		return snap
	}
	for _, op := range failures {
		if !op.DismissedAt.IsZero() {
			continue
		}
		snap.Errors = append(snap.Errors, OperationError{
			ID:           op.ID,
			Type:         op.Type,
			ScopeID:      op.ScopeID,
			RetryCount:   op.AttemptCount,
			ErrorMessage: op.LastError,
			Identity:     op.Identity(),
			CreatedAt:    op.CreatedAt,
		})
	}
	snap.ErrorCount = len(snap.Errors)
	return snap
}

// Subscribe registers a listener and immediately delivers the current
// snapshot. The returned function removes the subscription.
func (a *Aggregator) Subscribe(fn func(Snapshot)) func() {
	a.mutex.Lock()
	id := a.nextID
	a.nextID++
	a.subscribers[id] = fn
	a.mutex.Unlock()

	fn(a.Snapshot())

	return func() {
		a.mutex.Lock()
		delete(a.subscribers, id)
		a.mutex.Unlock()
	}
}

// Close detaches the aggregator from the classifier.
func (a *Aggregator) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

func (a *Aggregator) publish() {
	snap := a.Snapshot()

	a.mutex.Lock()
	listeners := make([]func(Snapshot), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		listeners = append(listeners, fn)
	}
	a.mutex.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

package syncer

import (
	"context"
	"sync"
	"time"

	"barsync-go/config"
	"barsync-go/internal/core/models"
	"barsync-go/internal/network"
	"barsync-go/internal/queue"
	"barsync-go/internal/remote"

	log "github.com/sirupsen/logrus"
)

// Engine is the background drain loop: it walks pending operations scope
// by scope and attempts delivery whenever the classifier reports the
// backend as reachable.
type Engine struct {
	queue      *queue.Queue
	classifier *network.Classifier
	scheduler  *RetryScheduler
	applier    remote.Applier
	cfg        config.SyncConfig
	timeout    time.Duration

	stopCh      chan struct{}
	wakeCh      chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup
	running     bool
	mutex       sync.Mutex

	// draining guards against overlapping drain passes when a timer tick
	// and a forced sync fire together.
	draining   sync.Mutex
	statusMu   sync.Mutex
	isSyncing  bool
	lastSyncAt time.Time
}

// NewEngine creates a drain engine. backgroundTimeout bounds each delivery
// attempt; it is shorter than the foreground timeout because background
// retries should fail fast and reschedule rather than hold a slot open.
func NewEngine(q *queue.Queue, c *network.Classifier, s *RetryScheduler, a remote.Applier, cfg config.SyncConfig, backgroundTimeout time.Duration) *Engine {
	return &Engine{
		queue:      q,
		classifier: c,
		scheduler:  s,
		applier:    a,
		cfg:        cfg,
		timeout:    backgroundTimeout,
		wakeCh:     make(chan struct{}, 1),
	}
}

// Start launches the drain loop. Operations left in syncing by a previous
// crash are rescued back to pending first.
func (e *Engine) Start() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.running {
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})

	if _, err := e.queue.RescueStuck(); err != nil {
		log.WithError(err).Error("Failed to rescue stuck operations on startup")
	}

	// A decision change back to reachable resumes a suspended loop within
	// one tick.
	e.unsubscribe = e.classifier.Subscribe(func(d network.Decision) {
		if d.State != network.StateOffline {
			e.Wake()
		}
	})

	e.wg.Add(1)
	go e.processingLoop()

	log.Info("Sync engine started")
}

// Stop halts the drain loop and waits for an in-flight pass to finish.
func (e *Engine) Stop() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.running {
		return
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	close(e.stopCh)
	e.wg.Wait()
	e.running = false

	log.Info("Sync engine stopped")
}

// Wake requests a drain pass without waiting for the next timer tick.
func (e *Engine) Wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// ForceSync rescues stuck and failed operations and drains immediately.
func (e *Engine) ForceSync() error {
	if _, err := e.queue.RescueStuck(); err != nil {
		return err
	}
	rescued, err := e.queue.RetryAll()
	if err != nil {
		return err
	}
	if rescued > 0 {
		log.Infof("Force sync: rescued %d failed operations", rescued)
	}
	e.Wake()
	return nil
}

// IsSyncing reports whether a drain pass is in flight.
func (e *Engine) IsSyncing() bool {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.isSyncing
}

// LastSyncAt is the time of the last successful delivery.
func (e *Engine) LastSyncAt() time.Time {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.lastSyncAt
}

func (e *Engine) processingLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ProcessingInterval)
	defer ticker.Stop()

	// Drain once at startup for operations queued before a restart.
	e.drain()

	for {
		select {
		case <-ticker.C:
			e.drain()
		case <-e.wakeCh:
			e.drain()
		case <-e.stopCh:
			return
		}
	}
}

// drain runs one pass over the pending queue. Exactly one pass runs at a
// time; a second trigger while one is in flight is dropped, the pending
// work is picked up by the next tick.
func (e *Engine) drain() {
	if !e.draining.TryLock() {
		return
	}
	defer e.draining.Unlock()

	if e.classifier.Classify().State == network.StateOffline {
		log.Debug("Skipping drain pass: network is offline")
		return
	}

	pending, err := e.queue.ListPending()
	if err != nil {
		log.WithError(err).Error("Failed to list pending operations")
		return
	}
	if len(pending) == 0 {
		return
	}

	e.setSyncing(true)
	defer e.setSyncing(false)

	log.Infof("Draining %d pending operations", len(pending))

	// Group by scope, preserving FIFO order within each. Scopes are
	// independent and may drain concurrently; ordering across scopes is
	// not guaranteed.
	scopes := make(map[string][]models.Operation)
	var order []string
	for _, op := range pending {
		if _, ok := scopes[op.ScopeID]; !ok {
			order = append(order, op.ScopeID)
		}
		scopes[op.ScopeID] = append(scopes[op.ScopeID], op)
	}

	workers := e.cfg.MaxConcurrentScopes
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, scopeID := range order {
		ops := scopes[scopeID]
		wg.Add(1)
		sem <- struct{}{}
		go func(scopeID string, ops []models.Operation) {
			defer wg.Done()
			defer func() { <-sem }()
			e.drainScope(scopeID, ops)
		}(scopeID, ops)
	}
	wg.Wait()
}

// drainScope processes one scope's operations strictly in order. A later
// operation may be causally dependent on an earlier one (a supply and a
// subsequent sale against the same stock), so the scope halts on the first
// operation that stays unresolved.
func (e *Engine) drainScope(scopeID string, ops []models.Operation) {
	for _, op := range ops {
		if e.classifier.Classify().State == network.StateOffline {
			log.Debugf("Suspending drain for scope %s: network went offline", scopeID)
			return
		}

		// Not yet due for its scheduled retry; everything behind it in
		// the scope has to wait too, or ordering breaks.
		if !op.NextAttemptAt.IsZero() && time.Now().Before(op.NextAttemptAt) {
			return
		}

		if !e.attempt(op.ID) {
			return
		}
	}
}

// attempt delivers one operation. The return value reports whether the
// scope may proceed to its next operation: true when the operation reached
// done or failed (or vanished), false when it stays pending.
func (e *Engine) attempt(id string) bool {
	if err := e.queue.MarkSyncing(id); err != nil {
		// Discarded or already resolved since the pass listed it.
		log.Debugf("Skipping operation %s: %v", id, err)
		return true
	}

	op, err := e.queue.Get(id)
	if err != nil {
		log.WithError(err).Errorf("Failed to reload operation %s", id)
		return true
	}

	// A payload that no longer decodes (corrupted row, unknown type after a
	// downgrade) must never be shipped raw; the backend would reject it on
	// every replay. Fail it here without touching the network.
	if _, err := models.DecodePayload(op); err != nil {
		log.Errorf("Operation %s has an undecodable payload, failing without delivery: %v", id, err)
		if err := e.queue.MarkFailed(id, &remote.Error{Kind: remote.KindApplicationRejected, Message: err.Error()}); err != nil {
			log.WithError(err).Errorf("Failed to mark operation %s failed", id)
		}
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	start := time.Now()
	_, applyErr := e.applier.Apply(ctx, op)
	elapsed := time.Since(start)

	if applyErr == nil {
		e.classifier.RecordOutcome(true, elapsed)
		if err := e.queue.MarkDone(id); err != nil {
			log.WithError(err).Errorf("Failed to mark operation %s done", id)
		}
		e.statusMu.Lock()
		e.lastSyncAt = time.Now()
		e.statusMu.Unlock()
		log.Infof("Operation %s (%s) synced after %d attempt(s)", op.ID, op.Type, op.AttemptCount)
		return true
	}

	kind := remote.Classify(applyErr)
	// Only network-level outcomes feed the classifier window; a rejected
	// payload traveled over a working network.
	e.classifier.RecordOutcome(!remote.IsTransient(applyErr), elapsed)

	if e.scheduler.IsRetryEligible(op.AttemptCount, applyErr) {
		delay := e.scheduler.NextDelay(op.AttemptCount)
		log.Warnf("Operation %s failed (%s), retrying in %s (attempt %d/%d)",
			op.ID, kind, delay, op.AttemptCount, e.scheduler.MaxRetries())
		if err := e.queue.Requeue(id, time.Now().Add(delay)); err != nil {
			log.WithError(err).Errorf("Failed to requeue operation %s", id)
		}
		return false
	}

	log.Errorf("Operation %s failed permanently (%s) after %d attempt(s): %v",
		op.ID, kind, op.AttemptCount, applyErr)
	if err := e.queue.MarkFailed(id, applyErr); err != nil {
		log.WithError(err).Errorf("Failed to mark operation %s failed", id)
	}
	return true
}

func (e *Engine) setSyncing(v bool) {
	e.statusMu.Lock()
	e.isSyncing = v
	e.statusMu.Unlock()
}

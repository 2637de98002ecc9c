package intake

import (
	"context"
	"time"

	"barsync-go/config"
	"barsync-go/internal/core/models"
	"barsync-go/internal/network"
	"barsync-go/internal/queue"
	"barsync-go/internal/remote"

	log "github.com/sirupsen/logrus"
)

// Outcome tells the caller what happened to a submitted operation: applied
// directly against the backend, or queued for the sync engine.
type Outcome struct {
	Operation *models.Operation `json:"operation"`
	Queued    bool              `json:"queued"`
	RemoteID  string            `json:"remote_id,omitempty"`
	Duplicate bool              `json:"duplicate,omitempty"`
}

// Service is the write-path front door. Every mutating request flows
// through Submit, which decides between direct delivery and queueing based
// on the current network decision.
type Service struct {
	queue       *queue.Queue
	classifier  *network.Classifier
	applier     remote.Applier
	timeout     time.Duration
	closingHour int
}

func NewService(q *queue.Queue, c *network.Classifier, a remote.Applier, cfg config.RemoteConfig, venue config.VenueConfig) *Service {
	return &Service{
		queue:       q,
		classifier:  c,
		applier:     a,
		timeout:     cfg.ForegroundTimeout,
		closingHour: venue.ClosingHour,
	}
}

// Submit records an operation. When the network is online it attempts
// direct delivery and falls back to the queue on transport failure, so a
// sale is never lost to a connection dropping mid-request. Degraded and
// offline states queue immediately; the drain engine delivers later.
func (s *Service) Submit(ctx context.Context, opType models.OperationType, payload interface{}, scopeID string, identity models.ActingIdentity) (*Outcome, error) {
	// A sale made at 2am belongs to the previous business day. The date is
	// fixed here, before the operation is persisted, so a replay hours
	// later lands on the day the sale actually happened.
	if sale, ok := payload.(*models.CreateSalePayload); ok && sale.BusinessDate == "" {
		sale.BusinessDate = models.BusinessDate(time.Now(), s.closingHour)
	}

	if _, err := models.EncodePayload(payload); err != nil {
		return nil, err
	}

	decision := s.classifier.Classify()
	if decision.ShouldQueue {
		return s.enqueue(opType, payload, scopeID, identity)
	}

	op, err := s.queue.Enqueue(opType, payload, scopeID, identity)
	if err != nil {
		return nil, err
	}

	// The direct attempt reuses the queued row so a crash between the
	// write and the response still leaves a durable record carrying the
	// idempotency key the attempt was made with.
	if err := s.queue.MarkSyncing(op.ID); err != nil {
		return &Outcome{Operation: op, Queued: true}, nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, applyErr := s.applier.Apply(attemptCtx, op)
	elapsed := time.Since(start)

	if applyErr == nil {
		s.classifier.RecordOutcome(true, elapsed)
		if err := s.queue.MarkDone(op.ID); err != nil {
			log.WithError(err).Errorf("Failed to mark operation %s done after direct apply", op.ID)
		}
		if refreshed, err := s.queue.Get(op.ID); err == nil {
			op = refreshed
		} else {
			log.WithError(err).Errorf("Failed to reload operation %s after direct apply", op.ID)
		}
		return &Outcome{Operation: op, RemoteID: result.RemoteID, Duplicate: result.Duplicate}, nil
	}

	if remote.IsTransient(applyErr) {
		// Transport failure: keep the operation and let the engine retry.
		s.classifier.RecordOutcome(false, elapsed)
		log.Warnf("Direct apply of %s failed (%s), queueing for background sync", op.ID, remote.Classify(applyErr))
		if err := s.queue.Requeue(op.ID, time.Time{}); err != nil {
			return nil, err
		}
		if refreshed, err := s.queue.Get(op.ID); err == nil {
			op = refreshed
		} else {
			log.WithError(err).Errorf("Failed to reload operation %s after requeue", op.ID)
		}
		return &Outcome{Operation: op, Queued: true}, nil
	}

	// The backend rejected the operation itself; retrying the same
	// payload cannot succeed, so surface the error to the caller. The
	// row is marked failed and dismissed in one step, the caller already
	// saw the rejection and the error panel must not show it again.
	s.classifier.RecordOutcome(true, elapsed)
	if err := s.queue.MarkFailed(op.ID, applyErr); err != nil {
		log.WithError(err).Errorf("Failed to mark operation %s failed", op.ID)
	} else if err := s.queue.Discard(op.ID); err != nil {
		log.WithError(err).Errorf("Failed to dismiss rejected operation %s", op.ID)
	}
	return nil, applyErr
}

func (s *Service) enqueue(opType models.OperationType, payload interface{}, scopeID string, identity models.ActingIdentity) (*Outcome, error) {
	op, err := s.queue.Enqueue(opType, payload, scopeID, identity)
	if err != nil {
		return nil, err
	}
	log.Infof("Operation %s (%s) queued for scope %s", op.ID, opType, scopeID)
	return &Outcome{Operation: op, Queued: true}, nil
}

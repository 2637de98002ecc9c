package cleanup

import (
	"context"
	"time"

	"barsync-go/config"
	"barsync-go/internal/queue"

	log "github.com/sirupsen/logrus"
)

// CleanupService prunes terminal operations so the local database stays
// bounded on devices that never see an operator. Done operations and
// dismissed failures past the retention window are removed; pending and
// undismissed failed operations are never touched.
type CleanupService struct {
	queue  *queue.Queue
	config config.CleanupConfig
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(q *queue.Queue, cfg config.CleanupConfig) *CleanupService {
	return &CleanupService{
		queue:  q,
		config: cfg,
	}
}

// Start runs the cleanup loop until the context is cancelled.
func (s *CleanupService) Start(ctx context.Context) {
	log.Info("Cleanup service started")

	if err := s.RunCleanup(ctx); err != nil {
		log.Errorf("Initial cleanup failed: %v", err)
	}

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Debug("Running scheduled cleanup")
			if err := s.RunCleanup(ctx); err != nil {
				log.Errorf("Scheduled cleanup failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return
		}
	}
}

// RunCleanup performs one purge pass.
func (s *CleanupService) RunCleanup(ctx context.Context) error {
	if s.config.RetentionHours <= 0 {
		log.Info("Cleanup disabled (retention hours <= 0)")
		return nil
	}

	retention := time.Duration(s.config.RetentionHours) * time.Hour
	purged, err := s.queue.PurgeTerminal(retention)
	if err != nil {
		return err
	}
	if purged > 0 {
		log.Infof("Cleanup completed: purged %d terminal operations", purged)
	}
	return nil
}

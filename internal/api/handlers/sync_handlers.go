package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"barsync-go/internal/network"
	"barsync-go/internal/queue"
	"barsync-go/internal/server/sse"
	"barsync-go/internal/services/syncer"
	"barsync-go/internal/status"
	"barsync-go/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SyncHandler serves sync control, status and event streaming endpoints.
type SyncHandler struct {
	engine     *syncer.Engine
	aggregator *status.Aggregator
	classifier *network.Classifier
	queue      *queue.Queue
	hub        *sse.Hub
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(e *syncer.Engine, a *status.Aggregator, c *network.Classifier, q *queue.Queue, hub *sse.Hub) *SyncHandler {
	return &SyncHandler{
		engine:     e,
		aggregator: a,
		classifier: c,
		queue:      q,
		hub:        hub,
	}
}

// RegisterRoutes registers all sync routes.
func (h *SyncHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/sync/status", h.GetStatus)
	router.POST("/sync/force", h.ForceSync)
	router.POST("/sync/retry-all", h.RetryAll)
	router.POST("/network/recheck", h.RecheckNetwork)
	router.POST("/network/link", h.SetLinkState)
	router.GET("/events", h.StreamEvents)
	router.GET("/system/stats", h.GetSystemStats)
}

// GetStatus returns the current status snapshot.
func (h *SyncHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.aggregator.Snapshot())
}

// ForceSync rescues stuck and failed operations and triggers an immediate
// drain pass.
func (h *SyncHandler) ForceSync(c *gin.Context) {
	if err := h.engine.ForceSync(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  translate(c, "sync.errors.storage", "could not rescue queued operations"),
			"detail": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "sync triggered"})
}

// RetryAll moves every failed operation back to pending.
func (h *SyncHandler) RetryAll(c *gin.Context) {
	count, err := h.queue.RetryAll()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  translate(c, "sync.errors.storage", "could not requeue failed operations"),
			"detail": err.Error(),
		})
		return
	}
	h.engine.Wake()
	c.JSON(http.StatusOK, gin.H{"retried": count})
}

// RecheckNetwork probes the backend and returns the updated decision.
func (h *SyncHandler) RecheckNetwork(c *gin.Context) {
	decision := h.classifier.ForceRecheck(c.Request.Context())
	c.JSON(http.StatusOK, decision)
}

// SetLinkState feeds the OS or UI level link signal into the classifier.
type linkStateRequest struct {
	Up *bool `json:"up" binding:"required"`
}

func (h *SyncHandler) SetLinkState(c *gin.Context) {
	var req linkStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "up is required"})
		return
	}
	h.classifier.SetLinkState(*req.Up)
	c.JSON(http.StatusOK, h.classifier.Classify())
}

// StreamEvents streams status snapshots to the client as server-sent
// events. The first event is the current snapshot; subsequent events
// follow queue and network changes.
func (h *SyncHandler) StreamEvents(c *gin.Context) {
	client := make(sse.Client, 16)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Deliver the current state before any change event.
	snapshot, err := json.Marshal(h.aggregator.Snapshot())
	if err != nil {
		log.Errorf("Failed to marshal initial status snapshot: %v", err)
	}

	c.Stream(func(w io.Writer) bool {
		if snapshot != nil {
			c.SSEvent("status", string(snapshot))
			snapshot = nil
			return true
		}
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent("status", string(msg))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// GetSystemStats returns host statistics plus queue depth.
func (h *SyncHandler) GetSystemStats(c *gin.Context) {
	stats := utils.CollectSystemStats()

	pending, syncing, failed, err := h.queue.Counts()
	if err != nil {
		log.WithError(err).Error("Failed to count operations for system stats")
	}

	c.JSON(http.StatusOK, gin.H{
		"system": stats,
		"queue": gin.H{
			"pending": pending,
			"syncing": syncing,
			"failed":  failed,
		},
	})
}

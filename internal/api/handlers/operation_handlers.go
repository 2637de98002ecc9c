package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"barsync-go/internal/core/models"
	"barsync-go/internal/identity"
	"barsync-go/internal/queue"
	"barsync-go/internal/remote"
	"barsync-go/internal/services/intake"
	"barsync-go/internal/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// OperationHandler serves the write path and queue inspection endpoints.
type OperationHandler struct {
	queue  *queue.Queue
	intake *intake.Service
	router *identity.Router
}

// NewOperationHandler creates a new operation handler.
func NewOperationHandler(q *queue.Queue, in *intake.Service, r *identity.Router) *OperationHandler {
	return &OperationHandler{
		queue:  q,
		intake: in,
		router: r,
	}
}

// RegisterRoutes registers all operation routes.
func (h *OperationHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Intake endpoints, one per operation type
	router.POST("/operations/sales", h.submit(models.OpCreateSale, func() interface{} { return &models.CreateSalePayload{} }))
	router.POST("/operations/supplies", h.submit(models.OpCreateSupply, func() interface{} { return &models.CreateSupplyPayload{} }))
	router.POST("/operations/products", h.submit(models.OpUpdateProduct, func() interface{} { return &models.UpdateProductPayload{} }))
	router.POST("/operations/returns", h.submit(models.OpCreateReturn, func() interface{} { return &models.CreateReturnPayload{} }))
	router.POST("/operations/expenses", h.submit(models.OpAddExpense, func() interface{} { return &models.AddExpensePayload{} }))
	router.POST("/operations/venue", h.submit(models.OpUpdateVenue, func() interface{} { return &models.UpdateVenuePayload{} }))

	// Queue inspection endpoints
	router.GET("/operations", h.ListOperations)
	router.GET("/operations/:id", h.GetOperation)
	router.DELETE("/operations/:id", h.DiscardOperation)
	router.POST("/operations/:id/retry", h.RetryOperation)
}

// submitRequest is the envelope every intake endpoint accepts.
type submitRequest struct {
	ScopeID string          `json:"scope_id" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

func (h *OperationHandler) submit(opType models.OperationType, newPayload func() interface{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scope_id and payload are required"})
			return
		}

		payload := newPayload()
		if err := json.Unmarshal(req.Payload, payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
			return
		}

		session := identity.NewCookieSession(sessions.Default(c))
		actingAs := h.router.Resolve(session)
		if actingAs.ActorID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user on session"})
			return
		}

		outcome, err := h.intake.Submit(c.Request.Context(), opType, payload, req.ScopeID, actingAs)
		if err != nil {
			var remoteErr *remote.Error
			if errors.As(err, &remoteErr) {
				status := http.StatusBadGateway
				switch remoteErr.Kind {
				case remote.KindAuthorizationDenied:
					status = http.StatusForbidden
				case remote.KindApplicationRejected:
					status = http.StatusUnprocessableEntity
				}
				c.JSON(status, gin.H{
					"error":  translate(c, errorKey(remoteErr.Kind), remoteErr.Message),
					"detail": remoteErr.Message,
				})
				return
			}
			log.WithError(err).Errorf("Failed to submit %s operation", opType)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  translate(c, "sync.errors.storage", "could not persist the operation"),
				"detail": err.Error(),
			})
			return
		}

		status := http.StatusOK
		if outcome.Queued {
			status = http.StatusAccepted
		}
		c.JSON(status, outcome)
	}
}

// ListOperations lists queued operations, optionally filtered by status
// and scope.
func (h *OperationHandler) ListOperations(c *gin.Context) {
	filter := queue.Filter{
		Status:  models.OperationStatus(c.Query("status")),
		ScopeID: c.Query("scope_id"),
	}

	ops, err := h.queue.List(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  translate(c, "sync.errors.storage", "could not read the operation queue"),
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"operations": ops,
		"count":      len(ops),
	})
}

// GetOperation returns a single operation by ID.
func (h *OperationHandler) GetOperation(c *gin.Context) {
	op, err := h.queue.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":  translate(c, "sync.errors.storage", "could not read the operation queue"),
			"detail": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, op)
}

// DiscardOperation removes a pending operation or dismisses a failed one.
// An operation currently syncing cannot be discarded.
func (h *OperationHandler) DiscardOperation(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.Discard(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "operation discarded"})
}

// RetryOperation requeues a failed operation with a fresh attempt budget.
func (h *OperationHandler) RetryOperation(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.Retry(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "operation not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "operation requeued"})
}

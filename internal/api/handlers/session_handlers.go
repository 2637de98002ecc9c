package handlers

import (
	"net/http"

	"barsync-go/internal/identity"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SessionHandler manages the operator session: who is logged in at this
// terminal and whether they are acting on behalf of another subject.
type SessionHandler struct {
	router *identity.Router
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(r *identity.Router) *SessionHandler {
	return &SessionHandler{router: r}
}

// RegisterRoutes registers all session routes.
func (h *SessionHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/session", h.GetSession)
	router.POST("/session/login", h.Login)
	router.POST("/session/acting-as", h.BeginActingAs)
	router.DELETE("/session/acting-as", h.EndActingAs)
}

// GetSession returns the identity new operations would be captured with.
func (h *SessionHandler) GetSession(c *gin.Context) {
	session := identity.NewCookieSession(sessions.Default(c))
	actingAs := h.router.Resolve(session)
	if actingAs.ActorID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user on session"})
		return
	}
	c.JSON(http.StatusOK, actingAs)
}

type loginRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Login binds a user to the terminal session. Authentication itself
// happens upstream; the agent only records who the backend authenticated.
func (h *SessionHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	session := identity.NewCookieSession(sessions.Default(c))
	if err := session.SetUserID(req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Infof("User %s logged in", req.UserID)
	c.JSON(http.StatusOK, gin.H{"message": "logged in"})
}

type actingAsRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
}

// BeginActingAs starts impersonating a subject. Operations submitted from
// now on carry the proxy identity until the session ends or expires.
func (h *SessionHandler) BeginActingAs(c *gin.Context) {
	var req actingAsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject_id is required"})
		return
	}

	session := identity.NewCookieSession(sessions.Default(c))
	if session.UserID() == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no authenticated user on session"})
		return
	}

	if err := h.router.BeginActingAs(session, req.SubjectID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Infof("User %s now acting as %s", session.UserID(), req.SubjectID)
	c.JSON(http.StatusOK, h.router.Resolve(session))
}

// EndActingAs reverts to the operator's own identity. Operations already
// queued under the proxy identity are unaffected.
func (h *SessionHandler) EndActingAs(c *gin.Context) {
	session := identity.NewCookieSession(sessions.Default(c))
	if err := h.router.EndActingAs(session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.router.Resolve(session))
}

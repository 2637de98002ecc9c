package identity

import (
	"time"

	"barsync-go/config"
	"barsync-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Session exposes the per-connection identity state the router reads and
// writes. The HTTP layer backs it with a cookie session; tests use a map.
type Session interface {
	UserID() string
	ActingAs() (subjectID string, startedAt time.Time, ok bool)
	SetActingAs(subjectID string, startedAt time.Time) error
	ClearActingAs() error
}

// Router resolves the acting identity for new operations. The resolved
// identity is captured into the operation at enqueue time; a proxy session
// ending later never changes who an already queued operation ran as.
type Router struct {
	ttl time.Duration
	now func() time.Time
}

func NewRouter(cfg config.SessionConfig) *Router {
	return &Router{ttl: cfg.ActingAsTTL, now: time.Now}
}

// Resolve returns the identity a new operation must carry. An expired
// proxy grant falls back to the operator acting as themselves and is
// cleared from the session; operations enqueued before expiry keep the
// proxy identity they were captured with.
func (r *Router) Resolve(s Session) models.ActingIdentity {
	userID := s.UserID()

	subjectID, startedAt, ok := s.ActingAs()
	if !ok || subjectID == "" {
		return models.Self(userID)
	}

	if r.ttl > 0 && r.now().Sub(startedAt) > r.ttl {
		log.Infof("Acting-as session for subject %s expired, reverting to self", subjectID)
		if err := s.ClearActingAs(); err != nil {
			log.WithError(err).Warn("Failed to clear expired acting-as session")
		}
		return models.Self(userID)
	}

	return models.Proxy(userID, subjectID)
}

// BeginActingAs starts a proxy session for the given subject.
func (r *Router) BeginActingAs(s Session, subjectID string) error {
	return s.SetActingAs(subjectID, r.now())
}

// EndActingAs reverts the session to the operator's own identity.
func (r *Router) EndActingAs(s Session) error {
	return s.ClearActingAs()
}

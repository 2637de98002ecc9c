package identity

import (
	"time"

	"github.com/gin-contrib/sessions"
)

const (
	keyUserID          = "user_id"
	keyActingSubject   = "acting_as_subject"
	keyActingStartedAt = "acting_as_started_at"
)

// CookieSession adapts a gin session to the router's Session interface.
type CookieSession struct {
	s sessions.Session
}

func NewCookieSession(s sessions.Session) *CookieSession {
	return &CookieSession{s: s}
}

func (c *CookieSession) UserID() string {
	if v, ok := c.s.Get(keyUserID).(string); ok {
		return v
	}
	return ""
}

func (c *CookieSession) SetUserID(id string) error {
	c.s.Set(keyUserID, id)
	return c.s.Save()
}

func (c *CookieSession) ActingAs() (string, time.Time, bool) {
	subject, ok := c.s.Get(keyActingSubject).(string)
	if !ok || subject == "" {
		return "", time.Time{}, false
	}
	startedAt, _ := c.s.Get(keyActingStartedAt).(int64)
	return subject, time.Unix(startedAt, 0), true
}

func (c *CookieSession) SetActingAs(subjectID string, startedAt time.Time) error {
	c.s.Set(keyActingSubject, subjectID)
	c.s.Set(keyActingStartedAt, startedAt.Unix())
	return c.s.Save()
}

func (c *CookieSession) ClearActingAs() error {
	c.s.Delete(keyActingSubject)
	c.s.Delete(keyActingStartedAt)
	return c.s.Save()
}

package core

import (
	"time"

	"github.com/dkeye/callring/internal/domain"
)

// UserSession is the ephemeral server-side view of a user.
type UserSession struct {
	UserID    domain.UserID
	PushToken domain.PushToken
	Room      UserRoom
	UpdatedAt time.Time
}

// Online reports whether at least one connection is joined.
func (s UserSession) Online() bool {
	return s.Room != nil && s.Room.MemberCount() > 0
}

// SessionStore is the injected identity registry storage.
type SessionStore interface {
	Get(id domain.UserID) (UserSession, bool)
	Put(s UserSession)
	Remove(id domain.UserID)
}

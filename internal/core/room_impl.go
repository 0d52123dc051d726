package core

import (
	"sync"

	"github.com/dkeye/callring/internal/domain"
	"github.com/rs/zerolog/log"
)

// userRoom is a threadsafe in-memory room keyed by user id.
// It never closes adapter-owned resources.
type userRoom struct {
	user  domain.UserID
	mu    sync.RWMutex
	byCID map[ConnID]SignalConnection
}

func NewUserRoom(user domain.UserID) UserRoom {
	return &userRoom{
		user:  user,
		byCID: make(map[ConnID]SignalConnection),
	}
}

func (r *userRoom) User() domain.UserID { return r.user }

func (r *userRoom) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCID)
}

func (r *userRoom) Members() []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConnID, 0, len(r.byCID))
	for cid := range r.byCID {
		out = append(out, cid)
	}
	return out
}

func (r *userRoom) Member(cid ConnID) (SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byCID[cid]
	return c, ok
}

func (r *userRoom) AddMember(cid ConnID, conn SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCID[cid] = conn
	log.Info().Str("module", "core.room").Str("user", string(r.user)).Str("conn", string(cid)).Msg("member added")
}

func (r *userRoom) RemoveMember(cid ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCID[cid]; !ok {
		return false
	}
	delete(r.byCID, cid)
	log.Info().Str("module", "core.room").Str("user", string(r.user)).Str("conn", string(cid)).Msg("member removed")
	return true
}

// Deliver fans data out to every member. Duplicate delivery to several
// connections of the same user is accepted.
func (r *userRoom) Deliver(data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for cid, c := range r.byCID {
		if err := c.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, cid)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("user", string(r.user)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("deliver result")
	return res
}

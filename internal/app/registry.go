package app

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/callring/internal/core"
	"github.com/dkeye/callring/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry is the in-memory identity registry. It maps a user id to its push
// token and its room of live connections. Writes are last-write-wins.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]*core.UserSession
	conns    map[core.ConnID]map[domain.UserID]struct{}
	now      func() time.Time
}

var _ core.SessionStore = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.UserID]*core.UserSession),
		conns:    make(map[core.ConnID]map[domain.UserID]struct{}),
		now:      time.Now,
	}
}

func (r *Registry) Get(id domain.UserID) (core.UserSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return core.UserSession{}, false
	}
	return *s, true
}

func (r *Registry) Put(s core.UserSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Room == nil {
		s.Room = core.NewUserRoom(s.UserID)
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = r.now()
	}
	r.sessions[s.UserID] = &s
}

func (r *Registry) Remove(id domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	for _, cid := range s.Room.Members() {
		r.unindex(cid, id)
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("removed session")
}

// Join records the token for uid and adds the connection to uid's room.
// An empty token never erases a stored one.
func (r *Registry) Join(uid domain.UserID, token domain.PushToken, cid core.ConnID, conn core.SignalConnection) core.UserSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[uid]
	if !ok {
		s = &core.UserSession{UserID: uid, Room: core.NewUserRoom(uid)}
		r.sessions[uid] = s
		log.Info().Str("module", "app.registry").Str("user", string(uid)).Msg("created session")
	}
	if !token.Empty() {
		s.PushToken = token
	}
	s.UpdatedAt = r.now()
	s.Room.AddMember(cid, conn)

	set, ok := r.conns[cid]
	if !ok {
		set = make(map[domain.UserID]struct{})
		r.conns[cid] = set
	}
	set[uid] = struct{}{}
	log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("conn", string(cid)).Bool("has_token", !s.PushToken.Empty()).Msg("joined")
	return *s
}

// Leave removes the connection from uid's room. The session and token stay.
func (r *Registry) Leave(uid domain.UserID, cid core.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[uid]
	if !ok {
		return false
	}
	r.unindex(cid, uid)
	left := s.Room.RemoveMember(cid)
	if left {
		s.UpdatedAt = r.now()
		log.Info().Str("module", "app.registry").Str("user", string(uid)).Str("conn", string(cid)).Msg("left")
	}
	return left
}

// Disconnect removes cid from every room it joined and returns those users.
func (r *Registry) Disconnect(cid core.ConnID) []domain.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.conns[cid]
	delete(r.conns, cid)
	out := make([]domain.UserID, 0, len(set))
	for uid := range set {
		if s, ok := r.sessions[uid]; ok {
			s.Room.RemoveMember(cid)
			s.UpdatedAt = r.now()
		}
		out = append(out, uid)
	}
	if len(out) > 0 {
		log.Info().Str("module", "app.registry").Str("conn", string(cid)).Int("rooms", len(out)).Msg("disconnected")
	}
	return out
}

// UsersOf returns the users cid is joined as.
func (r *Registry) UsersOf(cid core.ConnID) []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.conns[cid]))
	for uid := range r.conns[cid] {
		out = append(out, uid)
	}
	return out
}

// Token returns the last push token recorded for uid.
func (r *Registry) Token(uid domain.UserID) domain.PushToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.sessions[uid]; ok {
		return s.PushToken
	}
	return ""
}

// Sweep drops sessions with no live member that were not touched within ttl.
func (r *Registry) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := r.now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for uid, s := range r.sessions {
		if s.Room.MemberCount() > 0 || s.UpdatedAt.After(cutoff) {
			continue
		}
		delete(r.sessions, uid)
		n++
	}
	if n > 0 {
		log.Info().Str("module", "app.registry").Int("expired", n).Msg("swept sessions")
	}
	return n
}

func (r *Registry) unindex(cid core.ConnID, uid domain.UserID) {
	set, ok := r.conns[cid]
	if !ok {
		return
	}
	delete(set, uid)
	if len(set) == 0 {
		delete(r.conns, cid)
	}
}

// SweepEvery expires idle sessions until ctx ends. It checks at a quarter of ttl.
func (r *Registry) SweepEvery(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(max(ttl/4, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ttl)
		}
	}
}

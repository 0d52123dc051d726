package orch

import (
	"github.com/dkeye/callring/internal/core"
	"github.com/dkeye/callring/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join records the user's token and adds the connection to its room.
func (o *Orchestrator) Join(cid core.ConnID, conn core.SignalConnection, uid domain.UserID, token domain.PushToken) core.UserSession {
	sess := o.Registry.Join(uid, token, cid, conn)
	log.Info().Str("module", "orch").Str("conn", string(cid)).Str("user", string(uid)).Int("members", sess.Room.MemberCount()).Msg("join")
	return sess
}

// Leave removes the connection from the user's room; the connection stays open.
func (o *Orchestrator) Leave(cid core.ConnID, uid domain.UserID) bool {
	ok := o.Registry.Leave(uid, cid)
	log.Info().Str("module", "orch").Str("conn", string(cid)).Str("user", string(uid)).Bool("was_member", ok).Msg("leave")
	return ok
}

// OnDisconnect drops every membership held by a closed connection.
func (o *Orchestrator) OnDisconnect(cid core.ConnID) {
	users := o.Registry.Disconnect(cid)
	if len(users) == 0 {
		return
	}
	log.Info().Str("module", "orch").Str("conn", string(cid)).Int("rooms", len(users)).Msg("disconnect")
}

// Presence is the read-only view exposed over REST.
type Presence struct {
	UserID       domain.UserID `json:"userId"`
	Online       bool          `json:"online"`
	Members      int           `json:"members"`
	HasPushToken bool          `json:"hasPushToken"`
}

func (o *Orchestrator) Presence(uid domain.UserID) (Presence, bool) {
	sess, ok := o.Registry.Get(uid)
	if !ok {
		return Presence{UserID: uid}, false
	}
	return Presence{
		UserID:       uid,
		Online:       sess.Online(),
		Members:      sess.Room.MemberCount(),
		HasPushToken: !sess.PushToken.Empty(),
	}, true
}

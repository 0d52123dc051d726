package orch

import (
	"context"

	"github.com/dkeye/callring/internal/app"
	"github.com/dkeye/callring/internal/core"
	"github.com/dkeye/callring/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator is the signaling relay. It never broadcasts: every message goes
// to the room of its single recipient, or to the push notifier when that room
// is empty.
type Orchestrator struct {
	Registry *app.Registry
	Policy   app.Policy
	Push     core.PushNotifier
}

// RouteResult describes what Route did with one message.
type RouteResult struct {
	Delivered  int
	Dropped    int
	Pushed     bool
	PushType   domain.PushType
	Suppressed bool
}

// Route forwards a relayed message to msg.To.
func (o *Orchestrator) Route(ctx context.Context, msg domain.Message) RouteResult {
	logger := log.With().
		Str("module", "orch").
		Str("kind", string(msg.Kind)).
		Str("from", string(msg.From)).
		Str("to", string(msg.To)).
		Logger()

	var res RouteResult
	sess, ok := o.Registry.Get(msg.To)
	if ok && sess.Online() {
		frame, err := msg.Encode()
		if err != nil {
			logger.Error().Err(err).Msg("encode message")
			return res
		}
		pub := sess.Room.Deliver(frame)
		res.Delivered = pub.SendTo
		res.Dropped = len(pub.Dropped)
		o.onBackPressure(sess.Room, pub.Dropped)
		logger.Debug().Int("delivered", res.Delivered).Int("dropped", res.Dropped).Msg("relayed")
		return res
	}

	pt, wake := msg.Kind.WakeType()
	if !wake {
		logger.Debug().Msg("recipient offline, message dropped")
		return res
	}
	res.PushType = pt
	res.Pushed, res.Suppressed = o.push(ctx, pt, msg, sess.PushToken)
	return res
}

func (o *Orchestrator) onBackPressure(room core.UserRoom, dropped []core.ConnID) {
	if o.Policy == nil {
		return
	}
	for _, cid := range dropped {
		switch o.Policy.OnBackPressure(room, cid) {
		case app.KickMember:
			if conn, ok := room.Member(cid); ok {
				conn.Close()
			}
			o.OnDisconnect(cid)
			log.Warn().Str("module", "orch").Str("conn", string(cid)).Msg("kicked slow member")
		case app.NoAction:
		}
	}
}

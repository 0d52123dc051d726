package signal

import (
	"context"

	"github.com/dkeye/callring/internal/core"
	"github.com/dkeye/callring/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(c core.SignalConnection) {
	ctl.sendJSON(c, domain.Message{Kind: domain.KindPong})
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, reason string) {
	ctl.sendJSON(c, domain.NewError(reason))
}

func (ctl *SignalWSController) join(cid core.ConnID, c core.SignalConnection, rawUser, rawToken string) {
	uid, err := domain.ParseUserID(rawUser)
	if err != nil {
		ctl.sendError(c, "bad_user_id")
		return
	}
	token, err := domain.ParsePushToken(rawToken)
	if err != nil {
		ctl.sendError(c, "bad_push_token")
		return
	}
	ctl.Orch.Join(cid, c, uid, token)
	ctl.sendJSON(c, domain.Message{Kind: domain.KindJoined, UserID: uid})
}

func (ctl *SignalWSController) handleLeave(cid core.ConnID, c core.SignalConnection, uid domain.UserID) {
	ctl.Orch.Leave(cid, uid)
	ctl.sendJSON(c, domain.Message{Kind: domain.KindLeft, UserID: uid})
}

func (ctl *SignalWSController) handleRelay(ctx context.Context, cid core.ConnID, c core.SignalConnection, msg domain.Message) {
	if l := ctl.opts.Limiter; l != nil && !l.Allow(msg.From) {
		log.Warn().Str("module", "signal").Str("conn", string(cid)).Str("from", string(msg.From)).Msg("rate limited")
		ctl.sendError(c, "rate_limited")
		return
	}
	ctl.Orch.Route(ctx, msg)
}

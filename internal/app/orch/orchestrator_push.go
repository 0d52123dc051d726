package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/callring/internal/core"
	"github.com/dkeye/callring/internal/domain"
	"github.com/rs/zerolog/log"
)

// push wakes msg.To through the notifier. It returns (sent, suppressed).
// Failures are logged and swallowed; the socket path stays authoritative.
func (o *Orchestrator) push(ctx context.Context, pt domain.PushType, msg domain.Message, to domain.PushToken) (bool, bool) {
	logger := log.With().
		Str("module", "orch.push").
		Str("push_type", string(pt)).
		Str("from", string(msg.From)).
		Str("to", string(msg.To)).
		Logger()

	if o.Push == nil {
		logger.Warn().Msg("no push notifier configured")
		return false, false
	}
	if to.Empty() {
		logger.Info().Msg("recipient has no push token, skipping")
		return false, false
	}
	// Same token on both ends is treated as the same device.
	if from := o.Registry.Token(msg.From); !from.Empty() && from == to {
		logger.Info().Msg("sender and recipient share a push token, suppressed")
		return false, true
	}

	data, err := domain.EncodePushData(pt, msg)
	if err != nil {
		logger.Error().Err(err).Msg("encode push payload")
		return false, false
	}
	n := core.PushNotification{Token: to, Data: data, Alert: alertFor(pt, msg)}
	if err := o.Push.Notify(ctx, n); err != nil {
		logger.Error().Err(err).Msg("push send failed")
		return false, false
	}
	logger.Info().Msg("push sent")
	return true, false
}

func alertFor(pt domain.PushType, msg domain.Message) *core.Alert {
	if pt != domain.PushMissCall {
		return nil
	}
	name := string(msg.From)
	if msg.Display != nil && msg.Display.CallerName != "" {
		name = msg.Display.CallerName
	}
	return &core.Alert{Title: "Missed call", Body: fmt.Sprintf("You missed a call from %s", name)}
}

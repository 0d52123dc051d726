package push

import (
	"context"

	"github.com/dkeye/callring/internal/core"
	"github.com/rs/zerolog/log"
)

// LogNotifier only logs; used in development when no push credentials exist.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n core.PushNotification) error {
	ev := log.Info().Str("module", "push.log").Str("token", string(n.Token)).Interface("data", n.Data)
	if n.Alert != nil {
		ev = ev.Str("title", n.Alert.Title).Str("body", n.Alert.Body)
	}
	ev.Msg("push (not sent)")
	return nil
}

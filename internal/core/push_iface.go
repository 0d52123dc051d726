package core

import (
	"context"

	"github.com/dkeye/callring/internal/domain"
)

// Alert is the visible part of a push notification.
type Alert struct {
	Title string
	Body  string
}

// PushNotification is one wake or alert message for a device token.
// A nil Alert means a data-only (silent) push.
type PushNotification struct {
	Token domain.PushToken
	Data  map[string]string
	Alert *Alert
}

// PushNotifier sends through a third-party push service.
// Delivery and ordering are not guaranteed.
type PushNotifier interface {
	Notify(ctx context.Context, n PushNotification) error
}

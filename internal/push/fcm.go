// Package push delivers wake and alert messages to offline devices.
package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/dkeye/callring/internal/core"
)

var ErrNoToken = errors.New("push: empty token")

type sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// FCM sends through Firebase Cloud Messaging.
type FCM struct {
	client sender
}

var _ core.PushNotifier = (*FCM)(nil)

// NewFCM builds a messaging client from a service-account credentials file.
func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &FCM{client: client}, nil
}

func (f *FCM) Notify(ctx context.Context, n core.PushNotification) error {
	if n.Token.Empty() {
		return ErrNoToken
	}
	if _, err := f.client.Send(ctx, buildMessage(n)); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

func buildMessage(n core.PushNotification) *messaging.Message {
	msg := &messaging.Message{
		Token: string(n.Token),
		Data:  n.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{ContentAvailable: true},
			},
		},
	}
	if n.Alert != nil {
		msg.Notification = &messaging.Notification{
			Title: n.Alert.Title,
			Body:  n.Alert.Body,
		}
	}
	return msg
}

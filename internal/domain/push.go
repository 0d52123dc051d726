package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PushType tags a push payload with its semantic meaning.
type PushType string

const (
	PushIncomingCall PushType = "incoming-call"
	PushMissCall     PushType = "miss-call"
)

// PushDataKey is the data-map key the encoded payload lives under.
const PushDataKey = "data"

var ErrNoPushData = errors.New("push data missing")

// WakeType reports whether a message of kind k should wake an offline recipient.
func (k Kind) WakeType() (PushType, bool) {
	switch k {
	case KindOffer, KindIncomingCallNotify:
		return PushIncomingCall, true
	case KindMissCallNotify:
		return PushMissCall, true
	}
	return "", false
}

// pushWire carries the message kind under "kind" since "type" holds the push type.
type pushWire struct {
	Type               PushType            `json:"type"`
	Kind               Kind                `json:"kind"`
	From               UserID              `json:"from,omitempty"`
	To                 UserID              `json:"to,omitempty"`
	SessionDescription *SessionDescription `json:"sessionDescription,omitempty"`
	Display            *DisplayMetadata    `json:"displayMetadata,omitempty"`
}

// EncodePushData packs the message as a string blob under PushDataKey.
func EncodePushData(t PushType, m Message) (map[string]string, error) {
	b, err := json.Marshal(pushWire{
		Type:               t,
		Kind:               m.Kind,
		From:               m.From,
		To:                 m.To,
		SessionDescription: m.SessionDescription,
		Display:            m.Display,
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{PushDataKey: string(b)}, nil
}

// ParsePushData unpacks a push data map produced by EncodePushData.
func ParsePushData(data map[string]string) (PushType, Message, error) {
	raw, ok := data[PushDataKey]
	if !ok || raw == "" {
		return "", Message{}, ErrNoPushData
	}
	var w pushWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return "", Message{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	switch w.Type {
	case PushIncomingCall, PushMissCall:
	default:
		return "", Message{}, fmt.Errorf("%w: push type %q", ErrUnknownKind, w.Type)
	}
	m := Message{
		Kind:               w.Kind,
		From:               w.From,
		To:                 w.To,
		SessionDescription: w.SessionDescription,
		Display:            w.Display,
	}
	if m.Kind == "" {
		if w.Type == PushMissCall {
			m.Kind = KindMissCallNotify
		} else {
			m.Kind = KindIncomingCallNotify
		}
	}
	if err := m.Validate(); err != nil {
		return "", Message{}, err
	}
	return w.Type, m, nil
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Kind is the closed set of signaling message types.
type Kind string

const (
	KindJoin               Kind = "join"
	KindLeave              Kind = "leave"
	KindOffer              Kind = "offer"
	KindAnswer             Kind = "answer"
	KindCandidate          Kind = "candidate"
	KindHangup             Kind = "hangup"
	KindAcceptCall         Kind = "accept-call"
	KindDeclineCall        Kind = "decline-call"
	KindIncomingCallNotify Kind = "incoming-call-notify"
	KindMissCallNotify     Kind = "miss-call-notify"
	KindPing               Kind = "ping"

	// server -> client only
	KindPong   Kind = "pong"
	KindJoined Kind = "joined"
	KindLeft   Kind = "left"
	KindError  Kind = "error"
)

var (
	ErrUnknownKind  = errors.New("unknown message kind")
	ErrMissingField = errors.New("missing required field")
	ErrBadPayload   = errors.New("bad payload")
)

// SessionDescription mirrors the JSON form of an SDP offer/answer.
type SessionDescription struct {
	Type string `json:"type" validate:"required,oneof=offer answer pranswer rollback"`
	SDP  string `json:"sdp" validate:"required"`
}

// Candidate mirrors the JSON form of an ICE candidate init.
type Candidate struct {
	Candidate        string  `json:"candidate" validate:"max=2048"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// DisplayMetadata is what a ring or missed-call alert shows.
type DisplayMetadata struct {
	CallerName string `json:"callerName,omitempty" validate:"max=128"`
	Media      string `json:"media,omitempty" validate:"omitempty,oneof=audio video"`
}

// Message is one signaling event. Every relayed message has exactly one recipient.
type Message struct {
	Kind               Kind                `json:"type"`
	From               UserID              `json:"from,omitempty" validate:"max=64"`
	To                 UserID              `json:"to,omitempty" validate:"max=64"`
	UserID             UserID              `json:"userId,omitempty" validate:"max=64"`
	PushToken          PushToken           `json:"pushToken,omitempty" validate:"max=4096"`
	SessionDescription *SessionDescription `json:"sessionDescription,omitempty"`
	Candidate          *Candidate          `json:"candidate,omitempty"`
	Display            *DisplayMetadata    `json:"displayMetadata,omitempty"`
	Error              string              `json:"error,omitempty"`
}

type field uint8

const (
	fieldUser field = 1 << iota
	fieldPair
	fieldSDP
	fieldCandidate
)

type kindSpec struct {
	required field
	inbound  bool
	relayed  bool
}

var kinds = map[Kind]kindSpec{
	KindJoin:               {required: fieldUser, inbound: true},
	KindLeave:              {required: fieldUser, inbound: true},
	KindPing:               {inbound: true},
	KindOffer:              {required: fieldPair | fieldSDP, inbound: true, relayed: true},
	KindAnswer:             {required: fieldPair | fieldSDP, inbound: true, relayed: true},
	KindCandidate:          {required: fieldPair | fieldCandidate, inbound: true, relayed: true},
	KindHangup:             {required: fieldPair, inbound: true, relayed: true},
	KindAcceptCall:         {required: fieldPair, inbound: true, relayed: true},
	KindDeclineCall:        {required: fieldPair, inbound: true, relayed: true},
	KindIncomingCallNotify: {required: fieldPair, inbound: true, relayed: true},
	KindMissCallNotify:     {required: fieldPair, inbound: true, relayed: true},
	KindPong:               {},
	KindJoined:             {required: fieldUser},
	KindLeft:               {required: fieldUser},
	KindError:              {},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Known reports whether k is part of the protocol.
func (k Kind) Known() bool {
	_, ok := kinds[k]
	return ok
}

// Relayed reports whether the relay forwards k to the addressed user.
func (k Kind) Relayed() bool { return kinds[k].relayed }

// Inbound reports whether a client may send k to the server.
func (k Kind) Inbound() bool { return kinds[k].inbound }

// Validate checks the kind-specific required fields and nested payloads.
func (m Message) Validate() error {
	spec, ok := kinds[m.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}
	if spec.required&fieldUser != 0 && m.UserID == "" {
		return fmt.Errorf("%w: userId for %s", ErrMissingField, m.Kind)
	}
	if spec.required&fieldPair != 0 {
		if m.From == "" {
			return fmt.Errorf("%w: from for %s", ErrMissingField, m.Kind)
		}
		if m.To == "" {
			return fmt.Errorf("%w: to for %s", ErrMissingField, m.Kind)
		}
	}
	if spec.required&fieldSDP != 0 && m.SessionDescription == nil {
		return fmt.Errorf("%w: sessionDescription for %s", ErrMissingField, m.Kind)
	}
	if spec.required&fieldCandidate != 0 && m.Candidate == nil {
		return fmt.Errorf("%w: candidate for %s", ErrMissingField, m.Kind)
	}
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// ParseMessage decodes one frame and rejects unknown kinds explicitly.
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Encode marshals m for the wire.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Reply builds a message of kind k addressed back to the sender of m.
func (m Message) Reply(k Kind) Message {
	return Message{Kind: k, From: m.To, To: m.From}
}

// NewError builds an error frame for the client.
func NewError(reason string) Message {
	return Message{Kind: KindError, Error: reason}
}

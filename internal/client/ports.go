// Package client drives one end of a call: the per-call state machine and
// the dispatcher that reconciles socket, push and user events into it.
package client

import (
	"context"

	"github.com/dkeye/callring/internal/domain"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Constraints says which local media a call needs.
type Constraints struct {
	Audio bool
	Video bool
}

func (c Constraints) Kind() string {
	if c.Video {
		return string(MediaVideo)
	}
	return string(MediaAudio)
}

// Track is a local or remote media track.
type Track interface {
	ID() string
	Kind() MediaKind
	Enabled() bool
	SetEnabled(bool)
	Stop()
}

type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) ([]Track, error)
}

type PeerState string

const (
	PeerNew          PeerState = "new"
	PeerConnecting   PeerState = "connecting"
	PeerConnected    PeerState = "connected"
	PeerDisconnected PeerState = "disconnected"
	PeerFailed       PeerState = "failed"
	PeerClosed       PeerState = "closed"
)

// PeerConnection is the negotiation surface a call needs.
// Callbacks must never run synchronously inside a PeerConnection method.
type PeerConnection interface {
	AddTrack(Track) error
	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetLocalDescription(domain.SessionDescription) error
	SetRemoteDescription(domain.SessionDescription) error
	AddICECandidate(domain.Candidate) error
	OnICECandidate(func(domain.Candidate))
	OnTrack(func(Track))
	OnStateChange(func(PeerState))
	Close() error
}

// PeerFactory builds a fresh peer connection for each call.
type PeerFactory func() (PeerConnection, error)

type Emitter interface {
	Emit(ctx context.Context, m domain.Message) error
}

// SignalChannel is an Emitter whose liveness can be restored on demand.
type SignalChannel interface {
	Emitter
	EnsureConnected(ctx context.Context) error
}

// Permissions returns ErrPermissionDenied (or a wrapped form) when refused.
type Permissions interface {
	Request(ctx context.Context, c Constraints) error
}

// Incoming is what a ring shows.
type Incoming struct {
	From    domain.UserID
	Display *domain.DisplayMetadata
	Source  Source
}

type Ringer interface {
	Ring(in Incoming)
	StopRinging(from domain.UserID)
	ShowMissed(from domain.UserID, display *domain.DisplayMetadata)
}

package core

import "github.com/google/uuid"

// Frame is a raw encoded signaling message.
type Frame []byte

// ConnID identifies one live signaling connection.
type ConnID string

func NewConnID() ConnID { return ConnID(uuid.NewString()) }

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

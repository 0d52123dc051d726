package core

import (
	"github.com/dkeye/callring/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []ConnID
}

// UserRoom groups the live connections joined under one user id.
// It owns the membership set but never touches transport resources.
type UserRoom interface {
	User() domain.UserID
	MemberCount() int
	Members() []ConnID
	Member(cid ConnID) (SignalConnection, bool)

	AddMember(cid ConnID, conn SignalConnection)
	RemoveMember(cid ConnID) bool
	Deliver(data Frame) PublishResult
}

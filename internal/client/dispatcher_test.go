package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/callring/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type endpoint struct {
	d      *Dispatcher
	signal *fakeSignal
	source *fakeSource
	peers  *peerPool
	ringer *fakeRinger
	perms  *fakePerms
}

func newEndpoint(self domain.UserID) *endpoint {
	e := &endpoint{
		signal: &fakeSignal{},
		source: &fakeSource{},
		peers:  &peerPool{},
		ringer: &fakeRinger{},
		perms:  &fakePerms{},
	}
	e.d = NewDispatcher(Config{
		Self:        self,
		Display:     &domain.DisplayMetadata{CallerName: "user " + string(self)},
		Media:       Constraints{Audio: true},
		Signal:      e.signal,
		Peers:       e.peers.factory(),
		Source:      e.source,
		Permissions: e.perms,
		Ringer:      e.ringer,
	})
	return e
}

func (e *endpoint) act(t *testing.T, a Action) error {
	t.Helper()
	return e.d.Handle(context.Background(), UserEvent(a))
}

// relay hands every message emitted by from to the dispatcher of to, the way
// the server does for a live recipient, until both sides go quiet.
func relay(t *testing.T, a, b *endpoint) {
	t.Helper()
	for i := 0; i < 20; i++ {
		moved := false
		for _, pair := range [][2]*endpoint{{a, b}, {b, a}} {
			for _, m := range pair[0].signal.drain() {
				moved = true
				require.NoError(t, pair[1].d.Handle(context.Background(), SocketEvent(m)))
			}
		}
		if !moved {
			return
		}
	}
	t.Fatal("relay did not settle")
}

func offerFrom(from, to domain.UserID) domain.Message {
	return domain.Message{
		Kind: domain.KindOffer, From: from, To: to,
		SessionDescription: &domain.SessionDescription{Type: "offer", SDP: "offer-sdp"},
	}
}

func TestBothOnlineCallConnects(t *testing.T) {
	caller, callee := newEndpoint("1"), newEndpoint("2")

	require.NoError(t, caller.act(t, Action{Kind: ActionStartCall, Remote: "2"}))
	relay(t, caller, callee)

	require.Len(t, callee.ringer.rings, 1)
	assert.Equal(t, domain.UserID("1"), callee.ringer.rings[0].From)

	require.NoError(t, callee.act(t, Action{Kind: ActionAccept}))
	relay(t, caller, callee)

	assert.Equal(t, PhaseConnected, caller.d.Active().Phase())
	assert.Equal(t, PhaseConnected, callee.d.Active().Phase())
	assert.Equal(t, []domain.UserID{"1"}, callee.ringer.stopped)
}

func TestRingFirstCallConnects(t *testing.T) {
	caller, callee := newEndpoint("1"), newEndpoint("2")

	require.NoError(t, caller.act(t, Action{Kind: ActionStartCall, Remote: "2", RingFirst: true}))
	assert.Equal(t, PhaseRingingRemote, caller.d.Active().Phase())
	relay(t, caller, callee)
	require.Len(t, callee.ringer.rings, 1)
	assert.Equal(t, "user 1", callee.ringer.rings[0].Display.CallerName)

	require.NoError(t, callee.act(t, Action{Kind: ActionAccept}))
	relay(t, caller, callee)

	assert.Equal(t, PhaseConnected, caller.d.Active().Phase())
	assert.Equal(t, PhaseConnected, callee.d.Active().Phase())
}

func TestCalleeDeclinesBeforeAccepting(t *testing.T) {
	caller, callee := newEndpoint("1"), newEndpoint("2")

	require.NoError(t, caller.act(t, Action{Kind: ActionStartCall, Remote: "2"}))
	callerTracks := caller.source.issued
	relay(t, caller, callee)

	require.NoError(t, callee.act(t, Action{Kind: ActionDecline}))
	sent := callee.signal.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.Message{Kind: domain.KindDeclineCall, From: "2", To: "1"}, sent[0])
	assert.Equal(t, 1, callee.signal.ensures)

	var ended Snapshot
	caller.d.Active().OnEnded(func(s Snapshot) { ended = s })
	relay(t, caller, callee)

	assert.Nil(t, caller.d.Active())
	assert.Equal(t, EndRemoteDecline, ended.Reason)
	for _, tr := range callerTracks {
		assert.Equal(t, 1, tr.Stops())
	}
	assert.Equal(t, 1, caller.peers.last().Closed())
}

func TestCallEndingUnconnectedSendsMissedCall(t *testing.T) {
	caller := newEndpoint("1")
	require.NoError(t, caller.act(t, Action{Kind: ActionStartCall, Remote: "2"}))
	require.NoError(t, caller.act(t, Action{Kind: ActionHangup}))

	assert.Equal(t, []domain.Kind{domain.KindOffer, domain.KindHangup, domain.KindMissCallNotify}, caller.signal.Kinds())
	miss := caller.signal.Sent()[2]
	assert.Equal(t, domain.UserID("1"), miss.From)
	assert.Equal(t, domain.UserID("2"), miss.To)
	assert.Nil(t, caller.d.Active())
}

func TestDuplicateTriggersRingOnce(t *testing.T) {
	callee := newEndpoint("2")
	ctx := context.Background()
	offer := offerFrom("1", "2")

	data, err := domain.EncodePushData(domain.PushIncomingCall, offer)
	require.NoError(t, err)

	require.NoError(t, callee.d.Handle(ctx, SocketEvent(offer)))
	require.NoError(t, callee.d.Handle(ctx, PushEvent(SourceForegroundPush, data)))
	require.NoError(t, callee.d.Handle(ctx, SocketEvent(offer)))

	assert.Len(t, callee.ringer.rings, 1)
	assert.Empty(t, callee.signal.Sent())
}

func TestSecondCallerIsAutoDeclined(t *testing.T) {
	callee := newEndpoint("2")
	ctx := context.Background()

	require.NoError(t, callee.d.Handle(ctx, SocketEvent(offerFrom("1", "2"))))
	require.NoError(t, callee.act(t, Action{Kind: ActionAccept}))
	callee.signal.drain()

	require.NoError(t, callee.d.Handle(ctx, SocketEvent(offerFrom("3", "2"))))
	sent := callee.signal.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.Message{Kind: domain.KindDeclineCall, From: "2", To: "3"}, sent[0])
	assert.Equal(t, domain.UserID("1"), callee.d.Active().Remote())
	assert.Len(t, callee.ringer.rings, 1)
}

func TestPermissionDeniedAutoDeclines(t *testing.T) {
	callee := newEndpoint("2")
	callee.perms.err = ErrPermissionDenied
	callee.d.cfg.AutoAccept = true

	require.NoError(t, callee.d.Handle(context.Background(), SocketEvent(offerFrom("1", "2"))))
	assert.Nil(t, callee.d.Active())
	assert.Equal(t, []domain.Kind{domain.KindDeclineCall}, callee.signal.Kinds())
	assert.Empty(t, callee.source.issued)
}

func TestStartCallPermissionDenied(t *testing.T) {
	caller := newEndpoint("1")
	caller.perms.err = errors.New("no camera")

	err := caller.act(t, Action{Kind: ActionStartCall, Remote: "2"})
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Nil(t, caller.d.Active())
	assert.Empty(t, caller.signal.Sent())
}

func TestStartCallWhileBusy(t *testing.T) {
	caller := newEndpoint("1")
	require.NoError(t, caller.act(t, Action{Kind: ActionStartCall, Remote: "2"}))
	require.ErrorIs(t, caller.act(t, Action{Kind: ActionStartCall, Remote: "3"}), ErrBusy)
	require.Error(t, caller.act(t, Action{Kind: ActionStartCall, Remote: "1"}))
}

func TestLaunchPushAcceptAnswersStoredOffer(t *testing.T) {
	callee := newEndpoint("2")
	ctx := context.Background()

	data, err := domain.EncodePushData(domain.PushIncomingCall, offerFrom("1", "2"))
	require.NoError(t, err)
	require.NoError(t, callee.d.Handle(ctx, PushEvent(SourceLaunchPush, data)))
	require.Len(t, callee.ringer.rings, 1)
	assert.Equal(t, SourceLaunchPush, callee.ringer.rings[0].Source)

	require.NoError(t, callee.act(t, Action{Kind: ActionAccept}))
	sent := callee.signal.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.KindAnswer, sent[0].Kind)
	assert.Equal(t, domain.UserID("1"), sent[0].To)
	assert.Equal(t, "offer-sdp", callee.peers.last().remote.SDP)
}

func TestRingCandidatesReplayedOnAccept(t *testing.T) {
	callee := newEndpoint("2")
	ctx := context.Background()

	require.NoError(t, callee.d.Handle(ctx, SocketEvent(offerFrom("1", "2"))))
	for i := 1; i <= 2; i++ {
		c := cand(i)
		require.NoError(t, callee.d.Handle(ctx, SocketEvent(domain.Message{Kind: domain.KindCandidate, From: "1", To: "2", Candidate: &c})))
	}
	require.NoError(t, callee.act(t, Action{Kind: ActionAccept}))
	assert.Equal(t, []domain.Candidate{cand(1), cand(2)}, callee.peers.last().Added())
}

func TestCallerHangupCancelsRing(t *testing.T) {
	callee := newEndpoint("2")
	ctx := context.Background()

	require.NoError(t, callee.d.Handle(ctx, SocketEvent(offerFrom("1", "2"))))
	require.NoError(t, callee.d.Handle(ctx, SocketEvent(domain.Message{Kind: domain.KindHangup, From: "1", To: "2"})))
	_, ringing := callee.d.Ringing()
	assert.False(t, ringing)
	assert.Equal(t, []domain.UserID{"1"}, callee.ringer.stopped)

	require.NoError(t, callee.d.Handle(ctx, SocketEvent(domain.Message{Kind: domain.KindMissCallNotify, From: "1", To: "2"})))
	assert.Equal(t, []domain.UserID{"1"}, callee.ringer.missed)
}

func TestMissCallPushShowsAlert(t *testing.T) {
	callee := newEndpoint("2")
	data, err := domain.EncodePushData(domain.PushMissCall, domain.Message{Kind: domain.KindMissCallNotify, From: "1", To: "2"})
	require.NoError(t, err)

	require.NoError(t, callee.d.Handle(context.Background(), PushEvent(SourceForegroundPush, data)))
	assert.Equal(t, []domain.UserID{"1"}, callee.ringer.missed)
	assert.Empty(t, callee.ringer.rings)
}

func TestLateMessagesAreDropped(t *testing.T) {
	caller := newEndpoint("1")
	ctx := context.Background()

	require.NoError(t, caller.d.Handle(ctx, SocketEvent(domain.Message{
		Kind: domain.KindAnswer, From: "2", To: "1",
		SessionDescription: &domain.SessionDescription{Type: "answer", SDP: "a"},
	})))
	require.NoError(t, caller.d.Handle(ctx, SocketEvent(domain.Message{Kind: domain.KindHangup, From: "2", To: "1"})))
	require.NoError(t, caller.d.Handle(ctx, SocketEvent(offerFrom("9", "someone-else"))))
	assert.Empty(t, caller.signal.Sent())
}

func TestFocusLostEndsCall(t *testing.T) {
	caller := newEndpoint("1")
	require.NoError(t, caller.act(t, Action{Kind: ActionStartCall, Remote: "2"}))
	call := caller.d.Active()

	require.NoError(t, caller.act(t, Action{Kind: ActionFocusLost}))
	assert.Equal(t, EndFocusLost, call.Snapshot().Reason)
	assert.Nil(t, caller.d.Active())
}

func TestRunConsumesQueue(t *testing.T) {
	callee := newEndpoint("2")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- callee.d.Run(ctx) }()

	require.NoError(t, callee.d.Submit(ctx, SocketEvent(offerFrom("1", "2"))))
	require.NoError(t, callee.d.Submit(ctx, UserEvent(Action{Kind: ActionDecline})))
	require.Eventually(t, func() bool { return len(callee.signal.Sent()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/callring/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseOutgoingPending Phase = "outgoing-pending"
	PhaseNegotiating     Phase = "negotiating"
	PhaseRingingRemote   Phase = "ringing-remote"
	PhaseRingingLocal    Phase = "ringing-local"
	PhaseConnected       Phase = "connected"
	PhaseEnded           Phase = "ended"
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

type EndReason string

const (
	EndLocalHangup   EndReason = "local-hangup"
	EndRemoteHangup  EndReason = "remote-hangup"
	EndLocalDecline  EndReason = "local-decline"
	EndRemoteDecline EndReason = "remote-decline"
	EndFocusLost     EndReason = "focus-lost"
	EndFailed        EndReason = "failed"
)

var (
	ErrInvalidTransition = errors.New("invalid call transition")
	ErrCallEnded         = errors.New("call ended")
	ErrMedia             = errors.New("media acquisition failed")
	ErrNegotiation       = errors.New("negotiation failed")
)

const emitTimeout = 5 * time.Second

type CallConfig struct {
	Local   domain.UserID
	Remote  domain.UserID
	Role    Role
	Media   Constraints
	Display *domain.DisplayMetadata
	Signal  Emitter
	Peers   PeerFactory
	Source  MediaSource
}

// Snapshot is a read-only view of a call for UI and tests.
type Snapshot struct {
	Phase        Phase
	Role         Role
	Local        domain.UserID
	Remote       domain.UserID
	Connected    bool
	Reason       EndReason
	Mic          bool
	Camera       bool
	Speaker      bool
	Pending      int
	RemoteTracks int
}

// Call is one call attempt. It owns its peer connection and tracks; once
// ended it is never reused.
type Call struct {
	cfg    CallConfig
	logger zerolog.Logger

	mu            sync.Mutex
	phase         Phase
	pc            PeerConnection
	local         []Track
	pending       []domain.Candidate
	remoteSet     bool
	awaitingOffer bool
	connected     bool
	released      bool
	speaker       bool
	reason        EndReason
	onEnded       []func(Snapshot)
	notify        []func(Snapshot)

	// cbMu guards state touched from peer callbacks; never held across pc calls.
	cbMu      sync.Mutex
	remote    []Track
	outgoing  []domain.Candidate
	announced bool

	ended atomic.Bool
}

func NewCall(cfg CallConfig) *Call {
	return &Call{
		cfg:     cfg,
		phase:   PhaseIdle,
		speaker: true,
		logger: log.With().
			Str("module", "client.call").
			Str("role", string(cfg.Role)).
			Str("local", string(cfg.Local)).
			Str("remote", string(cfg.Remote)).
			Logger(),
	}
}

func (c *Call) Remote() domain.UserID { return c.cfg.Remote }
func (c *Call) Role() Role            { return c.cfg.Role }

// OnEnded registers fn to run once, after teardown, outside the call lock.
func (c *Call) OnEnded(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.unlock()
	if c.released {
		c.notify = append(c.notify, fn)
		return
	}
	c.onEnded = append(c.onEnded, fn)
}

func (c *Call) unlock() {
	fns := c.notify
	c.notify = nil
	var snap Snapshot
	if len(fns) > 0 {
		snap = c.snapshotLocked()
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Call) invalid(op string) error {
	if c.phase == PhaseEnded {
		return fmt.Errorf("%w: %s", ErrCallEnded, op)
	}
	return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, op, c.phase)
}

// Ring announces the call without an offer; the callee answers with accept-call.
func (c *Call) Ring(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()
	if c.cfg.Role != RoleCaller || c.phase != PhaseIdle {
		return c.invalid("ring")
	}
	c.phase = PhaseOutgoingPending
	if err := c.acquireLocked(ctx); err != nil {
		c.phase = PhaseIdle
		return err
	}
	msg := c.message(domain.KindIncomingCallNotify)
	msg.Display = c.cfg.Display
	if err := c.cfg.Signal.Emit(ctx, msg); err != nil {
		c.teardownLocked(EndFailed)
		return fmt.Errorf("emit ring: %w", err)
	}
	c.phase = PhaseRingingRemote
	c.logger.Info().Msg("ringing remote")
	return nil
}

// StartCall acquires media and sends the offer.
func (c *Call) StartCall(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()
	if c.cfg.Role != RoleCaller {
		return c.invalid("start")
	}
	switch c.phase {
	case PhaseIdle:
		c.phase = PhaseOutgoingPending
	case PhaseRingingRemote:
	default:
		return c.invalid("start")
	}
	if err := c.acquireLocked(ctx); err != nil {
		c.phase = PhaseIdle
		return err
	}

	pc, err := c.peerLocked()
	if err != nil {
		c.teardownLocked(EndFailed)
		return err
	}
	offer, err := pc.CreateOffer()
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		c.teardownLocked(EndFailed)
		return fmt.Errorf("%w: offer: %v", ErrNegotiation, err)
	}
	msg := c.message(domain.KindOffer)
	msg.SessionDescription = &offer
	msg.Display = c.cfg.Display
	if err := c.cfg.Signal.Emit(ctx, msg); err != nil {
		c.teardownLocked(EndFailed)
		return fmt.Errorf("emit offer: %w", err)
	}
	c.phase = PhaseNegotiating
	c.announce()
	c.logger.Info().Msg("offer sent")
	return nil
}

// ReceiveAnswer completes the caller side.
func (c *Call) ReceiveAnswer(sd domain.SessionDescription) error {
	c.mu.Lock()
	defer c.unlock()
	if c.cfg.Role != RoleCaller || c.phase != PhaseNegotiating {
		return c.invalid("answer")
	}
	if err := c.pc.SetRemoteDescription(sd); err != nil {
		c.teardownLocked(EndFailed)
		return fmt.Errorf("%w: remote answer: %v", ErrNegotiation, err)
	}
	c.remoteSet = true
	c.flushLocked()
	c.phase = PhaseConnected
	c.connected = true
	c.logger.Info().Msg("connected")
	return nil
}

// MarkRinging moves a fresh callee call into ringing-local.
func (c *Call) MarkRinging() error {
	c.mu.Lock()
	defer c.unlock()
	if c.cfg.Role != RoleCallee || c.phase != PhaseIdle {
		return c.invalid("ring-local")
	}
	c.phase = PhaseRingingLocal
	return nil
}

// AcceptIncoming answers an offer that arrived with the ring.
func (c *Call) AcceptIncoming(ctx context.Context, offer domain.SessionDescription) error {
	c.mu.Lock()
	defer c.unlock()
	if c.cfg.Role != RoleCallee || (c.phase != PhaseIdle && c.phase != PhaseRingingLocal) {
		return c.invalid("accept")
	}
	c.phase = PhaseNegotiating
	if err := c.acquireLocked(ctx); err != nil {
		c.teardownLocked(EndFailed)
		return err
	}
	return c.answerLocked(ctx, offer)
}

// Accept answers a ring that carried no offer. The offer follows via ReceiveOffer.
func (c *Call) Accept(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()
	if c.cfg.Role != RoleCallee || (c.phase != PhaseIdle && c.phase != PhaseRingingLocal) {
		return c.invalid("accept")
	}
	c.phase = PhaseNegotiating
	if err := c.acquireLocked(ctx); err != nil {
		c.teardownLocked(EndFailed)
		return err
	}
	if err := c.cfg.Signal.Emit(ctx, c.message(domain.KindAcceptCall)); err != nil {
		c.teardownLocked(EndFailed)
		return fmt.Errorf("emit accept: %w", err)
	}
	c.awaitingOffer = true
	return nil
}

func (c *Call) ReceiveOffer(ctx context.Context, offer domain.SessionDescription) error {
	c.mu.Lock()
	defer c.unlock()
	if c.cfg.Role != RoleCallee || c.phase != PhaseNegotiating || !c.awaitingOffer {
		return c.invalid("offer")
	}
	c.awaitingOffer = false
	return c.answerLocked(ctx, offer)
}

// AwaitingOffer reports whether an accepted ring still waits for its offer.
func (c *Call) AwaitingOffer() bool {
	c.mu.Lock()
	defer c.unlock()
	return c.awaitingOffer
}

func (c *Call) answerLocked(ctx context.Context, offer domain.SessionDescription) error {
	pc, err := c.peerLocked()
	if err != nil {
		c.teardownLocked(EndFailed)
		return err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		c.teardownLocked(EndFailed)
		return fmt.Errorf("%w: remote offer: %v", ErrNegotiation, err)
	}
	c.remoteSet = true
	c.flushLocked()

	answer, err := pc.CreateAnswer()
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err != nil {
		c.teardownLocked(EndFailed)
		return fmt.Errorf("%w: answer: %v", ErrNegotiation, err)
	}
	msg := c.message(domain.KindAnswer)
	msg.SessionDescription = &answer
	if err := c.cfg.Signal.Emit(ctx, msg); err != nil {
		c.teardownLocked(EndFailed)
		return fmt.Errorf("emit answer: %w", err)
	}
	c.phase = PhaseConnected
	c.connected = true
	c.announce()
	c.logger.Info().Msg("answered, connected")
	return nil
}

// ReceiveCandidate applies cand or buffers it until the remote description is set.
func (c *Call) ReceiveCandidate(cand domain.Candidate) error {
	c.mu.Lock()
	defer c.unlock()
	if c.phase == PhaseEnded {
		return c.invalid("candidate")
	}
	if !c.remoteSet || c.pc == nil {
		c.pending = append(c.pending, cand)
		return nil
	}
	if err := c.pc.AddICECandidate(cand); err != nil {
		c.logger.Warn().Err(err).Msg("add candidate")
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (c *Call) flushLocked() {
	for len(c.pending) > 0 {
		cand := c.pending[0]
		c.pending = c.pending[1:]
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.logger.Warn().Err(err).Msg("replay candidate")
		}
	}
	c.pending = nil
}

// Hangup ends the call. Only the first call has any effect.
func (c *Call) Hangup(reason EndReason) bool {
	c.mu.Lock()
	defer c.unlock()
	return c.teardownLocked(reason)
}

func (c *Call) teardownLocked(reason EndReason) bool {
	if c.released {
		return false
	}
	c.released = true
	c.ended.Store(true)
	prev := c.phase

	for _, t := range c.local {
		t.Stop()
	}
	c.local = nil

	c.cbMu.Lock()
	for _, t := range c.remote {
		t.Stop()
	}
	c.remote = nil
	c.outgoing = nil
	c.cbMu.Unlock()

	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close peer")
		}
		c.pc = nil
	}
	c.pending = nil
	c.phase = PhaseEnded
	c.reason = reason
	c.notify = append(c.notify, c.onEnded...)
	c.onEnded = nil

	c.logger.Info().Str("reason", string(reason)).Str("from_phase", string(prev)).Bool("connected", c.connected).Msg("call ended")

	// Before the first ring or offer goes out the remote has heard nothing.
	if prev == PhaseIdle || prev == PhaseOutgoingPending {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	kind := domain.KindHangup
	if reason == EndLocalDecline {
		kind = domain.KindDeclineCall
	}
	c.emit(ctx, c.message(kind))
	if !c.connected {
		missed := c.message(domain.KindMissCallNotify)
		missed.Display = c.cfg.Display
		c.emit(ctx, missed)
	}
	return true
}

func (c *Call) ToggleMic() bool    { return c.toggle(MediaAudio) }
func (c *Call) ToggleCamera() bool { return c.toggle(MediaVideo) }

func (c *Call) ToggleSpeaker() bool {
	c.mu.Lock()
	defer c.unlock()
	c.speaker = !c.speaker
	return c.speaker
}

func (c *Call) toggle(kind MediaKind) bool {
	c.mu.Lock()
	defer c.unlock()
	on := !enabled(c.local, kind)
	for _, t := range c.local {
		if t.Kind() == kind {
			t.SetEnabled(on)
		}
	}
	return enabled(c.local, kind)
}

func enabled(tracks []Track, kind MediaKind) bool {
	for _, t := range tracks {
		if t.Kind() == kind && t.Enabled() {
			return true
		}
	}
	return false
}

func (c *Call) Phase() Phase {
	c.mu.Lock()
	defer c.unlock()
	return c.phase
}

func (c *Call) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.unlock()
	return c.snapshotLocked()
}

func (c *Call) snapshotLocked() Snapshot {
	c.cbMu.Lock()
	remote := len(c.remote)
	c.cbMu.Unlock()
	return Snapshot{
		Phase:        c.phase,
		Role:         c.cfg.Role,
		Local:        c.cfg.Local,
		Remote:       c.cfg.Remote,
		Connected:    c.connected,
		Reason:       c.reason,
		Mic:          enabled(c.local, MediaAudio),
		Camera:       enabled(c.local, MediaVideo),
		Speaker:      c.speaker,
		Pending:      len(c.pending),
		RemoteTracks: remote,
	}
}

func (c *Call) acquireLocked(ctx context.Context) error {
	if c.local != nil {
		return nil
	}
	tracks, err := c.cfg.Source.Acquire(ctx, c.cfg.Media)
	if err != nil {
		c.logger.Error().Err(err).Msg("acquire media")
		return fmt.Errorf("%w: %v", ErrMedia, err)
	}
	c.local = tracks
	return nil
}

func (c *Call) peerLocked() (PeerConnection, error) {
	if c.pc != nil {
		return c.pc, nil
	}
	pc, err := c.cfg.Peers()
	if err != nil {
		return nil, fmt.Errorf("%w: new peer: %v", ErrNegotiation, err)
	}
	pc.OnICECandidate(c.onLocalCandidate)
	pc.OnTrack(c.onRemoteTrack)
	pc.OnStateChange(c.onPeerState)
	for _, t := range c.local {
		if err := pc.AddTrack(t); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("%w: add track: %v", ErrNegotiation, err)
		}
	}
	c.pc = pc
	return pc, nil
}

func (c *Call) message(k domain.Kind) domain.Message {
	return domain.Message{Kind: k, From: c.cfg.Local, To: c.cfg.Remote}
}

func (c *Call) emit(ctx context.Context, m domain.Message) {
	if err := c.cfg.Signal.Emit(ctx, m); err != nil {
		c.logger.Warn().Err(err).Str("kind", string(m.Kind)).Msg("emit failed")
	}
}

// announce releases local candidates held back until the description went out.
func (c *Call) announce() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.announced = true
	if len(c.outgoing) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	for _, cand := range c.outgoing {
		c.emitCandidate(ctx, cand)
	}
	c.outgoing = nil
}

func (c *Call) emitCandidate(ctx context.Context, cand domain.Candidate) {
	m := c.message(domain.KindCandidate)
	m.Candidate = &cand
	c.emit(ctx, m)
}

func (c *Call) onLocalCandidate(cand domain.Candidate) {
	if c.ended.Load() {
		return
	}
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	if !c.announced {
		c.outgoing = append(c.outgoing, cand)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	c.emitCandidate(ctx, cand)
}

func (c *Call) onRemoteTrack(t Track) {
	if c.ended.Load() {
		t.Stop()
		return
	}
	c.cbMu.Lock()
	if c.ended.Load() {
		c.cbMu.Unlock()
		t.Stop()
		return
	}
	c.remote = append(c.remote, t)
	c.cbMu.Unlock()
	c.logger.Info().Str("track", t.ID()).Str("kind", string(t.Kind())).Msg("remote track")
}

func (c *Call) onPeerState(s PeerState) {
	c.logger.Debug().Str("state", string(s)).Msg("peer state")
	if s == PeerFailed {
		go c.Hangup(EndFailed)
	}
}

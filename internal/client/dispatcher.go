package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/callring/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Source says where an event came from.
type Source string

const (
	SourceSocket         Source = "socket"
	SourceForegroundPush Source = "foreground-push"
	SourceLaunchPush     Source = "launch-push"
	SourceUser           Source = "user"
)

type ActionKind string

const (
	ActionAccept        ActionKind = "accept"
	ActionDecline       ActionKind = "decline"
	ActionHangup        ActionKind = "hangup"
	ActionFocusLost     ActionKind = "focus-lost"
	ActionStartCall     ActionKind = "start-call"
	ActionToggleMic     ActionKind = "toggle-mic"
	ActionToggleCamera  ActionKind = "toggle-camera"
	ActionToggleSpeaker ActionKind = "toggle-speaker"
)

type Action struct {
	Kind      ActionKind
	Remote    domain.UserID
	RingFirst bool
}

// Event is one entry of the dispatcher queue. Exactly one of Message,
// PushData and Action is set.
type Event struct {
	Source   Source
	Message  *domain.Message
	PushData map[string]string
	Action   *Action
}

func SocketEvent(m domain.Message) Event { return Event{Source: SourceSocket, Message: &m} }

func PushEvent(src Source, data map[string]string) Event {
	return Event{Source: src, PushData: data}
}

func UserEvent(a Action) Event { return Event{Source: SourceUser, Action: &a} }

var (
	ErrBusy             = errors.New("already in a call")
	ErrPermissionDenied = errors.New("media permission denied")
	ErrNoRing           = errors.New("no incoming call")
	ErrNoCall           = errors.New("no active call")
)

type Config struct {
	Self        domain.UserID
	Display     *domain.DisplayMetadata
	Media       Constraints
	AutoAccept  bool
	Signal      SignalChannel
	Peers       PeerFactory
	Source      MediaSource
	Permissions Permissions
	Ringer      Ringer
	QueueSize   int
	// OnCall sees every call the dispatcher creates.
	OnCall func(*Call)
}

type ring struct {
	from       domain.UserID
	offer      *domain.SessionDescription
	display    *domain.DisplayMetadata
	candidates []domain.Candidate
	source     Source
}

// Dispatcher owns at most one ring and one active call. All state is touched
// from the goroutine running Run (or directly through Handle in tests).
type Dispatcher struct {
	cfg    Config
	events chan Event
	logger zerolog.Logger

	active *Call
	ring   *ring
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Dispatcher{
		cfg:    cfg,
		events: make(chan Event, cfg.QueueSize),
		logger: log.With().Str("module", "client.dispatcher").Str("self", string(cfg.Self)).Logger(),
	}
}

func (d *Dispatcher) Submit(ctx context.Context, ev Event) error {
	select {
	case d.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if d.active != nil {
				d.active.Hangup(EndFocusLost)
			}
			return ctx.Err()
		case ev := <-d.events:
			if err := d.Handle(ctx, ev); err != nil {
				d.logger.Warn().Err(err).Str("source", string(ev.Source)).Msg("event failed")
			}
		}
	}
}

// Active returns the current call, if any.
func (d *Dispatcher) Active() *Call {
	d.reap()
	return d.active
}

// Ringing returns the caller of the pending ring.
func (d *Dispatcher) Ringing() (domain.UserID, bool) {
	if d.ring == nil {
		return "", false
	}
	return d.ring.from, true
}

// Handle applies one event. It is the single transition function for every source.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	d.reap()
	defer d.reap()
	switch {
	case ev.Action != nil:
		return d.handleAction(ctx, *ev.Action)
	case ev.PushData != nil:
		return d.handlePush(ctx, ev.Source, ev.PushData)
	case ev.Message != nil:
		err := d.handleMessage(ctx, ev.Source, *ev.Message)
		if errors.Is(err, ErrCallEnded) {
			d.logger.Debug().Err(err).Msg("late message dropped")
			return nil
		}
		return err
	}
	return nil
}

func (d *Dispatcher) reap() {
	if d.active != nil && d.active.Phase() == PhaseEnded {
		d.active = nil
	}
}

func (d *Dispatcher) handlePush(ctx context.Context, src Source, data map[string]string) error {
	pt, msg, err := domain.ParsePushData(data)
	if err != nil {
		return fmt.Errorf("push payload: %w", err)
	}
	d.logger.Info().Str("source", string(src)).Str("push_type", string(pt)).Str("from", string(msg.From)).Msg("push")
	if pt == domain.PushMissCall {
		d.missed(msg)
		return nil
	}
	return d.handleMessage(ctx, src, msg)
}

func (d *Dispatcher) handleMessage(ctx context.Context, src Source, m domain.Message) error {
	if m.To != "" && m.To != d.cfg.Self {
		d.logger.Warn().Str("kind", string(m.Kind)).Str("to", string(m.To)).Msg("message for another user")
		return nil
	}
	logger := d.logger.With().Str("kind", string(m.Kind)).Str("from", string(m.From)).Logger()

	switch m.Kind {
	case domain.KindOffer, domain.KindIncomingCallNotify:
		return d.incoming(ctx, src, m)
	case domain.KindAnswer:
		if c := d.callWith(m.From); c != nil {
			return c.ReceiveAnswer(*m.SessionDescription)
		}
	case domain.KindCandidate:
		if c := d.callWith(m.From); c != nil {
			return c.ReceiveCandidate(*m.Candidate)
		}
		if d.ring != nil && d.ring.from == m.From {
			d.ring.candidates = append(d.ring.candidates, *m.Candidate)
			return nil
		}
	case domain.KindAcceptCall:
		if c := d.callWith(m.From); c != nil && c.Role() == RoleCaller {
			return c.StartCall(ctx)
		}
	case domain.KindDeclineCall:
		if c := d.callWith(m.From); c != nil {
			c.Hangup(EndRemoteDecline)
			return nil
		}
		if d.cancelRing(m.From) {
			return nil
		}
	case domain.KindHangup:
		if c := d.callWith(m.From); c != nil {
			c.Hangup(EndRemoteHangup)
			return nil
		}
		if d.cancelRing(m.From) {
			return nil
		}
	case domain.KindMissCallNotify:
		d.missed(m)
		return nil
	case domain.KindError:
		logger.Warn().Str("error", m.Error).Msg("server error")
		return nil
	default:
		logger.Debug().Msg("ignored")
		return nil
	}
	logger.Debug().Msg("no matching call, dropped")
	return nil
}

func (d *Dispatcher) callWith(remote domain.UserID) *Call {
	if d.active != nil && d.active.Remote() == remote {
		return d.active
	}
	return nil
}

func (d *Dispatcher) incoming(ctx context.Context, src Source, m domain.Message) error {
	logger := d.logger.With().Str("kind", string(m.Kind)).Str("from", string(m.From)).Str("source", string(src)).Logger()

	if c := d.active; c != nil {
		if c.Remote() != m.From {
			logger.Info().Msg("busy, auto-declining")
			return d.decline(ctx, m.From)
		}
		if m.Kind == domain.KindOffer && c.Role() == RoleCallee && c.AwaitingOffer() {
			return c.ReceiveOffer(ctx, *m.SessionDescription)
		}
		logger.Debug().Msg("duplicate trigger for active call")
		return nil
	}

	if r := d.ring; r != nil {
		if r.from != m.From {
			logger.Info().Msg("already ringing, auto-declining")
			return d.decline(ctx, m.From)
		}
		if r.offer == nil && m.Kind == domain.KindOffer {
			r.offer = m.SessionDescription
		}
		if r.display == nil {
			r.display = m.Display
		}
		logger.Debug().Msg("duplicate ring")
		return nil
	}

	r := &ring{from: m.From, display: m.Display, source: src}
	if m.Kind == domain.KindOffer {
		r.offer = m.SessionDescription
	}
	d.ring = r
	d.cfg.Ringer.Ring(Incoming{From: m.From, Display: m.Display, Source: src})
	logger.Info().Bool("has_offer", r.offer != nil).Msg("ringing")

	if d.cfg.AutoAccept {
		return d.accept(ctx)
	}
	return nil
}

// decline tells remote no, with the pair swapped.
func (d *Dispatcher) decline(ctx context.Context, remote domain.UserID) error {
	if err := d.cfg.Signal.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("decline: %w", err)
	}
	return d.cfg.Signal.Emit(ctx, domain.Message{Kind: domain.KindDeclineCall, From: d.cfg.Self, To: remote})
}

func (d *Dispatcher) cancelRing(from domain.UserID) bool {
	if d.ring == nil || d.ring.from != from {
		return false
	}
	d.ring = nil
	d.cfg.Ringer.StopRinging(from)
	d.logger.Info().Str("from", string(from)).Msg("ring cancelled by caller")
	return true
}

func (d *Dispatcher) missed(m domain.Message) {
	d.cancelRing(m.From)
	d.cfg.Ringer.ShowMissed(m.From, m.Display)
}

func (d *Dispatcher) accept(ctx context.Context) error {
	r := d.ring
	if r == nil {
		return ErrNoRing
	}
	if d.active != nil {
		return ErrBusy
	}
	d.ring = nil
	d.cfg.Ringer.StopRinging(r.from)

	if err := d.cfg.Permissions.Request(ctx, d.cfg.Media); err != nil {
		d.logger.Warn().Err(err).Str("from", string(r.from)).Msg("permission denied, auto-declining")
		return d.decline(ctx, r.from)
	}
	if err := d.cfg.Signal.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("accept: %w", err)
	}

	c := d.newCall(r.from, RoleCallee)
	if err := c.MarkRinging(); err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	for _, cand := range r.candidates {
		if err := c.ReceiveCandidate(cand); err != nil {
			d.logger.Warn().Err(err).Str("from", string(r.from)).Msg("dropping replayed candidate")
		}
	}
	d.active = c
	if r.offer != nil {
		return c.AcceptIncoming(ctx, *r.offer)
	}
	return c.Accept(ctx)
}

func (d *Dispatcher) handleAction(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionAccept:
		return d.accept(ctx)
	case ActionDecline:
		if r := d.ring; r != nil {
			d.ring = nil
			d.cfg.Ringer.StopRinging(r.from)
			return d.decline(ctx, r.from)
		}
		if d.active != nil {
			d.active.Hangup(EndLocalDecline)
			return nil
		}
		return ErrNoRing
	case ActionHangup:
		if d.active == nil {
			return ErrNoCall
		}
		d.active.Hangup(EndLocalHangup)
		return nil
	case ActionFocusLost:
		if d.active != nil {
			d.active.Hangup(EndFocusLost)
		}
		return nil
	case ActionStartCall:
		return d.startCall(ctx, a.Remote, a.RingFirst)
	case ActionToggleMic, ActionToggleCamera, ActionToggleSpeaker:
		if d.active == nil {
			return ErrNoCall
		}
		var on bool
		switch a.Kind {
		case ActionToggleMic:
			on = d.active.ToggleMic()
		case ActionToggleCamera:
			on = d.active.ToggleCamera()
		default:
			on = d.active.ToggleSpeaker()
		}
		d.logger.Info().Str("action", string(a.Kind)).Bool("on", on).Msg("toggled")
		return nil
	}
	return fmt.Errorf("unknown action %q", a.Kind)
}

func (d *Dispatcher) startCall(ctx context.Context, remote domain.UserID, ringFirst bool) error {
	if remote == "" || remote == d.cfg.Self {
		return fmt.Errorf("%w: cannot call %q", ErrInvalidTransition, remote)
	}
	if d.active != nil || d.ring != nil {
		return ErrBusy
	}
	if err := d.cfg.Permissions.Request(ctx, d.cfg.Media); err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := d.cfg.Signal.EnsureConnected(ctx); err != nil {
		return fmt.Errorf("start call: %w", err)
	}

	c := d.newCall(remote, RoleCaller)
	d.active = c
	var err error
	if ringFirst {
		err = c.Ring(ctx)
	} else {
		err = c.StartCall(ctx)
	}
	if err != nil && c.Phase() == PhaseIdle {
		d.active = nil
	}
	return err
}

func (d *Dispatcher) newCall(remote domain.UserID, role Role) *Call {
	c := NewCall(CallConfig{
		Local:   d.cfg.Self,
		Remote:  remote,
		Role:    role,
		Media:   d.cfg.Media,
		Display: d.cfg.Display,
		Signal:  d.cfg.Signal,
		Peers:   d.cfg.Peers,
		Source:  d.cfg.Source,
	})
	if d.cfg.OnCall != nil {
		d.cfg.OnCall(c)
	}
	return c
}

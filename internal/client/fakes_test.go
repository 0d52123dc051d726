package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/callring/internal/domain"
)

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    MediaKind
	enabled bool
	stops   int
}

func (t *fakeTrack) ID() string      { return t.id }
func (t *fakeTrack) Kind() MediaKind { return t.kind }
func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
func (t *fakeTrack) SetEnabled(on bool) {
	t.mu.Lock()
	t.enabled = on
	t.mu.Unlock()
}
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stops++
	t.mu.Unlock()
}
func (t *fakeTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeSource struct {
	mu     sync.Mutex
	err    error
	issued []*fakeTrack
}

func (s *fakeSource) Acquire(_ context.Context, c Constraints) ([]Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	n := len(s.issued)
	out := []Track{}
	if c.Audio {
		t := &fakeTrack{id: fmt.Sprintf("a%d", n), kind: MediaAudio, enabled: true}
		s.issued = append(s.issued, t)
		out = append(out, t)
	}
	if c.Video {
		t := &fakeTrack{id: fmt.Sprintf("v%d", n), kind: MediaVideo, enabled: true}
		s.issued = append(s.issued, t)
		out = append(out, t)
	}
	return out, nil
}

type fakePeer struct {
	mu         sync.Mutex
	tracks     []Track
	local      *domain.SessionDescription
	remote     *domain.SessionDescription
	added      []domain.Candidate
	closed     int
	failRemote error

	onCand  func(domain.Candidate)
	onTrack func(Track)
	onState func(PeerState)
}

func (p *fakePeer) AddTrack(t Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return nil
}

func (p *fakePeer) CreateOffer() (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "offer", SDP: "offer-sdp"}, nil
}

func (p *fakePeer) CreateAnswer() (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return domain.SessionDescription{}, errors.New("no remote offer")
	}
	return domain.SessionDescription{Type: "answer", SDP: "answer-sdp"}, nil
}

func (p *fakePeer) SetLocalDescription(sd domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &sd
	return nil
}

func (p *fakePeer) SetRemoteDescription(sd domain.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRemote != nil {
		return p.failRemote
	}
	p.remote = &sd
	return nil
}

func (p *fakePeer) AddICECandidate(c domain.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.added = append(p.added, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(domain.Candidate)) { p.onCand = fn }
func (p *fakePeer) OnTrack(fn func(Track))                   { p.onTrack = fn }
func (p *fakePeer) OnStateChange(fn func(PeerState))         { p.onState = fn }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) Added() []domain.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Candidate(nil), p.added...)
}

func (p *fakePeer) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type peerPool struct {
	mu    sync.Mutex
	peers []*fakePeer
	next  func() *fakePeer
}

func (pp *peerPool) factory() PeerFactory {
	return func() (PeerConnection, error) {
		pp.mu.Lock()
		defer pp.mu.Unlock()
		p := &fakePeer{}
		if pp.next != nil {
			p = pp.next()
		}
		pp.peers = append(pp.peers, p)
		return p, nil
	}
}

func (pp *peerPool) last() *fakePeer {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if len(pp.peers) == 0 {
		return nil
	}
	return pp.peers[len(pp.peers)-1]
}

type fakeSignal struct {
	mu      sync.Mutex
	sent    []domain.Message
	ensures int
	err     error
	// failNext makes that many upcoming Emits fail.
	failNext int
}

func (s *fakeSignal) Emit(_ context.Context, m domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.failNext > 0 {
		s.failNext--
		return errors.New("socket down")
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *fakeSignal) EnsureConnected(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensures++
	return nil
}

func (s *fakeSignal) Sent() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.sent...)
}

func (s *fakeSignal) Kinds() []domain.Kind {
	var out []domain.Kind
	for _, m := range s.Sent() {
		out = append(out, m.Kind)
	}
	return out
}

// drain hands back and forgets everything emitted so far.
func (s *fakeSignal) drain() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

type fakePerms struct{ err error }

func (p fakePerms) Request(context.Context, Constraints) error { return p.err }

type fakeRinger struct {
	rings   []Incoming
	stopped []domain.UserID
	missed  []domain.UserID
}

func (r *fakeRinger) Ring(in Incoming)               { r.rings = append(r.rings, in) }
func (r *fakeRinger) StopRinging(from domain.UserID) { r.stopped = append(r.stopped, from) }
func (r *fakeRinger) ShowMissed(from domain.UserID, _ *domain.DisplayMetadata) {
	r.missed = append(r.missed, from)
}

func strPtr(s string) *string { return &s }

func cand(n int) domain.Candidate {
	return domain.Candidate{Candidate: fmt.Sprintf("candidate:%d 1 udp 1 10.0.0.%d 5000 typ host", n, n), SDPMid: strPtr("0")}
}

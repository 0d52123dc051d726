package rtc

import (
	"fmt"

	"github.com/dkeye/callring/internal/client"
	"github.com/dkeye/callring/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig(stunURLs []string) webrtc.Configuration {
	if len(stunURLs) == 0 {
		stunURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunURLs}},
	}
}

// NewAPI builds a pion API with the default codecs and interceptors.
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

// NewPeerFactory returns a factory producing one pion peer per call.
func NewPeerFactory(api *webrtc.API, cfg webrtc.Configuration) client.PeerFactory {
	return func() (client.PeerConnection, error) {
		pc, err := api.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		return &WebRTCConnection{pc: pc}, nil
	}
}

// WebRTCConnection adapts a pion peer connection to client.PeerConnection.
type WebRTCConnection struct {
	pc *webrtc.PeerConnection
}

var _ client.PeerConnection = (*WebRTCConnection)(nil)

func (c *WebRTCConnection) AddTrack(t client.Track) error {
	lt, ok := t.(*LocalTrack)
	if !ok {
		return fmt.Errorf("unsupported track %T", t)
	}
	sender, err := c.pc.AddTrack(lt.track)
	if err != nil {
		return err
	}

	// RTCP has to be drained for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *WebRTCConnection) CreateOffer() (domain.SessionDescription, error) {
	sd, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromSDP(sd), nil
}

func (c *WebRTCConnection) CreateAnswer() (domain.SessionDescription, error) {
	sd, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return fromSDP(sd), nil
}

func (c *WebRTCConnection) SetLocalDescription(sd domain.SessionDescription) error {
	return c.pc.SetLocalDescription(toSDP(sd))
}

func (c *WebRTCConnection) SetRemoteDescription(sd domain.SessionDescription) error {
	return c.pc.SetRemoteDescription(toSDP(sd))
}

func (c *WebRTCConnection) AddICECandidate(ci domain.Candidate) error {
	return c.pc.AddICECandidate(toICE(ci))
}

func (c *WebRTCConnection) OnICECandidate(fn func(domain.Candidate)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		fn(fromICE(cand.ToJSON()))
	})
}

func (c *WebRTCConnection) OnTrack(fn func(client.Track)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		fn(newRemoteTrack(track))
	})
}

func (c *WebRTCConnection) OnStateChange(fn func(client.PeerState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		fn(peerState(s))
	})
}

func (c *WebRTCConnection) Close() error {
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Msg("closed")
	return nil
}

func peerState(s webrtc.PeerConnectionState) client.PeerState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return client.PeerConnecting
	case webrtc.PeerConnectionStateConnected:
		return client.PeerConnected
	case webrtc.PeerConnectionStateDisconnected:
		return client.PeerDisconnected
	case webrtc.PeerConnectionStateFailed:
		return client.PeerFailed
	case webrtc.PeerConnectionStateClosed:
		return client.PeerClosed
	default:
		return client.PeerNew
	}
}

func toSDP(sd domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(sd.Type), SDP: sd.SDP}
}

func fromSDP(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func toICE(c domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromICE(c webrtc.ICECandidateInit) domain.Candidate {
	return domain.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

package rtc

import (
	"context"
	"testing"

	"github.com/dkeye/callring/internal/client"
	"github.com/dkeye/callring/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPeer(t *testing.T) client.PeerConnection {
	t.Helper()
	api, err := NewAPI()
	require.NoError(t, err)
	pc, err := NewPeerFactory(api, webrtc.Configuration{})()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })
	return pc
}

func TestOfferAnswerWithSyntheticMedia(t *testing.T) {
	caller, callee := newPeer(t), newPeer(t)

	tracks, err := SyntheticSource{}.Acquire(context.Background(), client.Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	t.Cleanup(func() {
		for _, tr := range tracks {
			tr.Stop()
		}
	})
	for _, tr := range tracks {
		require.NoError(t, caller.AddTrack(tr))
	}

	offer, err := caller.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
	require.NoError(t, caller.SetLocalDescription(offer))

	require.NoError(t, callee.SetRemoteDescription(offer))
	answer, err := callee.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)
	require.NoError(t, callee.SetLocalDescription(answer))
	require.NoError(t, caller.SetRemoteDescription(answer))
}

func TestAddTrackRejectsForeignTracks(t *testing.T) {
	pc := newPeer(t)
	require.Error(t, pc.AddTrack(&RemoteTrack{}))
}

func TestSyntheticSourceNeedsMedia(t *testing.T) {
	_, err := SyntheticSource{}.Acquire(context.Background(), client.Constraints{})
	require.Error(t, err)
}

func TestLocalTrackToggleAndStop(t *testing.T) {
	tracks, err := SyntheticSource{}.Acquire(context.Background(), client.Constraints{Audio: true})
	require.NoError(t, err)
	tr := tracks[0]
	assert.Equal(t, client.MediaAudio, tr.Kind())
	assert.True(t, tr.Enabled())
	tr.SetEnabled(false)
	assert.False(t, tr.Enabled())
	tr.Stop()
	tr.Stop()
}

func TestCandidateConversionRoundTrip(t *testing.T) {
	mid, idx, ufrag := "0", uint16(1), "abcd"
	c := domain.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx, UsernameFragment: &ufrag}
	assert.Equal(t, c, fromICE(toICE(c)))

	sd := domain.SessionDescription{Type: "pranswer", SDP: "v=0"}
	assert.Equal(t, sd, fromSDP(toSDP(sd)))
}

func TestRemoteTrackAccounting(t *testing.T) {
	rt := &RemoteTrack{}
	rt.enabled.Store(true)
	rt.consume(&rtp.Packet{Header: rtp.Header{SequenceNumber: 7}, Payload: []byte{1, 2, 3}})
	assert.Equal(t, uint64(1), rt.Packets())
	assert.Equal(t, uint32(7), rt.lastSeq.Load())

	rt.Stop()
	rt.consume(&rtp.Packet{Payload: []byte{1}})
	assert.Equal(t, uint64(1), rt.Packets())
}

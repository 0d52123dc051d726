package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/callring/internal/client"
	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// SyntheticSource produces local tracks without a capture device. Audio carries
// Opus silence; video is negotiated but idle.
type SyntheticSource struct{}

var _ client.MediaSource = SyntheticSource{}

func (SyntheticSource) Acquire(ctx context.Context, c client.Constraints) ([]client.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, errors.New("no media requested")
	}
	stream := "callring-" + uuid.NewString()
	var out []client.Track
	if c.Audio {
		t, err := newLocalTrack(webrtc.MimeTypeOpus, client.MediaAudio, stream)
		if err != nil {
			return nil, err
		}
		go t.pumpSilence()
		out = append(out, t)
	}
	if c.Video {
		t, err := newLocalTrack(webrtc.MimeTypeVP8, client.MediaVideo, stream)
		if err != nil {
			for _, prev := range out {
				prev.Stop()
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// LocalTrack wraps a pion sample track.
type LocalTrack struct {
	track   *webrtc.TrackLocalStaticSample
	kind    client.MediaKind
	enabled atomic.Bool

	once sync.Once
	done chan struct{}
}

func newLocalTrack(mime string, kind client.MediaKind, stream string) (*LocalTrack, error) {
	tr, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, string(kind), stream)
	if err != nil {
		return nil, err
	}
	t := &LocalTrack{track: tr, kind: kind, done: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) ID() string             { return t.track.ID() }
func (t *LocalTrack) Kind() client.MediaKind { return t.kind }
func (t *LocalTrack) Enabled() bool          { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(on bool)     { t.enabled.Store(on) }
func (t *LocalTrack) Stop()                  { t.once.Do(func() { close(t.done) }) }

func (t *LocalTrack) pumpSilence() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if !t.Enabled() {
				continue
			}
			// Writes before the track is bound to a peer are dropped by pion.
			if err := t.track.WriteSample(media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Debug().Err(err).Str("module", "webrtc").Msg("write sample")
			}
		}
	}
}

// RemoteTrack drains a remote track and keeps simple receive stats.
type RemoteTrack struct {
	track   *webrtc.TrackRemote
	enabled atomic.Bool
	stopped atomic.Bool

	packets atomic.Uint64
	bytes   atomic.Uint64
	lastSeq atomic.Uint32
}

func newRemoteTrack(tr *webrtc.TrackRemote) *RemoteTrack {
	t := &RemoteTrack{track: tr}
	t.enabled.Store(true)
	go t.drain()
	return t
}

func (t *RemoteTrack) ID() string { return t.track.ID() }

func (t *RemoteTrack) Kind() client.MediaKind {
	if t.track.Kind() == webrtc.RTPCodecTypeVideo {
		return client.MediaVideo
	}
	return client.MediaAudio
}

func (t *RemoteTrack) Enabled() bool      { return t.enabled.Load() }
func (t *RemoteTrack) SetEnabled(on bool) { t.enabled.Store(on) }

// Stop stops accounting; the read loop ends when the peer connection closes.
func (t *RemoteTrack) Stop() { t.stopped.Store(true) }

func (t *RemoteTrack) Packets() uint64 { return t.packets.Load() }

func (t *RemoteTrack) drain() {
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Str("track_id", t.track.ID()).Msg("remote track done")
			return
		}
		t.consume(pkt)
	}
}

func (t *RemoteTrack) consume(pkt *rtp.Packet) {
	if t.stopped.Load() || !t.enabled.Load() {
		return
	}
	t.packets.Add(1)
	t.bytes.Add(uint64(len(pkt.Payload)))
	t.lastSeq.Store(uint32(pkt.SequenceNumber))
}

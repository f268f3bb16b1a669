package rtc

import (
	"errors"
	"io"
	"sync"

	"github.com/LingByte/LingCall/pkg/devices"
	apperrors "github.com/LingByte/LingCall/pkg/errors"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/session"
	"github.com/gen2brain/malgo"
	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// remoteTrack adapts one subscribed webrtc track to the session layer.
type remoteTrack struct {
	track *webrtc.TrackRemote

	mu     sync.Mutex
	player *trackPlayer

	onAttach func(*trackPlayer)
	onClose  func(*trackPlayer)
}

func newRemoteTrack(track *webrtc.TrackRemote, onAttach, onClose func(*trackPlayer)) *remoteTrack {
	return &remoteTrack{track: track, onAttach: onAttach, onClose: onClose}
}

func (t *remoteTrack) ID() string {
	return t.track.ID()
}

// Attach opens a playback device for the track and starts a decode loop
// feeding it. Attaching twice returns the same player.
func (t *remoteTrack) Attach() (session.Playable, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.player != nil {
		return t.player, nil
	}

	player, err := newTrackPlayer(t.track, func(p *trackPlayer) {
		if t.onClose != nil {
			t.onClose(p)
		}
	})
	if err != nil {
		return nil, err
	}
	t.player = player
	if t.onAttach != nil {
		t.onAttach(player)
	}
	return player, nil
}

// trackPlayer decodes one track's Opus stream into a playback device.
// It implements session.Playable.
type trackPlayer struct {
	trackID string
	sink    *devices.StreamAudioPlayer
	stop    chan struct{}
	once    sync.Once
	onClose func(*trackPlayer)
}

func newTrackPlayer(track *webrtc.TrackRemote, onClose func(*trackPlayer)) (*trackPlayer, error) {
	decoder, err := opus.NewDecoder(opusClockRate, opusChannels)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodeMediaDevice, err)
	}

	sink, err := devices.NewStreamAudioPlayer(opusChannels, opusClockRate, malgo.FormatS16)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodePlaybackBlocked, err)
	}

	p := &trackPlayer{
		trackID: track.ID(),
		sink:    sink,
		stop:    make(chan struct{}),
		onClose: onClose,
	}
	go p.decodeLoop(track, decoder)
	return p, nil
}

// Play starts rendering. A device that refuses to start is reported as
// blocked playback so a later retry can succeed.
func (p *trackPlayer) Play() error {
	if err := p.sink.Play(); err != nil {
		return apperrors.WrapError(apperrors.ErrCodePlaybackBlocked, err)
	}
	return nil
}

func (p *trackPlayer) Pause() error {
	return p.sink.Pause()
}

func (p *trackPlayer) SetMuted(muted bool) {
	p.sink.SetMuted(muted)
}

// Close stops the decode loop and releases the playback device.
// Idempotent.
func (p *trackPlayer) Close() error {
	var err error
	p.once.Do(func() {
		close(p.stop)
		err = p.sink.Close()
		if p.onClose != nil {
			p.onClose(p)
		}
	})
	return err
}

func (p *trackPlayer) decodeLoop(track *webrtc.TrackRemote, decoder *opus.Decoder) {
	pcm := make([]int16, micSamplesPerFrame*4)
	var lastSeq uint16
	var haveSeq bool

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		packet, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("remote track read ended", zap.String("track_id", p.trackID), zap.Error(err))
			}
			return
		}

		if haveSeq && packet.SequenceNumber != lastSeq+1 {
			logger.Debug("rtp sequence gap",
				zap.String("track_id", p.trackID),
				zap.Uint16("expected", lastSeq+1),
				zap.Uint16("got", packet.SequenceNumber))
		}
		lastSeq = packet.SequenceNumber
		haveSeq = true

		p.decodePacket(packet, decoder, pcm)
	}
}

func (p *trackPlayer) decodePacket(packet *rtp.Packet, decoder *opus.Decoder, pcm []int16) {
	if len(packet.Payload) == 0 {
		return
	}

	n, err := decoder.Decode(packet.Payload, pcm)
	if err != nil {
		logger.Warn("opus decode failed", zap.String("track_id", p.trackID), zap.Error(err))
		return
	}

	frame := make([]byte, n*2)
	for i := 0; i < n; i++ {
		frame[2*i] = byte(pcm[i])
		frame[2*i+1] = byte(pcm[i] >> 8)
	}
	if err := p.sink.Write(frame); err != nil && !errors.Is(err, devices.ErrBufferFull) {
		logger.Warn("playback write failed", zap.String("track_id", p.trackID), zap.Error(err))
	}
}

package rtc

import (
	"sync"

	apperrors "github.com/LingByte/LingCall/pkg/errors"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	opusClockRate   = 48000
	opusChannels    = 1
	opusPayloadType = 111
)

var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

// newMediaEngine registers the audio codec set this client negotiates.
// Sessions are voice-only, so only Opus is offered.
func newMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate},
		PayloadType:        opusPayloadType,
	}, webrtc.RTPCodecTypeAudio)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodeTransportConnect, err)
	}
	return m, nil
}

// connection wraps one peer connection and its negotiation state.
type connection struct {
	mu sync.RWMutex
	pc *webrtc.PeerConnection

	// connected is closed once the peer connection reaches Connected.
	connected chan struct{}
	// failed is closed when the connection fails or disconnects.
	failed       chan struct{}
	connectOnce  sync.Once
	failOnce     sync.Once
	onTrack      func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onDisconnect func()
}

func newConnection(onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver), onDisconnect func()) (*connection, error) {
	engine, err := newMediaEngine()
	if err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(engine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: defaultICEServers})
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodeTransportConnect, err)
	}

	c := &connection{
		pc:           pc,
		connected:    make(chan struct{}),
		failed:       make(chan struct{}),
		onTrack:      onTrack,
		onDisconnect: onDisconnect,
	}
	c.registerEventHandlers()
	return c, nil
}

func (c *connection) registerEventHandlers() {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if c.onTrack != nil {
			c.onTrack(track, receiver)
		}
	})

	c.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state changed", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.connectOnce.Do(func() { close(c.connected) })
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			c.failOnce.Do(func() {
				close(c.failed)
				if c.onDisconnect != nil {
					c.onDisconnect()
				}
			})
		}
	})
}

// addLocalAudioTrack creates and publishes the local Opus track.
func (c *connection) addLocalAudioTrack() (*webrtc.TrackLocalStaticSample, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate},
		"audio", "lingcall-mic",
	)
	if err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodeTransportConnect, err)
	}
	if _, err := c.pc.AddTrack(track); err != nil {
		return nil, apperrors.WrapError(apperrors.ErrCodeTransportConnect, err)
	}
	return track, nil
}

// createOffer produces the local offer after ICE gathering completes, so
// the SDP carries every candidate and no trickle channel is needed.
func (c *connection) createOffer() (sdpPayload, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return sdpPayload{}, apperrors.WrapError(apperrors.ErrCodeTransportConnect, err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return sdpPayload{}, apperrors.WrapError(apperrors.ErrCodeTransportConnect, err)
	}
	<-gatherComplete

	local := c.pc.LocalDescription()
	if local == nil {
		return sdpPayload{}, apperrors.NewAppError(apperrors.ErrCodeTransportConnect, "local description is nil after gathering")
	}
	return sdpPayload{SDP: local.SDP}, nil
}

// applyAnswer installs the remote answer and its candidates.
func (c *connection) applyAnswer(payload sdpPayload) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return apperrors.WrapError(apperrors.ErrCodeTransportConnect, err)
	}
	for _, candidate := range payload.Candidates {
		if err := c.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
			logger.Warn("failed to add remote ICE candidate", zap.String("candidate", candidate), zap.Error(err))
		}
	}
	return nil
}

func (c *connection) close() {
	c.mu.Lock()
	pc := c.pc
	c.pc = nil
	c.mu.Unlock()
	if pc != nil {
		if err := pc.Close(); err != nil {
			logger.Warn("peer connection close failed", zap.Error(err))
		}
	}
}

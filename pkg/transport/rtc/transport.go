package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/LingByte/LingCall/pkg/devices"
	apperrors "github.com/LingByte/LingCall/pkg/errors"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/session"
	"github.com/gen2brain/malgo"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Transport is the pion-backed implementation of session.Transport. One
// Transport carries at most one signaling connection and peer connection
// at a time; the session layer serializes Connect and Disconnect.
type Transport struct {
	registry *devices.Registry

	mu      sync.Mutex
	conn    *websocket.Conn
	pc      *connection
	mic     *micPublisher
	remotes map[string]*remoteTrack
	players map[*trackPlayer]struct{}
	session string
	open    bool

	onSub   func(session.RemoteTrack)
	onUnsub func(trackID string)
	onErr   func(error)
}

// NewTransport builds a transport. The registry resolves device IDs for
// input switching.
func NewTransport(registry *devices.Registry) *Transport {
	return &Transport{
		registry: registry,
		remotes:  make(map[string]*remoteTrack),
		players:  make(map[*trackPlayer]struct{}),
	}
}

func (t *Transport) OnTrackSubscribed(fn func(session.RemoteTrack)) { t.onSub = fn }
func (t *Transport) OnTrackUnsubscribed(fn func(trackID string))    { t.onUnsub = fn }
func (t *Transport) OnMediaError(fn func(err error))                { t.onErr = fn }

// Connect dials the signaling server and negotiates the peer connection.
// It blocks until the connection is established, the context expires or
// negotiation fails.
func (t *Transport) Connect(ctx context.Context, url, token string) error {
	t.mu.Lock()
	if t.open {
		t.mu.Unlock()
		return apperrors.NewAppError(apperrors.ErrCodeAlreadyConnected, "transport already connected")
	}
	t.mu.Unlock()

	conn, err := dialSignaling(ctx, url, token)
	if err != nil {
		return err
	}

	init, err := readMessage(ctx, conn)
	if err != nil {
		conn.Close()
		return apperrors.WrapError(apperrors.ErrCodeSignalingFailed, err)
	}
	if init.Type != messageTypeInit {
		conn.Close()
		return apperrors.NewAppErrorf(apperrors.ErrCodeSignalingFailed, "expected init message, got %q", init.Type)
	}
	sessionID := init.SessionID
	logger.Debug("signaling session established", zap.String("session_id", sessionID))

	pc, err := newConnection(t.handleRemoteTrack, t.handleConnectionLost)
	if err != nil {
		conn.Close()
		return err
	}

	localTrack, err := pc.addLocalAudioTrack()
	if err != nil {
		pc.close()
		conn.Close()
		return err
	}
	if _, err := pc.pc.AddTransceiverFromKind(
		webrtc.RTPCodecTypeAudio,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly},
	); err != nil {
		pc.close()
		conn.Close()
		return apperrors.WrapError(apperrors.ErrCodeTransportConnect, err)
	}

	offer, err := pc.createOffer()
	if err != nil {
		pc.close()
		conn.Close()
		return err
	}
	if err := conn.WriteJSON(SignalMessage{Type: messageTypeOffer, SessionID: sessionID, Data: offer}); err != nil {
		pc.close()
		conn.Close()
		return apperrors.WrapError(apperrors.ErrCodeSignalingFailed, err)
	}

	answer, err := awaitAnswer(ctx, conn)
	if err != nil {
		pc.close()
		conn.Close()
		return err
	}
	// Tracks may arrive as soon as the answer is applied, so the transport
	// is marked open before waiting for the connected state.
	t.mu.Lock()
	t.conn = conn
	t.pc = pc
	t.mic = newMicPublisher(localTrack, t.emitMediaError)
	t.session = sessionID
	t.open = true
	t.mu.Unlock()

	if err := pc.applyAnswer(answer); err != nil {
		t.Disconnect()
		return err
	}

	select {
	case <-pc.connected:
	case <-pc.failed:
		t.Disconnect()
		return apperrors.NewAppError(apperrors.ErrCodeTransportConnect, "peer connection failed during negotiation")
	case <-ctx.Done():
		t.Disconnect()
		return ctx.Err()
	}

	if err := conn.WriteJSON(SignalMessage{Type: messageTypeConnected, SessionID: sessionID}); err != nil {
		logger.Warn("failed to confirm connection over signaling", zap.Error(err))
	}

	go t.readLoop(conn)
	logger.Info("transport connected", zap.String("session_id", sessionID))
	return nil
}

// Disconnect tears everything down. Safe to call from any state.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	conn := t.conn
	pc := t.pc
	mic := t.mic
	sessionID := t.session
	remotes := t.remotes
	t.conn = nil
	t.pc = nil
	t.mic = nil
	t.session = ""
	t.open = false
	t.remotes = make(map[string]*remoteTrack)
	t.players = make(map[*trackPlayer]struct{})
	t.mu.Unlock()

	if mic != nil {
		mic.stopPublishing()
	}
	for _, remote := range remotes {
		remote.mu.Lock()
		player := remote.player
		remote.mu.Unlock()
		if player != nil {
			_ = player.Close()
		}
	}
	if conn != nil {
		_ = conn.WriteJSON(SignalMessage{Type: messageTypeBye, SessionID: sessionID})
		conn.Close()
	}
	if pc != nil {
		pc.close()
	}
	logger.Info("transport disconnected", zap.String("session_id", sessionID))
}

// SetMicrophoneEnabled publishes or unpublishes the local microphone.
func (t *Transport) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	t.mu.Lock()
	mic := t.mic
	t.mu.Unlock()
	if mic == nil {
		return apperrors.NewAppError(apperrors.ErrCodeTransportConnect, "transport is not connected")
	}
	return mic.setEnabled(enabled)
}

// SwitchActiveDevice rebinds the local track of the given kind. Only
// audio input devices are switchable in a voice session.
func (t *Transport) SwitchActiveDevice(kind, deviceID string) error {
	if devices.Kind(kind) != devices.AudioInput {
		return apperrors.NewAppErrorf(apperrors.ErrCodeInvalidInput, "unsupported device kind %q", kind)
	}

	desc, ok := t.registry.Find(devices.AudioInput, deviceID)
	if !ok {
		return apperrors.NewAppErrorf(apperrors.ErrCodeNotFound, "audio input device %q not found", deviceID)
	}

	t.mu.Lock()
	mic := t.mic
	t.mu.Unlock()
	if mic == nil {
		return apperrors.NewAppError(apperrors.ErrCodeTransportConnect, "transport is not connected")
	}
	return mic.switchDevice(desc)
}

// StartAudio starts every attached playback device. With no tracks
// attached yet it probes the default output device, so a blocked device
// surfaces before the first track arrives.
func (t *Transport) StartAudio() error {
	t.mu.Lock()
	players := make([]*trackPlayer, 0, len(t.players))
	for p := range t.players {
		players = append(players, p)
	}
	t.mu.Unlock()

	if len(players) == 0 {
		return probePlayback()
	}
	for _, p := range players {
		if err := p.Play(); err != nil {
			return err
		}
	}
	return nil
}

func probePlayback() error {
	probe, err := devices.NewStreamAudioPlayer(opusChannels, opusClockRate, malgo.FormatS16)
	if err != nil {
		return apperrors.WrapError(apperrors.ErrCodePlaybackBlocked, err)
	}
	defer probe.Close()
	if err := probe.Play(); err != nil {
		return apperrors.WrapError(apperrors.ErrCodePlaybackBlocked, err)
	}
	return nil
}

func (t *Transport) handleRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		logger.Debug("ignoring non-audio remote track", zap.String("track_id", track.ID()))
		return
	}

	remote := newRemoteTrack(track, t.registerPlayer, t.unregisterPlayer)
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	t.remotes[remote.ID()] = remote
	onSub := t.onSub
	t.mu.Unlock()

	logger.Info("remote audio track subscribed", zap.String("track_id", remote.ID()))
	if onSub != nil {
		onSub(remote)
	}
}

// handleConnectionLost runs when the peer connection drops underneath
// us. Every known track is reported unsubscribed so the session layer
// can release its handles.
func (t *Transport) handleConnectionLost() {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return
	}
	remotes := t.remotes
	t.remotes = make(map[string]*remoteTrack)
	onUnsub := t.onUnsub
	t.mu.Unlock()

	for id := range remotes {
		if onUnsub != nil {
			onUnsub(id)
		}
	}
	if len(remotes) > 0 {
		logger.Warn("peer connection lost", zap.Int("tracks_dropped", len(remotes)))
	}
}

func (t *Transport) registerPlayer(p *trackPlayer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.players[p] = struct{}{}
}

func (t *Transport) unregisterPlayer(p *trackPlayer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.players, p)
}

func (t *Transport) emitMediaError(err error) {
	t.mu.Lock()
	onErr := t.onErr
	t.mu.Unlock()
	if onErr != nil {
		onErr(err)
	}
}

// readLoop drains signaling messages after the session is live. A bye or
// a read failure means the server ended the session.
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		var msg SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.mu.Lock()
			lost := t.open && t.conn == conn
			t.mu.Unlock()
			if lost {
				logger.Warn("signaling connection lost", zap.Error(err))
				t.handleConnectionLost()
			}
			return
		}
		if msg.Type == messageTypeBye {
			logger.Info("server ended the session", zap.String("session_id", msg.SessionID))
			t.handleConnectionLost()
			return
		}
	}
}

// readMessage reads one signaling frame, honoring the context deadline.
func readMessage(ctx context.Context, conn *websocket.Conn) (SignalMessage, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(time.Time{})
	}
	var msg SignalMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return SignalMessage{}, err
	}
	return msg, nil
}

// awaitAnswer reads frames until the answer arrives.
func awaitAnswer(ctx context.Context, conn *websocket.Conn) (sdpPayload, error) {
	for {
		msg, err := readMessage(ctx, conn)
		if err != nil {
			return sdpPayload{}, apperrors.WrapError(apperrors.ErrCodeSignalingFailed, err)
		}
		switch msg.Type {
		case messageTypeAnswer:
			payload, err := decodeSDPPayload(msg.Data)
			if err != nil {
				return sdpPayload{}, err
			}
			return payload, nil
		case messageTypeBye:
			return sdpPayload{}, apperrors.NewAppError(apperrors.ErrCodeSignalingFailed, "server ended the session before answering")
		default:
			logger.Debug("ignoring signaling message while waiting for answer", zap.String("type", msg.Type))
		}
	}
}

// decodeSDPPayload tolerates both typed and generic JSON payloads.
func decodeSDPPayload(data interface{}) (sdpPayload, error) {
	switch v := data.(type) {
	case map[string]interface{}:
		payload := sdpPayload{}
		sdp, ok := v["sdp"].(string)
		if !ok || sdp == "" {
			return sdpPayload{}, apperrors.NewAppError(apperrors.ErrCodeSignalingFailed, "answer carries no sdp")
		}
		payload.SDP = sdp
		if raw, ok := v["candidates"].([]interface{}); ok {
			for _, entry := range raw {
				switch c := entry.(type) {
				case string:
					payload.Candidates = append(payload.Candidates, c)
				case map[string]interface{}:
					if s, ok := c["candidate"].(string); ok {
						payload.Candidates = append(payload.Candidates, s)
					}
				}
			}
		}
		return payload, nil
	default:
		return sdpPayload{}, apperrors.NewAppError(apperrors.ErrCodeSignalingFailed, "unexpected answer payload shape")
	}
}

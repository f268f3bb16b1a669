package session

import (
	"context"
	"errors"
	"sync"

	apperrors "github.com/LingByte/LingCall/pkg/errors"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
)

// User-visible error titles, kept verbatim from the dashboard.
const (
	connectErrorTitle = "There was an error connecting to the agent"
	mediaErrorTitle   = "Encountered an error with your media devices"
)

// TrackEventType tags a track event.
type TrackEventType string

const (
	TrackSubscribed   TrackEventType = "subscribed"
	TrackUnsubscribed TrackEventType = "unsubscribed"
)

// TrackEvent reports one remote audio track appearing or going away.
// Track is nil for unsubscribe events.
type TrackEvent struct {
	Type    TrackEventType
	TrackID string
	Track   RemoteTrack
}

// Manager owns at most one live transport connection and is the sole
// mutator of its state. Session-level sequencing (credential fetch, retry
// policy, user-facing status) lives in Orchestrator; Manager only exposes
// the media operations and their events.
type Manager struct {
	transport Transport

	// mu guards connection and subscription state; dispatchMu serializes
	// event delivery so subscribers observe transport order, and so the
	// synthetic replay for late subscribers cannot interleave with a real
	// event.
	mu         sync.Mutex
	dispatchMu sync.Mutex

	state      ConnState
	micEnabled bool
	micPending bool
	tracks     []RemoteTrack

	nextSub   int
	trackSubs map[int]func(TrackEvent)
	errSubs   map[int]func(ErrorDetail)
}

// NewManager wires a manager over the given transport. The manager
// registers itself as the transport's only event consumer.
func NewManager(transport Transport) *Manager {
	m := &Manager{
		transport: transport,
		state:     StateUnconnected,
		trackSubs: make(map[int]func(TrackEvent)),
		errSubs:   make(map[int]func(ErrorDetail)),
	}
	transport.OnTrackSubscribed(m.handleTrackSubscribed)
	transport.OnTrackUnsubscribed(m.handleTrackUnsubscribed)
	transport.OnMediaError(m.handleMediaError)
	return m
}

// Connect opens the transport connection and then enables the local
// microphone. A mic failure after a successful connect is reported on the
// error stream but does not roll the connection back: the session stays
// connected listen-only.
func (m *Manager) Connect(ctx context.Context, cred Credential) error {
	m.mu.Lock()
	if m.state != StateUnconnected {
		state := m.state
		m.mu.Unlock()
		return apperrors.NewAppErrorf(apperrors.ErrCodeAlreadyConnected, "connect called while %s", state)
	}
	m.state = StateConnecting
	m.mu.Unlock()

	if err := m.transport.Connect(ctx, cred.TransportURL, cred.ParticipantToken); err != nil {
		m.mu.Lock()
		m.state = StateUnconnected
		m.mu.Unlock()

		wrapped := wrapConnectErr(ctx, err)
		m.emitError(ErrorDetail{Title: connectErrorTitle, Description: wrapped.Error()})
		logger.Error("transport connect failed", zap.String("room", cred.RoomName), zap.Error(err))
		return wrapped
	}

	m.mu.Lock()
	m.state = StateConnected
	m.micPending = true
	m.mu.Unlock()
	logger.Info("transport connected", zap.String("room", cred.RoomName), zap.String("participant", cred.ParticipantName))

	if err := m.transport.SetMicrophoneEnabled(ctx, true); err != nil {
		m.mu.Lock()
		m.micPending = false
		m.micEnabled = false
		m.mu.Unlock()

		m.emitError(ErrorDetail{
			Title:       mediaErrorTitle,
			Description: apperrors.WrapError(apperrors.ErrCodeMediaDevice, err).Error(),
		})
		logger.Warn("microphone enable failed, session continues listen-only", zap.Error(err))
		return nil
	}

	m.mu.Lock()
	m.micPending = false
	m.micEnabled = true
	m.mu.Unlock()
	return nil
}

// Disconnect tears down the connection and clears local media state.
// Idempotent; calling it while unconnected is a no-op. Every still-active
// track gets an unsubscribe event so attach/detach stays symmetric.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateUnconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateUnconnected
	m.micEnabled = false
	m.micPending = false
	tracks := m.tracks
	m.tracks = nil
	m.mu.Unlock()

	m.transport.Disconnect()

	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	for _, track := range tracks {
		ev := TrackEvent{Type: TrackUnsubscribed, TrackID: track.ID()}
		for _, fn := range m.snapshotTrackSubs() {
			fn(ev)
		}
	}
	logger.Info("transport disconnected", zap.Int("tracks_released", len(tracks)))
}

// ToggleMicrophone flips local publish state. A toggle issued while a
// previous one is still in flight is rejected rather than racing it.
func (m *Manager) ToggleMicrophone(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return nil
	}
	if m.micPending {
		m.mu.Unlock()
		return apperrors.NewAppError(apperrors.ErrCodeTogglePending, "microphone toggle already in flight")
	}
	m.micPending = true
	target := !m.micEnabled
	m.mu.Unlock()

	err := m.transport.SetMicrophoneEnabled(ctx, target)

	m.mu.Lock()
	m.micPending = false
	if err == nil {
		m.micEnabled = target
	}
	m.mu.Unlock()

	if err != nil {
		wrapped := apperrors.WrapError(apperrors.ErrCodeMediaDevice, err)
		m.emitError(ErrorDetail{Title: mediaErrorTitle, Description: wrapped.Error()})
		return wrapped
	}
	return nil
}

// SwitchAudioInput rebinds the local audio track to the given device.
// Only meaningful while connected; a no-op otherwise.
func (m *Manager) SwitchAudioInput(deviceID string) error {
	m.mu.Lock()
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected {
		return nil
	}

	if err := m.transport.SwitchActiveDevice("audioinput", deviceID); err != nil {
		wrapped := apperrors.WrapError(apperrors.ErrCodeMediaDevice, err)
		m.emitError(ErrorDetail{Title: mediaErrorTitle, Description: wrapped.Error()})
		return wrapped
	}
	return nil
}

// StartAudio attempts to unblock remote audio playback. Blocked playback
// is expected and recoverable, so it is never reported as a failure; the
// return value says whether playback is now running.
func (m *Manager) StartAudio() bool {
	err := m.transport.StartAudio()
	if err == nil {
		return true
	}
	if apperrors.HasCode(err, apperrors.ErrCodePlaybackBlocked) {
		logger.Debug("remote audio playback blocked, waiting for user action", zap.Error(err))
	} else {
		logger.Warn("start audio failed", zap.Error(err))
	}
	return false
}

// OnTrackEvent registers a track event handler and returns its
// unsubscribe function. Tracks already active at registration time are
// replayed as synthetic subscribe events, in their original order, before
// any newer event is delivered.
func (m *Manager) OnTrackEvent(fn func(TrackEvent)) func() {
	m.dispatchMu.Lock()

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.trackSubs[id] = fn
	active := make([]RemoteTrack, len(m.tracks))
	copy(active, m.tracks)
	m.mu.Unlock()

	for _, track := range active {
		fn(TrackEvent{Type: TrackSubscribed, TrackID: track.ID(), Track: track})
	}
	m.dispatchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.trackSubs, id)
			m.mu.Unlock()
		})
	}
}

// OnError registers an error stream handler and returns its unsubscribe
// function.
func (m *Manager) OnError(fn func(ErrorDetail)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.errSubs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.errSubs, id)
			m.mu.Unlock()
		})
	}
}

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// MicrophoneEnabled reports whether the local microphone is published.
func (m *Manager) MicrophoneEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micEnabled
}

// MicrophonePending reports whether a publish change is in flight.
func (m *Manager) MicrophonePending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micPending
}

// ActiveTracks returns the number of currently subscribed remote tracks.
func (m *Manager) ActiveTracks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracks)
}

func (m *Manager) handleTrackSubscribed(track RemoteTrack) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	if m.state == StateUnconnected {
		// Late event from a connection already torn down.
		m.mu.Unlock()
		return
	}
	m.tracks = append(m.tracks, track)
	m.mu.Unlock()

	logger.Debug("remote audio track subscribed", zap.String("track_id", track.ID()))
	ev := TrackEvent{Type: TrackSubscribed, TrackID: track.ID(), Track: track}
	for _, fn := range m.snapshotTrackSubs() {
		fn(ev)
	}
}

func (m *Manager) handleTrackUnsubscribed(trackID string) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()

	m.mu.Lock()
	found := false
	for i, track := range m.tracks {
		if track.ID() == trackID {
			m.tracks = append(m.tracks[:i], m.tracks[i+1:]...)
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return
	}

	logger.Debug("remote audio track unsubscribed", zap.String("track_id", trackID))
	ev := TrackEvent{Type: TrackUnsubscribed, TrackID: trackID}
	for _, fn := range m.snapshotTrackSubs() {
		fn(ev)
	}
}

func (m *Manager) handleMediaError(err error) {
	logger.Warn("media device error", zap.Error(err))
	m.emitError(ErrorDetail{
		Title:       mediaErrorTitle,
		Description: apperrors.WrapError(apperrors.ErrCodeMediaDevice, err).Error(),
	})
}

func (m *Manager) emitError(detail ErrorDetail) {
	m.mu.Lock()
	subs := make([]func(ErrorDetail), 0, len(m.errSubs))
	for _, fn := range m.errSubs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(detail)
	}
}

func (m *Manager) snapshotTrackSubs() []func(TrackEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := make([]func(TrackEvent), 0, len(m.trackSubs))
	for _, fn := range m.trackSubs {
		subs = append(subs, fn)
	}
	return subs
}

func wrapConnectErr(ctx context.Context, err error) *apperrors.AppError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.WrapError(apperrors.ErrCodeConnectionTimeout, err)
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}
	return apperrors.WrapError(apperrors.ErrCodeTransportConnect, err)
}

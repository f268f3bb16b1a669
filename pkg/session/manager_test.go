package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "github.com/LingByte/LingCall/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayable struct {
	mu     sync.Mutex
	played bool
	paused bool
	muted  bool
	closed bool
}

func (p *fakePlayable) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = true
	p.paused = false
	return nil
}

func (p *fakePlayable) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

func (p *fakePlayable) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

func (p *fakePlayable) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeRemoteTrack struct {
	id        string
	playable  *fakePlayable
	attachErr error
}

func (t *fakeRemoteTrack) ID() string { return t.id }

func (t *fakeRemoteTrack) Attach() (Playable, error) {
	if t.attachErr != nil {
		return nil, t.attachErr
	}
	if t.playable == nil {
		t.playable = &fakePlayable{}
	}
	return t.playable, nil
}

type fakeTransport struct {
	mu sync.Mutex

	connectErr    error
	connectHold   chan struct{}
	micErr        error
	micHook       func()
	switchErr     error
	startAudioErr error

	connectCalls    int
	disconnectCalls int
	micCalls        []bool
	switchCalls     []string

	onSub   func(RemoteTrack)
	onUnsub func(trackID string)
	onErr   func(error)
}

func (f *fakeTransport) Connect(ctx context.Context, url, token string) error {
	f.mu.Lock()
	f.connectCalls++
	hold := f.connectHold
	err := f.connectErr
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
}

func (f *fakeTransport) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	f.mu.Lock()
	f.micCalls = append(f.micCalls, enabled)
	hook := f.micHook
	err := f.micErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeTransport) SwitchActiveDevice(kind, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switchCalls = append(f.switchCalls, kind+":"+deviceID)
	return f.switchErr
}

func (f *fakeTransport) StartAudio() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startAudioErr
}

func (f *fakeTransport) OnTrackSubscribed(fn func(RemoteTrack)) { f.onSub = fn }
func (f *fakeTransport) OnTrackUnsubscribed(fn func(string))    { f.onUnsub = fn }
func (f *fakeTransport) OnMediaError(fn func(error))            { f.onErr = fn }

func (f *fakeTransport) disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnectCalls
}

func testCredential() Credential {
	return Credential{
		TransportURL:     "ws://localhost:7880/rtc",
		RoomName:         "voice_assistant_room_42",
		ParticipantName:  "user",
		ParticipantToken: "tok",
	}
}

func TestManagerConnect(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)

	require.NoError(t, m.Connect(context.Background(), testCredential()))
	assert.Equal(t, StateConnected, m.State())
	assert.True(t, m.MicrophoneEnabled())
	assert.False(t, m.MicrophonePending())
	assert.Equal(t, []bool{true}, ft.micCalls)
}

func TestManagerConnectAlreadyConnected(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)
	require.NoError(t, m.Connect(context.Background(), testCredential()))

	err := m.Connect(context.Background(), testCredential())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyConnected))
	assert.Equal(t, 1, ft.connectCalls)
}

func TestManagerConnectTransportFailure(t *testing.T) {
	ft := &fakeTransport{connectErr: errors.New("dial refused")}
	m := NewManager(ft)

	var emitted []ErrorDetail
	m.OnError(func(d ErrorDetail) { emitted = append(emitted, d) })

	err := m.Connect(context.Background(), testCredential())
	require.Error(t, err)
	assert.Equal(t, StateUnconnected, m.State())
	require.Len(t, emitted, 1)
	assert.Equal(t, connectErrorTitle, emitted[0].Title)
}

func TestManagerConnectMicDenialNonFatal(t *testing.T) {
	ft := &fakeTransport{micErr: errors.New("no capture device")}
	m := NewManager(ft)

	var emitted []ErrorDetail
	m.OnError(func(d ErrorDetail) { emitted = append(emitted, d) })

	require.NoError(t, m.Connect(context.Background(), testCredential()))
	assert.Equal(t, StateConnected, m.State())
	assert.False(t, m.MicrophoneEnabled())
	assert.False(t, m.MicrophonePending())
	require.Len(t, emitted, 1)
	assert.Equal(t, mediaErrorTitle, emitted[0].Title)
}

func TestManagerDisconnectIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)

	m.Disconnect()
	assert.Zero(t, ft.disconnects(), "disconnect while unconnected must not reach the transport")

	require.NoError(t, m.Connect(context.Background(), testCredential()))
	m.Disconnect()
	m.Disconnect()
	assert.Equal(t, 1, ft.disconnects())
	assert.Equal(t, StateUnconnected, m.State())
	assert.False(t, m.MicrophoneEnabled())
}

func TestManagerDisconnectReleasesTracks(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)
	require.NoError(t, m.Connect(context.Background(), testCredential()))

	var events []TrackEvent
	m.OnTrackEvent(func(ev TrackEvent) { events = append(events, ev) })

	ft.onSub(&fakeRemoteTrack{id: "t1"})
	ft.onSub(&fakeRemoteTrack{id: "t2"})
	assert.Equal(t, 2, m.ActiveTracks())

	m.Disconnect()
	assert.Zero(t, m.ActiveTracks())

	require.Len(t, events, 4)
	assert.Equal(t, TrackUnsubscribed, events[2].Type)
	assert.Equal(t, "t1", events[2].TrackID)
	assert.Equal(t, TrackUnsubscribed, events[3].Type)
	assert.Equal(t, "t2", events[3].TrackID)
}

func TestManagerToggleMicrophone(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)
	require.NoError(t, m.Connect(context.Background(), testCredential()))
	require.True(t, m.MicrophoneEnabled())

	require.NoError(t, m.ToggleMicrophone(context.Background()))
	assert.False(t, m.MicrophoneEnabled())
	require.NoError(t, m.ToggleMicrophone(context.Background()))
	assert.True(t, m.MicrophoneEnabled())
	assert.Equal(t, []bool{true, false, true}, ft.micCalls)
}

func TestManagerToggleMicrophoneWhileUnconnected(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)

	require.NoError(t, m.ToggleMicrophone(context.Background()))
	assert.Empty(t, ft.micCalls)
}

func TestManagerToggleMicrophoneWhilePending(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)
	require.NoError(t, m.Connect(context.Background(), testCredential()))

	var reentrant error
	ft.micHook = func() {
		reentrant = m.ToggleMicrophone(context.Background())
	}
	require.NoError(t, m.ToggleMicrophone(context.Background()))

	require.Error(t, reentrant)
	assert.True(t, apperrors.HasCode(reentrant, apperrors.ErrCodeTogglePending))
}

func TestManagerToggleMicrophoneFailureKeepsState(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)
	require.NoError(t, m.Connect(context.Background(), testCredential()))

	ft.mu.Lock()
	ft.micErr = errors.New("device lost")
	ft.mu.Unlock()

	err := m.ToggleMicrophone(context.Background())
	require.Error(t, err)
	assert.True(t, m.MicrophoneEnabled(), "failed toggle must not flip the state")
	assert.False(t, m.MicrophonePending())
}

func TestManagerSwitchAudioInput(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)

	require.NoError(t, m.SwitchAudioInput("dev-1"))
	assert.Empty(t, ft.switchCalls, "switch while unconnected must not reach the transport")

	require.NoError(t, m.Connect(context.Background(), testCredential()))
	require.NoError(t, m.SwitchAudioInput("dev-1"))
	assert.Equal(t, []string{"audioinput:dev-1"}, ft.switchCalls)
}

func TestManagerStartAudio(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)
	assert.True(t, m.StartAudio())

	ft.mu.Lock()
	ft.startAudioErr = apperrors.NewAppError(apperrors.ErrCodePlaybackBlocked, "playback device not started")
	ft.mu.Unlock()
	assert.False(t, m.StartAudio())

	ft.mu.Lock()
	ft.startAudioErr = errors.New("device gone")
	ft.mu.Unlock()
	assert.False(t, m.StartAudio())
}

func TestManagerTrackEventsIgnoreUnknownUnsubscribe(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)
	require.NoError(t, m.Connect(context.Background(), testCredential()))

	var events []TrackEvent
	m.OnTrackEvent(func(ev TrackEvent) { events = append(events, ev) })

	ft.onUnsub("never-seen")
	assert.Empty(t, events)
}

func TestManagerTrackEventsIgnoredWhileUnconnected(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)

	var events []TrackEvent
	m.OnTrackEvent(func(ev TrackEvent) { events = append(events, ev) })

	ft.onSub(&fakeRemoteTrack{id: "late"})
	assert.Empty(t, events)
	assert.Zero(t, m.ActiveTracks())
}

func TestManagerLateSubscriberReplay(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)
	require.NoError(t, m.Connect(context.Background(), testCredential()))

	ft.onSub(&fakeRemoteTrack{id: "t1"})
	ft.onSub(&fakeRemoteTrack{id: "t2"})

	var events []TrackEvent
	unsub := m.OnTrackEvent(func(ev TrackEvent) { events = append(events, ev) })

	require.Len(t, events, 2)
	assert.Equal(t, TrackSubscribed, events[0].Type)
	assert.Equal(t, "t1", events[0].TrackID)
	assert.Equal(t, "t2", events[1].TrackID)

	unsub()
	unsub()
	ft.onSub(&fakeRemoteTrack{id: "t3"})
	assert.Len(t, events, 2, "no events after unsubscribe")
}

func TestManagerMediaErrorStream(t *testing.T) {
	ft := &fakeTransport{}
	m := NewManager(ft)

	var emitted []ErrorDetail
	m.OnError(func(d ErrorDetail) { emitted = append(emitted, d) })

	ft.onErr(errors.New("capture device unplugged"))
	require.Len(t, emitted, 1)
	assert.Equal(t, mediaErrorTitle, emitted[0].Title)
	assert.Contains(t, emitted[0].Description, "capture device unplugged")
}

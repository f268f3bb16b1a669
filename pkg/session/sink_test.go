package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTrackEvents replays active tracks to new subscribers the way
// Manager does.
type fakeTrackEvents struct {
	mu     sync.Mutex
	active []RemoteTrack
	subs   map[int]func(TrackEvent)
	next   int
}

func newFakeTrackEvents() *fakeTrackEvents {
	return &fakeTrackEvents{subs: make(map[int]func(TrackEvent))}
}

func (f *fakeTrackEvents) OnTrackEvent(fn func(TrackEvent)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	active := make([]RemoteTrack, len(f.active))
	copy(active, f.active)
	f.mu.Unlock()

	for _, track := range active {
		fn(TrackEvent{Type: TrackSubscribed, TrackID: track.ID(), Track: track})
	}
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeTrackEvents) subscribe(track RemoteTrack) {
	f.mu.Lock()
	f.active = append(f.active, track)
	subs := f.snapshot()
	f.mu.Unlock()
	for _, fn := range subs {
		fn(TrackEvent{Type: TrackSubscribed, TrackID: track.ID(), Track: track})
	}
}

func (f *fakeTrackEvents) unsubscribe(trackID string) {
	f.mu.Lock()
	for i, track := range f.active {
		if track.ID() == trackID {
			f.active = append(f.active[:i], f.active[i+1:]...)
			break
		}
	}
	subs := f.snapshot()
	f.mu.Unlock()
	for _, fn := range subs {
		fn(TrackEvent{Type: TrackUnsubscribed, TrackID: trackID})
	}
}

func (f *fakeTrackEvents) snapshot() []func(TrackEvent) {
	subs := make([]func(TrackEvent), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	return subs
}

func TestSinkAttachesOnSubscribe(t *testing.T) {
	events := newFakeTrackEvents()
	sink := NewRemoteAudioSink(events)

	var attached []string
	unmount := sink.Mount(func(trackID string, p Playable) {
		attached = append(attached, trackID)
	}, nil)
	defer unmount()

	track := &fakeRemoteTrack{id: "t1"}
	events.subscribe(track)

	assert.Equal(t, []string{"t1"}, attached)
	assert.Equal(t, 1, sink.ActiveHandles())
	require.NotNil(t, track.playable)
	assert.True(t, track.playable.played)
	assert.False(t, track.playable.muted)
}

func TestSinkDetachesOnUnsubscribe(t *testing.T) {
	events := newFakeTrackEvents()
	sink := NewRemoteAudioSink(events)

	var detached []string
	unmount := sink.Mount(nil, func(trackID string, p Playable) {
		detached = append(detached, trackID)
	})
	defer unmount()

	track := &fakeRemoteTrack{id: "t1"}
	events.subscribe(track)
	events.unsubscribe("t1")

	assert.Equal(t, []string{"t1"}, detached)
	assert.Zero(t, sink.ActiveHandles())
	assert.True(t, track.playable.closed)
}

func TestSinkLateMountReplaysActiveTracks(t *testing.T) {
	events := newFakeTrackEvents()
	t1 := &fakeRemoteTrack{id: "t1"}
	t2 := &fakeRemoteTrack{id: "t2"}
	events.subscribe(t1)
	events.subscribe(t2)

	sink := NewRemoteAudioSink(events)
	var attached []string
	unmount := sink.Mount(func(trackID string, p Playable) {
		attached = append(attached, trackID)
	}, nil)
	defer unmount()

	assert.Equal(t, []string{"t1", "t2"}, attached)
	assert.Equal(t, 2, sink.ActiveHandles())
}

func TestSinkUnmountReleasesAllHandles(t *testing.T) {
	events := newFakeTrackEvents()
	sink := NewRemoteAudioSink(events)
	unmount := sink.Mount(nil, nil)

	t1 := &fakeRemoteTrack{id: "t1"}
	t2 := &fakeRemoteTrack{id: "t2"}
	events.subscribe(t1)
	events.subscribe(t2)
	require.Equal(t, 2, sink.ActiveHandles())

	unmount()
	unmount()

	assert.Zero(t, sink.ActiveHandles())
	assert.True(t, t1.playable.closed)
	assert.True(t, t2.playable.closed)

	t3 := &fakeRemoteTrack{id: "t3"}
	events.subscribe(t3)
	assert.Zero(t, sink.ActiveHandles(), "an unmounted sink must ignore new tracks")
}

func TestSinkAttachFailureIsTolerated(t *testing.T) {
	events := newFakeTrackEvents()
	sink := NewRemoteAudioSink(events)

	var attached []string
	unmount := sink.Mount(func(trackID string, p Playable) {
		attached = append(attached, trackID)
	}, nil)
	defer unmount()

	events.subscribe(&fakeRemoteTrack{id: "bad", attachErr: errors.New("no playback device")})
	events.subscribe(&fakeRemoteTrack{id: "good"})

	assert.Equal(t, []string{"good"}, attached)
	assert.Equal(t, 1, sink.ActiveHandles())
}

func TestSinkRemountAfterUnmount(t *testing.T) {
	events := newFakeTrackEvents()
	sink := NewRemoteAudioSink(events)

	unmount := sink.Mount(nil, nil)
	events.subscribe(&fakeRemoteTrack{id: "t1"})
	unmount()
	require.Zero(t, sink.ActiveHandles())

	unmount = sink.Mount(nil, nil)
	defer unmount()
	assert.Equal(t, 1, sink.ActiveHandles(), "remount replays tracks still active upstream")
}

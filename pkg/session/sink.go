package session

import (
	"sync"

	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/metrics"
	"go.uber.org/zap"
)

// TrackEvents is the event surface the sink consumes; Manager satisfies
// it.
type TrackEvents interface {
	OnTrackEvent(fn func(TrackEvent)) func()
}

// RemoteAudioSink renders every subscribed remote audio track for as
// long as it is mounted. Each subscribe attaches a Playable, unmutes it
// and starts playback; each unsubscribe closes the matching Playable.
// Mounting after tracks already exist still attaches them, because the
// event source replays active tracks to late subscribers.
type RemoteAudioSink struct {
	events TrackEvents

	mu      sync.Mutex
	handles map[string]Playable
	unsub   func()
	mounted bool
}

// NewRemoteAudioSink builds a sink over the given event source. The sink
// is inert until Mount is called.
func NewRemoteAudioSink(events TrackEvents) *RemoteAudioSink {
	return &RemoteAudioSink{
		events:  events,
		handles: make(map[string]Playable),
	}
}

// Mount starts rendering. The optional callbacks observe attach and
// detach; either may be nil. The returned unmount function detaches
// every held Playable and is idempotent.
func (s *RemoteAudioSink) Mount(onAttach, onDetach func(trackID string, p Playable)) func() {
	s.mu.Lock()
	if s.mounted {
		unsub := s.unsub
		s.mu.Unlock()
		return unsub
	}
	s.mounted = true
	s.mu.Unlock()

	unsubEvents := s.events.OnTrackEvent(func(ev TrackEvent) {
		switch ev.Type {
		case TrackSubscribed:
			s.attach(ev.TrackID, ev.Track, onAttach)
		case TrackUnsubscribed:
			s.detach(ev.TrackID, onDetach)
		}
	})

	var once sync.Once
	unmount := func() {
		once.Do(func() {
			unsubEvents()
			s.detachAll(onDetach)
			s.mu.Lock()
			s.mounted = false
			s.unsub = nil
			s.mu.Unlock()
		})
	}

	s.mu.Lock()
	s.unsub = unmount
	s.mu.Unlock()
	return unmount
}

// ActiveHandles returns the number of tracks currently rendered.
func (s *RemoteAudioSink) ActiveHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *RemoteAudioSink) attach(trackID string, track RemoteTrack, onAttach func(string, Playable)) {
	if track == nil {
		return
	}

	p, err := track.Attach()
	if err != nil {
		logger.Warn("remote track attach failed", zap.String("track_id", trackID), zap.Error(err))
		return
	}
	p.SetMuted(false)
	if err := p.Play(); err != nil {
		// Playback may be blocked until the user acts; keep the handle so
		// a later StartAudio resumes it.
		logger.Debug("remote track play deferred", zap.String("track_id", trackID), zap.Error(err))
	}

	s.mu.Lock()
	prev, existed := s.handles[trackID]
	s.handles[trackID] = p
	s.mu.Unlock()
	if existed {
		_ = prev.Close()
	}

	metrics.TrackAttaches.Inc()
	logger.Debug("remote track attached", zap.String("track_id", trackID))
	if onAttach != nil {
		onAttach(trackID, p)
	}
}

func (s *RemoteAudioSink) detach(trackID string, onDetach func(string, Playable)) {
	s.mu.Lock()
	p, ok := s.handles[trackID]
	if ok {
		delete(s.handles, trackID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if onDetach != nil {
		onDetach(trackID, p)
	}
	if err := p.Close(); err != nil {
		logger.Warn("remote track close failed", zap.String("track_id", trackID), zap.Error(err))
	}
	metrics.TrackDetaches.Inc()
	logger.Debug("remote track detached", zap.String("track_id", trackID))
}

func (s *RemoteAudioSink) detachAll(onDetach func(string, Playable)) {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[string]Playable)
	s.mu.Unlock()

	for trackID, p := range handles {
		if onDetach != nil {
			onDetach(trackID, p)
		}
		if err := p.Close(); err != nil {
			logger.Warn("remote track close failed", zap.String("track_id", trackID), zap.Error(err))
		}
		metrics.TrackDetaches.Inc()
	}
	if len(handles) > 0 {
		logger.Debug("remote audio sink unmounted", zap.Int("tracks_released", len(handles)))
	}
}

package session

import "context"

// Playable is the rendering resource for one remote audio track. The
// track owner keeps the underlying stream; a Playable only controls local
// rendering and must be closed by whoever obtained it.
type Playable interface {
	Play() error
	Pause() error
	SetMuted(muted bool)
	Close() error
}

// RemoteTrack is one remote participant's audio stream as reported by the
// transport. Attach yields a Playable bound to the track's lifetime.
type RemoteTrack interface {
	ID() string
	Attach() (Playable, error)
}

// Transport is the external real-time media library this package drives.
// Implementations own the network connection and audio pub/sub; callers
// never mutate transport internals directly.
type Transport interface {
	// Connect opens the media connection. Blocking; honors ctx cancellation
	// and deadline.
	Connect(ctx context.Context, url, token string) error

	// Disconnect tears down the connection and local media state. Safe to
	// call from any state, including before Connect.
	Disconnect()

	// SetMicrophoneEnabled publishes or unpublishes the local microphone.
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error

	// SwitchActiveDevice rebinds the local track of the given kind to
	// another device.
	SwitchActiveDevice(kind, deviceID string) error

	// StartAudio unblocks playback of already-subscribed remote audio.
	// A PLAYBACK_BLOCKED error means a retry after user action may
	// succeed; it is expected and recoverable.
	StartAudio() error

	// OnTrackSubscribed registers the handler for new remote audio tracks.
	OnTrackSubscribed(fn func(RemoteTrack))

	// OnTrackUnsubscribed registers the handler for tracks going away.
	OnTrackUnsubscribed(fn func(trackID string))

	// OnMediaError registers the handler for asynchronous device errors.
	OnMediaError(fn func(err error))
}

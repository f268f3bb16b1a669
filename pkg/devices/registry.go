package devices

import (
	"sync"
	"time"

	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
)

const defaultPollInterval = 2 * time.Second

// Registry enumerates devices and notifies subscribers on hot-plug
// changes. Enumeration is independent of any session state; List always
// reflects the moment it is called.
type Registry struct {
	enum         Enumerator
	pollInterval time.Duration

	mu       sync.Mutex
	nextSub  int
	watchers map[int]watcher
	lastSeen map[Kind][]Descriptor
	stopPoll chan struct{}
	polling  bool
	closed   bool
}

type watcher struct {
	kind Kind
	fn   func([]Descriptor)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPollInterval overrides the hot-plug polling interval.
func WithPollInterval(d time.Duration) RegistryOption {
	return func(r *Registry) { r.pollInterval = d }
}

// NewRegistry builds a registry over the given enumerator.
func NewRegistry(enum Enumerator, opts ...RegistryOption) *Registry {
	r := &Registry{
		enum:         enum,
		pollInterval: defaultPollInterval,
		watchers:     make(map[int]watcher),
		lastSeen:     make(map[Kind][]Descriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewSystemRegistry builds a registry over the platform audio backend.
func NewSystemRegistry(opts ...RegistryOption) (*Registry, error) {
	enum, err := NewContextEnumerator()
	if err != nil {
		return nil, err
	}
	return NewRegistry(enum, opts...), nil
}

// List returns a fresh snapshot of the devices of the given kind. A kind
// with no devices yields an empty slice.
func (r *Registry) List(kind Kind) []Descriptor {
	descriptors, err := r.enum.Devices(kind)
	if err != nil {
		logger.Warn("device enumeration failed", zap.String("kind", string(kind)), zap.Error(err))
		return []Descriptor{}
	}
	if descriptors == nil {
		descriptors = []Descriptor{}
	}
	return descriptors
}

// Find resolves a device of the given kind by its DeviceID.
func (r *Registry) Find(kind Kind, deviceID string) (Descriptor, bool) {
	for _, d := range r.List(kind) {
		if d.DeviceID == deviceID {
			return d, true
		}
	}
	return Descriptor{}, false
}

// OnChange registers a callback invoked with the recomputed device list of
// the given kind whenever it changes. The returned unsubscribe function
// detaches the callback exactly once; further calls are no-ops.
func (r *Registry) OnChange(kind Kind, fn func([]Descriptor)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.watchers[id] = watcher{kind: kind, fn: fn}
	if _, ok := r.lastSeen[kind]; !ok {
		r.lastSeen[kind] = nil
	}
	r.ensurePollingLocked()
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers, id)
			r.mu.Unlock()
		})
	}
}

// Poll forces one change-detection pass. The background watcher calls this
// on its interval; tests call it directly.
func (r *Registry) Poll() {
	r.mu.Lock()
	kinds := make([]Kind, 0, len(r.lastSeen))
	for kind := range r.lastSeen {
		kinds = append(kinds, kind)
	}
	r.mu.Unlock()

	for _, kind := range kinds {
		current := r.List(kind)

		r.mu.Lock()
		previous := r.lastSeen[kind]
		r.lastSeen[kind] = current
		var notify []func([]Descriptor)
		// A nil previous snapshot means this pass only seeds the baseline.
		if previous != nil && !sameDevices(previous, current) {
			for _, w := range r.watchers {
				if w.kind == kind {
					notify = append(notify, w.fn)
				}
			}
		}
		r.mu.Unlock()

		for _, fn := range notify {
			fn(current)
		}
	}
}

// Close stops the hot-plug watcher and, when the enumerator owns backend
// resources, releases them.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.polling {
		close(r.stopPoll)
		r.polling = false
	}
	r.mu.Unlock()

	if closer, ok := r.enum.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (r *Registry) ensurePollingLocked() {
	if r.polling || r.closed {
		return
	}
	r.polling = true
	r.stopPoll = make(chan struct{})
	go r.pollLoop(r.stopPoll)
}

func (r *Registry) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Poll()
		}
	}
}

func sameDevices(a, b []Descriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].DeviceID != b[i].DeviceID || a[i].Label != b[i].Label {
			return false
		}
	}
	return true
}

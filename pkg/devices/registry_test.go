package devices

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnumerator struct {
	devices map[Kind][]Descriptor
	err     error
}

func (f *fakeEnumerator) Devices(kind Kind) ([]Descriptor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.devices[kind], nil
}

func TestRegistry_List(t *testing.T) {
	enum := &fakeEnumerator{devices: map[Kind][]Descriptor{
		AudioInput: {
			{DeviceID: "mic-1", Kind: AudioInput, Label: "Built-in Microphone", IsDefault: true},
			{DeviceID: "mic-2", Kind: AudioInput, Label: "USB Microphone"},
		},
	}}
	r := NewRegistry(enum)
	defer r.Close()

	list := r.List(AudioInput)
	require.Len(t, list, 2)
	assert.Equal(t, "mic-1", list[0].DeviceID)
	assert.True(t, list[0].IsDefault)
}

func TestRegistry_ListEmptyKind(t *testing.T) {
	r := NewRegistry(&fakeEnumerator{devices: map[Kind][]Descriptor{}})
	defer r.Close()

	list := r.List(VideoInput)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestRegistry_ListEnumerationError(t *testing.T) {
	r := NewRegistry(&fakeEnumerator{err: errors.New("backend gone")})
	defer r.Close()

	list := r.List(AudioInput)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestRegistry_Find(t *testing.T) {
	enum := &fakeEnumerator{devices: map[Kind][]Descriptor{
		AudioInput: {{DeviceID: "mic-1", Kind: AudioInput, Label: "Mic"}},
	}}
	r := NewRegistry(enum)
	defer r.Close()

	d, ok := r.Find(AudioInput, "mic-1")
	require.True(t, ok)
	assert.Equal(t, "Mic", d.Label)

	_, ok = r.Find(AudioInput, "mic-404")
	assert.False(t, ok)
}

func TestRegistry_OnChangeNotifiesOnHotPlug(t *testing.T) {
	enum := &fakeEnumerator{devices: map[Kind][]Descriptor{
		AudioInput: {{DeviceID: "mic-1", Kind: AudioInput, Label: "Mic"}},
	}}
	r := NewRegistry(enum)
	defer r.Close()

	var calls [][]Descriptor
	unsubscribe := r.OnChange(AudioInput, func(list []Descriptor) {
		calls = append(calls, list)
	})

	// First pass seeds the baseline, no notification.
	r.Poll()
	assert.Empty(t, calls)

	// Same snapshot, still no notification.
	r.Poll()
	assert.Empty(t, calls)

	// Hot-plug a second microphone.
	enum.devices[AudioInput] = append(enum.devices[AudioInput],
		Descriptor{DeviceID: "mic-2", Kind: AudioInput, Label: "USB Mic"})
	r.Poll()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0], 2)

	// Unplug it again.
	enum.devices[AudioInput] = enum.devices[AudioInput][:1]
	r.Poll()
	require.Len(t, calls, 2)
	assert.Len(t, calls[1], 1)

	// After unsubscribing nothing more arrives.
	unsubscribe()
	enum.devices[AudioInput] = nil
	r.Poll()
	assert.Len(t, calls, 2)
}

func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	enum := &fakeEnumerator{devices: map[Kind][]Descriptor{}}
	r := NewRegistry(enum)
	defer r.Close()

	unsubscribe := r.OnChange(AudioInput, func([]Descriptor) {})
	unsubscribe()
	assert.NotPanics(t, func() {
		unsubscribe()
		unsubscribe()
	})
}

package devices

import (
	"bytes"
	"encoding/hex"

	"github.com/gen2brain/malgo"
)

// Kind identifies a class of media device.
type Kind string

const (
	AudioInput  Kind = "audioinput"
	AudioOutput Kind = "audiooutput"
	VideoInput  Kind = "videoinput"
)

// Descriptor is a read-only snapshot of one device. The raw backend
// identifier stays unexported; callers address devices by DeviceID.
type Descriptor struct {
	DeviceID  string
	Kind      Kind
	Label     string
	IsDefault bool

	raw malgo.DeviceID
}

// Enumerator lists the devices of a given kind currently present.
// Implementations must return an empty slice, not an error, when no
// devices of the kind exist.
type Enumerator interface {
	Devices(kind Kind) ([]Descriptor, error)
}

// ContextEnumerator enumerates audio devices through a malgo context.
// Video kinds yield an empty list.
type ContextEnumerator struct {
	ctx *malgo.AllocatedContext
}

// NewContextEnumerator initializes the audio backend context.
func NewContextEnumerator() (*ContextEnumerator, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &ContextEnumerator{ctx: ctx}, nil
}

// Devices returns the current snapshot for the given kind.
func (e *ContextEnumerator) Devices(kind Kind) ([]Descriptor, error) {
	var deviceType malgo.DeviceType
	switch kind {
	case AudioInput:
		deviceType = malgo.Capture
	case AudioOutput:
		deviceType = malgo.Playback
	default:
		return []Descriptor{}, nil
	}

	infos, err := e.ctx.Devices(deviceType)
	if err != nil {
		return nil, err
	}

	descriptors := make([]Descriptor, 0, len(infos))
	for _, info := range infos {
		descriptors = append(descriptors, Descriptor{
			DeviceID:  encodeDeviceID(info.ID),
			Kind:      kind,
			Label:     info.Name(),
			IsDefault: info.IsDefault != 0,
			raw:       info.ID,
		})
	}
	return descriptors, nil
}

// Close releases the backend context.
func (e *ContextEnumerator) Close() error {
	if e.ctx == nil {
		return nil
	}
	err := e.ctx.Uninit()
	e.ctx.Free()
	e.ctx = nil
	return err
}

func encodeDeviceID(id malgo.DeviceID) string {
	trimmed := bytes.TrimRight(id[:], "\x00")
	return hex.EncodeToString(trimmed)
}

package devices

import (
	"errors"
	"sync"

	"github.com/gen2brain/malgo"
)

// CaptureStream records PCM frames from an input device and hands them to
// a callback. The callback runs on the audio thread and must not block.
type CaptureStream struct {
	ctx      *malgo.AllocatedContext
	onFrame  func(pcm []byte)
	channels int
	rate     int
	format   malgo.FormatType

	mu      sync.Mutex
	device  *malgo.Device
	current *malgo.DeviceID
	running bool
	closed  bool
}

// NewCaptureStream prepares a capture stream on the default input device.
// No device is opened until Start.
func NewCaptureStream(channels, sampleRate int, format malgo.FormatType, onFrame func(pcm []byte)) (*CaptureStream, error) {
	if onFrame == nil {
		return nil, errors.New("onFrame callback is required")
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &CaptureStream{
		ctx:      ctx,
		onFrame:  onFrame,
		channels: channels,
		rate:     sampleRate,
		format:   format,
	}, nil
}

// Start opens the selected (or default) input device and begins capture.
func (c *CaptureStream) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("capture stream is closed")
	}
	if c.running {
		return nil
	}
	if err := c.openDeviceLocked(); err != nil {
		return err
	}
	if err := c.device.Start(); err != nil {
		c.device.Uninit()
		c.device = nil
		return err
	}
	c.running = true
	return nil
}

// Stop halts capture and releases the device. The stream can be started
// again afterwards.
func (c *CaptureStream) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// SwitchDevice rebinds capture to the device in the descriptor. A running
// stream is reopened on the new device.
func (c *CaptureStream) SwitchDevice(desc Descriptor) error {
	if desc.Kind != AudioInput {
		return errors.New("descriptor is not an audio input device")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("capture stream is closed")
	}

	raw := desc.raw
	c.current = &raw
	if !c.running {
		return nil
	}
	if err := c.stopLocked(); err != nil {
		return err
	}
	if err := c.openDeviceLocked(); err != nil {
		return err
	}
	if err := c.device.Start(); err != nil {
		c.device.Uninit()
		c.device = nil
		return err
	}
	c.running = true
	return nil
}

// Running reports whether capture is active.
func (c *CaptureStream) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Close stops capture and releases the backend context. Idempotent.
func (c *CaptureStream) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	_ = c.stopLocked()
	c.closed = true
	c.mu.Unlock()

	err := c.ctx.Uninit()
	c.ctx.Free()
	return err
}

func (c *CaptureStream) openDeviceLocked() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = c.format
	deviceConfig.Capture.Channels = uint32(c.channels)
	deviceConfig.SampleRate = uint32(c.rate)
	if c.current != nil {
		deviceConfig.Capture.DeviceID = c.current.Pointer()
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if len(input) > 0 {
				frame := make([]byte, len(input))
				copy(frame, input)
				c.onFrame(frame)
			}
		},
	})
	if err != nil {
		return err
	}
	c.device = device
	return nil
}

func (c *CaptureStream) stopLocked() error {
	if !c.running {
		return nil
	}
	err := c.device.Stop()
	c.device.Uninit()
	c.device = nil
	c.running = false
	return err
}

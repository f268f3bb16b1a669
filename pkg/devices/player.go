package devices

import (
	"errors"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrBufferFull is returned by Write when the playback buffer cannot take
// the whole chunk; dropping audio is preferable to blocking the caller.
var ErrBufferFull = errors.New("audio buffer is full")

// maxBufferedBytes bounds buffered PCM to roughly one second of S16 mono
// audio at 48kHz before writers get pushback.
const maxBufferedBytes = 96000

// StreamAudioPlayer plays a continuous PCM stream on the default output
// device. Underruns are filled with silence rather than stalling the
// device callback.
type StreamAudioPlayer struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	buffer  []byte
	playing bool
	muted   bool
	closed  bool
}

// NewStreamAudioPlayer opens the default playback device with the given
// channel count, sample rate and sample format.
func NewStreamAudioPlayer(channels, sampleRate int, format malgo.FormatType) (*StreamAudioPlayer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}

	p := &StreamAudioPlayer{ctx: ctx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = format
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: p.fillOutput,
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	p.device = device
	return p, nil
}

// Play starts (or resumes) playback. Safe to call when already playing.
func (p *StreamAudioPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("player is closed")
	}
	if p.playing {
		return nil
	}
	if err := p.device.Start(); err != nil {
		return err
	}
	p.playing = true
	return nil
}

// Pause stops pulling from the buffer without discarding it.
func (p *StreamAudioPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.playing {
		return nil
	}
	if err := p.device.Stop(); err != nil {
		return err
	}
	p.playing = false
	return nil
}

// Write queues PCM bytes for playback.
func (p *StreamAudioPlayer) Write(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("player is closed")
	}
	if len(p.buffer)+len(pcm) > maxBufferedBytes {
		return ErrBufferFull
	}
	p.buffer = append(p.buffer, pcm...)
	return nil
}

// SetMuted silences output while keeping the stream draining.
func (p *StreamAudioPlayer) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
}

// Muted reports whether output is silenced.
func (p *StreamAudioPlayer) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Playing reports whether the device is running.
func (p *StreamAudioPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Close stops the device and releases the backend context. Idempotent.
func (p *StreamAudioPlayer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.playing = false
	p.buffer = nil
	p.mu.Unlock()

	p.device.Uninit()
	err := p.ctx.Uninit()
	p.ctx.Free()
	return err
}

// fillOutput is the device data callback: it drains the buffer into the
// output, zero-filling whatever it cannot satisfy.
func (p *StreamAudioPlayer) fillOutput(output, _ []byte, _ uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := copy(output, p.buffer)
	p.buffer = p.buffer[n:]
	for i := n; i < len(output); i++ {
		output[i] = 0
	}
	if p.muted {
		for i := range output {
			output[i] = 0
		}
	}
}

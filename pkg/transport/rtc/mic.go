package rtc

import (
	"sync"
	"time"

	"github.com/LingByte/LingCall/pkg/devices"
	apperrors "github.com/LingByte/LingCall/pkg/errors"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/gen2brain/malgo"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/hraban/opus"
	"go.uber.org/zap"
)

const (
	micFrameDuration = 20 * time.Millisecond
	// 20ms of mono PCM at 48kHz, 16-bit.
	micSamplesPerFrame = opusClockRate / 50
	micBytesPerFrame   = micSamplesPerFrame * 2
	maxOpusFrameBytes  = 1275
)

// micPublisher captures microphone PCM, encodes it to Opus and writes
// the frames onto the local track. Capture runs on the audio thread;
// encoding and track writes run on a separate goroutine so the audio
// callback never blocks.
type micPublisher struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	capture *devices.CaptureStream
	encoder *opus.Encoder
	frames  chan []byte
	stop    chan struct{}
	pending []byte
	running bool
	onError func(error)
}

func newMicPublisher(track *webrtc.TrackLocalStaticSample, onError func(error)) *micPublisher {
	return &micPublisher{
		track:   track,
		onError: onError,
	}
}

// setEnabled starts or stops microphone publishing.
func (p *micPublisher) setEnabled(enabled bool) error {
	if enabled {
		return p.start()
	}
	p.stopPublishing()
	return nil
}

func (p *micPublisher) start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	encoder, err := opus.NewEncoder(opusClockRate, opusChannels, opus.AppVoIP)
	if err != nil {
		return apperrors.WrapError(apperrors.ErrCodeMediaDevice, err)
	}

	frames := make(chan []byte, 16)
	capture, err := devices.NewCaptureStream(opusChannels, opusClockRate, malgo.FormatS16, func(pcm []byte) {
		p.bufferFrames(pcm, frames)
	})
	if err != nil {
		return apperrors.WrapError(apperrors.ErrCodeNoInputDevice, err)
	}
	if err := capture.Start(); err != nil {
		_ = capture.Close()
		return apperrors.WrapError(apperrors.ErrCodeNoInputDevice, err)
	}

	stop := make(chan struct{})
	p.capture = capture
	p.encoder = encoder
	p.frames = frames
	p.stop = stop
	p.pending = nil
	p.running = true
	go p.encodeLoop(encoder, frames, stop)
	logger.Info("microphone publishing started")
	return nil
}

func (p *micPublisher) stopPublishing() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	capture := p.capture
	stop := p.stop
	p.capture = nil
	p.encoder = nil
	p.frames = nil
	p.stop = nil
	p.pending = nil
	p.running = false
	p.mu.Unlock()

	close(stop)
	if err := capture.Close(); err != nil {
		logger.Warn("capture stream close failed", zap.Error(err))
	}
	logger.Info("microphone publishing stopped")
}

// switchDevice rebinds capture to another input device. Publishing state
// is preserved; an idle publisher just remembers the device for later.
func (p *micPublisher) switchDevice(desc devices.Descriptor) error {
	p.mu.Lock()
	capture := p.capture
	p.mu.Unlock()
	if capture == nil {
		return apperrors.NewAppError(apperrors.ErrCodeMediaDevice, "microphone is not publishing")
	}
	if err := capture.SwitchDevice(desc); err != nil {
		return apperrors.WrapError(apperrors.ErrCodeMediaDevice, err)
	}
	return nil
}

func (p *micPublisher) enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// bufferFrames slices raw capture data into fixed 20ms frames. Runs on
// the audio thread; a full channel drops the frame instead of blocking.
func (p *micPublisher) bufferFrames(pcm []byte, frames chan []byte) {
	p.mu.Lock()
	if !p.running || p.frames == nil {
		p.mu.Unlock()
		return
	}
	p.pending = append(p.pending, pcm...)
	var ready [][]byte
	for len(p.pending) >= micBytesPerFrame {
		frame := make([]byte, micBytesPerFrame)
		copy(frame, p.pending[:micBytesPerFrame])
		p.pending = p.pending[micBytesPerFrame:]
		ready = append(ready, frame)
	}
	p.mu.Unlock()

	for _, frame := range ready {
		select {
		case frames <- frame:
		default:
		}
	}
}

func (p *micPublisher) encodeLoop(encoder *opus.Encoder, frames chan []byte, stop chan struct{}) {
	pcm := make([]int16, micSamplesPerFrame)
	encoded := make([]byte, maxOpusFrameBytes)

	for {
		select {
		case <-stop:
			return
		case frame := <-frames:
			for i := 0; i < micSamplesPerFrame; i++ {
				pcm[i] = int16(frame[2*i]) | int16(frame[2*i+1])<<8
			}
			n, err := encoder.Encode(pcm, encoded)
			if err != nil {
				logger.Warn("opus encode failed", zap.Error(err))
				continue
			}
			sample := media.Sample{Data: append([]byte(nil), encoded[:n]...), Duration: micFrameDuration}
			if err := p.track.WriteSample(sample); err != nil {
				logger.Warn("local track write failed", zap.Error(err))
				if p.onError != nil {
					p.onError(apperrors.WrapError(apperrors.ErrCodeMediaDevice, err))
				}
				return
			}
		}
	}
}

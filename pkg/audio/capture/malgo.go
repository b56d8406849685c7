package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/beakylabs/beaky/pkg/audio"
)

// Compile-time assertion that MalgoSource satisfies Source.
var _ Source = (*MalgoSource)(nil)

// Config holds the capture parameters for a microphone source.
type Config struct {
	// SampleRate in Hz. Default 16000 (whisper-native).
	SampleRate int

	// Channels is the capture channel count. Default 1.
	Channels int

	// FrameSizeMs is the duration of each delivered frame. Default 30 ms.
	FrameSizeMs int
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.FrameSizeMs <= 0 {
		c.FrameSizeMs = 30
	}
}

// MalgoSource is a microphone Source backed by miniaudio (malgo). The device
// callback appends raw PCM into an accumulator; complete frames of
// FrameSizeMs are re-sliced and pushed onto the frames channel.
type MalgoSource struct {
	cfg Config

	allocCtx *malgo.AllocatedContext
	device   *malgo.Device

	mu      sync.Mutex
	started bool
	closed  bool
	err     error

	frames    chan audio.Frame
	frameSize int // bytes per delivered frame
	pending   []byte
	startTime time.Time
	dropped   int64
}

// NewMalgoSource initialises the miniaudio context and opens the default
// capture device. The device does not start sampling until Start is called.
// A failure here is the hardware-unavailable condition: the caller decides
// whether it is fatal.
func NewMalgoSource(cfg Config) (*MalgoSource, error) {
	cfg.applyDefaults()

	allocCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}

	s := &MalgoSource{
		cfg:       cfg,
		allocCtx:  allocCtx,
		frames:    make(chan audio.Frame, 64),
		frameSize: cfg.SampleRate * cfg.Channels * 2 * cfg.FrameSizeMs / 1000,
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = uint32(cfg.Channels)
	deviceCfg.SampleRate = uint32(cfg.SampleRate)
	deviceCfg.PeriodSizeInMilliseconds = uint32(cfg.FrameSizeMs)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.onData(input)
		},
	}

	device, err := malgo.InitDevice(allocCtx.Context, deviceCfg, callbacks)
	if err != nil {
		_ = allocCtx.Uninit()
		return nil, fmt.Errorf("capture: init capture device: %w", err)
	}
	s.device = device

	return s, nil
}

// Start begins sampling from the device.
func (s *MalgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("capture: source is closed")
	}
	if s.started {
		return nil
	}
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("capture: start device: %w", err)
	}
	s.started = true
	s.startTime = time.Now()

	// Close the source when ctx is cancelled so the frames channel drains.
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	slog.Info("microphone capture started",
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
		"frame_ms", s.cfg.FrameSizeMs,
	)
	return nil
}

// onData runs on the miniaudio device thread. It must never block: full
// frames are delivered with a non-blocking send and dropped on overflow.
func (s *MalgoSource) onData(input []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	s.pending = append(s.pending, input...)
	for len(s.pending) >= s.frameSize {
		data := make([]byte, s.frameSize)
		copy(data, s.pending[:s.frameSize])
		s.pending = s.pending[s.frameSize:]

		frame := audio.Frame{
			Data:       data,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Timestamp:  time.Since(s.startTime),
		}
		select {
		case s.frames <- frame:
		default:
			s.dropped++
		}
	}
}

// Frames implements Source.
func (s *MalgoSource) Frames() <-chan audio.Frame { return s.frames }

// Err implements Source.
func (s *MalgoSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the device and releases the miniaudio context.
func (s *MalgoSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dropped := s.dropped
	s.mu.Unlock()

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	if s.allocCtx != nil {
		_ = s.allocCtx.Uninit()
	}
	close(s.frames)

	if dropped > 0 {
		slog.Warn("microphone frames dropped during session", "count", dropped)
	}
	return nil
}

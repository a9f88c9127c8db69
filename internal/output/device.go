package output

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/stridebeat/stridebeat/internal/audio"
)

// Device renders scheduled buffers through the default system output via
// portaudio. The stream callback mixes pending buffers into each hardware
// frame, which makes the portaudio frame counter the sample clock.
type Device struct {
	mixer
	sampleRate int
	log        zerolog.Logger

	stateMu sync.Mutex
	stream  *portaudio.Stream
	started bool
	closed  bool
}

// OpenDevice initializes portaudio and opens a mono int16 output stream at
// the given sample rate. The stream does not run until Start.
func OpenDevice(sampleRate int, log zerolog.Logger) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	d := &Device{sampleRate: sampleRate, log: log}

	stream, err := portaudio.OpenDefaultStream(
		0,                   // input channels
		audio.Channels,      // output channels
		float64(sampleRate),
		audio.FrameSamples(sampleRate),
		d.render,
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	d.stream = stream
	log.Debug().Int("sample_rate", sampleRate).Msg("audio device opened")
	return d, nil
}

// render is the portaudio callback.
func (d *Device) render(out []int16) {
	d.renderInto(out)
}

func (d *Device) SampleRate() int { return d.sampleRate }

func (d *Device) Position() int64 { return d.position() }

func (d *Device) PlayAt(buf []int16, at int64) error { return d.playAt(buf, at) }

func (d *Device) CancelAfter(at int64) { d.cancelAfter(at) }

// Start opens the voice. Idempotent: starting a running device is a no-op.
func (d *Device) Start() error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.closed {
		return errClosed
	}
	if d.started {
		return nil
	}
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("start output stream: %w", err)
	}
	d.started = true
	return nil
}

// Stop halts the voice but keeps the stream open for a later Start.
func (d *Device) Stop() error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if !d.started {
		return nil
	}
	d.started = false
	if err := d.stream.Stop(); err != nil {
		return fmt.Errorf("stop output stream: %w", err)
	}
	return nil
}

// Close releases the stream and shuts portaudio down.
func (d *Device) Close() error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.started {
		d.started = false
		if err := d.stream.Stop(); err != nil {
			d.log.Warn().Err(err).Msg("stopping output stream on close")
		}
	}
	err := d.stream.Close()
	portaudio.Terminate()
	if err != nil {
		return fmt.Errorf("close output stream: %w", err)
	}
	return nil
}

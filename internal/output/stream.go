package output

import (
	"sync"
	"time"

	"github.com/stridebeat/stridebeat/internal/audio"
)

// Stream renders scheduled buffers as 20ms PCM frames paced by a wall-clock
// ticker, with a software sample clock. It backs the HTTP monitor stream
// and lets the engine run without an audio device.
type Stream struct {
	mixer
	sampleRate int
	frames     chan []int16

	stateMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	closed  bool
}

// NewStream creates a stream output at the given sample rate. The frame
// channel buffers about two seconds of audio.
func NewStream(sampleRate int) *Stream {
	return &Stream{
		sampleRate: sampleRate,
		frames:     make(chan []int16, 100),
	}
}

// Frames returns the channel of rendered 20ms PCM frames.
func (s *Stream) Frames() <-chan []int16 { return s.frames }

func (s *Stream) SampleRate() int { return s.sampleRate }

func (s *Stream) Position() int64 { return s.position() }

func (s *Stream) PlayAt(buf []int16, at int64) error { return s.playAt(buf, at) }

func (s *Stream) CancelAfter(at int64) { s.cancelAfter(at) }

// Start begins real-time frame rendering. Idempotent while running. The
// sample clock freezes across Stop/Start, so a restarted schedule begins
// from the frozen position.
func (s *Stream) Start() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.closed {
		return errClosed
	}
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	return nil
}

// Stop halts frame rendering. Pending scheduled buffers stay queued.
func (s *Stream) Stop() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
	return nil
}

// Close stops rendering and closes the frame channel.
func (s *Stream) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

func (s *Stream) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	n := audio.FrameSamples(s.sampleRate)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame := make([]int16, n)
			s.renderInto(frame)
			select {
			case s.frames <- frame:
			default:
				// no consumer keeping up; drop rather than stall the clock
			}
		}
	}
}

// Package metronome schedules audible (and optionally tactile) beats at a
// target tempo against an audio output clock. Beats are committed ahead of
// time in absolute output-sample time, so steady-state spacing is exact and
// jitter never accumulates across beats.
package metronome

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/stridebeat/stridebeat/internal/audio"
	"github.com/stridebeat/stridebeat/internal/haptic"
)

// Output is the minimal audio capability the engine schedules against:
// play a buffer at an absolute output-sample time, and report the clock.
type Output interface {
	Start() error
	Stop() error
	SampleRate() int
	// Position returns the current output clock in samples.
	Position() int64
	// PlayAt schedules buf to begin playing at absolute sample time at.
	PlayAt(buf []int16, at int64) error
	// CancelAfter discards scheduled buffers starting at or after at that
	// have not begun playing.
	CancelAfter(at int64)
}

// State is the engine lifecycle.
type State int

const (
	Idle State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	// Lookahead is how far ahead of the output clock beats are committed.
	Lookahead = 500 * time.Millisecond
	// Tick is the scheduler re-check interval. Always shorter than Lookahead.
	Tick = 100 * time.Millisecond
	// startLead is the gap between the clock and the first beat of a fresh
	// window, so the opening beat is never scheduled in the past.
	startLead = 50 * time.Millisecond
)

// Params configures Start.
type Params struct {
	BPM     float64
	CueMode CueMode
	Sound   audio.SoundSet
	Haptics bool
}

// Snapshot is the externally observable engine state.
type Snapshot struct {
	State        State
	Playing      bool
	BPM          float64
	EffectiveBPM float64
	CueMode      CueMode
	Sound        audio.SoundSet
	Haptics      bool
}

// pendingBeat is a committed, not-yet-rendered schedule entry.
type pendingBeat struct {
	at    int64 // absolute output-sample time
	timer *time.Timer
}

// Engine is the beat scheduler. All state mutation goes through its
// methods; the scheduling loop runs on its own goroutine and reads the
// shared fields under the same mutex, so it never observes a torn tempo
// or cue mode.
type Engine struct {
	out    Output
	pulser haptic.Pulser
	feed   *Feed
	log    zerolog.Logger

	// warnLimit throttles scheduling-slip and haptic-failure warnings so a
	// struggling loop does not flood the log.
	warnLimit *rate.Limiter

	opMu sync.Mutex // serializes Start/Stop/Pause/Resume

	mu      sync.Mutex
	state   State
	bpm     float64
	cue     CueMode
	sound   audio.SoundSet
	haptics bool
	wave    []int16
	retempo bool   // tempo or cue changed: realign at the next beat boundary
	gen     uint64 // playback session counter; stale beat timers check it
	seq     int64

	stopCh chan struct{}
	doneCh chan struct{}
	wake   chan struct{}
}

// New creates an engine over the given output. A nil pulser disables
// haptics silently.
func New(out Output, pulser haptic.Pulser, log zerolog.Logger) *Engine {
	if pulser == nil {
		pulser = haptic.Nop{}
	}
	return &Engine{
		out:       out,
		pulser:    pulser,
		feed:      NewFeed(),
		log:       log,
		warnLimit: rate.NewLimiter(rate.Limit(1), 5),
		cue:       EveryStep,
	}
}

// Start begins playback. Starting an already-running engine restarts it;
// beats are never double-scheduled. Validation and output failures surface
// synchronously and leave the engine idle.
func (e *Engine) Start(p Params) error {
	if !validBPM(p.BPM) {
		return ErrInvalidBPM
	}
	if p.CueMode.Divisor() <= 0 {
		return ErrInvalidCueMode
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.stopSession()

	if err := e.out.Start(); err != nil {
		return fmt.Errorf("start audio output: %w", err)
	}

	e.mu.Lock()
	e.bpm = p.BPM
	e.cue = p.CueMode
	e.sound = p.Sound
	e.haptics = p.Haptics
	e.wave = audio.Synthesize(p.Sound, e.out.SampleRate())
	e.state = Playing
	e.gen++
	e.seq = 0
	gen := e.gen
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	wake := make(chan struct{}, 1)
	e.stopCh, e.doneCh, e.wake = stopCh, doneCh, wake
	e.mu.Unlock()

	go e.run(gen, stopCh, doneCh, wake)

	e.log.Info().
		Float64("bpm", p.BPM).
		Stringer("cue", p.CueMode).
		Stringer("sound", p.Sound).
		Bool("haptics", p.Haptics).
		Msg("metronome started")
	return nil
}

// Stop halts playback and discards all pending beats. Safe to call when
// not playing.
func (e *Engine) Stop() {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	idle := e.state == Idle
	e.mu.Unlock()
	if idle {
		return
	}
	e.stopSession()
	e.log.Info().Msg("metronome stopped")
}

// Pause stops the audio voice but keeps the configuration. Phase is not
// preserved: Resume begins a fresh beat sequence.
func (e *Engine) Pause() {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.state != Playing {
		e.mu.Unlock()
		return
	}
	stopCh, doneCh := e.stopCh, e.doneCh
	e.state = Paused
	e.gen++ // silence in-flight beat timers from the playing session
	e.stopCh, e.doneCh, e.wake = nil, nil, nil
	e.mu.Unlock()

	close(stopCh)
	<-doneCh
	e.out.CancelAfter(0)
	if err := e.out.Stop(); err != nil {
		e.log.Warn().Err(err).Msg("stopping audio output")
	}
	e.log.Info().Msg("metronome paused")
}

// Resume restarts scheduling from a fresh lookahead window.
func (e *Engine) Resume() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	if e.state != Paused {
		e.mu.Unlock()
		return ErrNotPaused
	}
	e.mu.Unlock()

	if err := e.out.Start(); err != nil {
		return fmt.Errorf("start audio output: %w", err)
	}

	e.mu.Lock()
	e.state = Playing
	e.gen++
	gen := e.gen
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	wake := make(chan struct{}, 1)
	e.stopCh, e.doneCh, e.wake = stopCh, doneCh, wake
	e.mu.Unlock()

	go e.run(gen, stopCh, doneCh, wake)
	e.log.Info().Msg("metronome resumed")
	return nil
}

// stopSession tears down any running scheduling loop and cancels pending
// output. Callers must hold opMu.
func (e *Engine) stopSession() {
	e.mu.Lock()
	stopCh, doneCh := e.stopCh, e.doneCh
	running := e.state != Idle
	e.state = Idle
	e.gen++ // residual beat timers from the old session stay silent
	e.stopCh, e.doneCh, e.wake = nil, nil, nil
	e.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
	if running {
		e.out.CancelAfter(0)
		if err := e.out.Stop(); err != nil {
			e.log.Warn().Err(err).Msg("stopping audio output")
		}
	}
}

// SetBPM updates the target tempo. While playing, the new rate takes effect
// at the next beat boundary: the in-flight beat is neither retriggered nor
// skipped. Rapid calls coalesce; each supersedes the previous pending
// re-arm.
func (e *Engine) SetBPM(bpm float64) error {
	if !validBPM(bpm) {
		return ErrInvalidBPM
	}
	e.mu.Lock()
	changed := e.bpm != bpm
	e.bpm = bpm
	if changed && e.state == Playing {
		e.retempo = true
	}
	wake := e.wake
	e.mu.Unlock()

	if changed {
		nudge(wake)
	}
	return nil
}

// SetCueMode changes the cadence-to-beat divisor. Takes effect at the next
// beat boundary, like a tempo change.
func (e *Engine) SetCueMode(m CueMode) error {
	if m.Divisor() <= 0 {
		return ErrInvalidCueMode
	}
	e.mu.Lock()
	changed := e.cue != m
	e.cue = m
	if changed && e.state == Playing {
		e.retempo = true
	}
	wake := e.wake
	e.mu.Unlock()

	if changed {
		nudge(wake)
	}
	return nil
}

// SetSoundSet swaps the beat timbre. Applies from the next scheduled beat;
// beats already committed keep the old waveform.
func (e *Engine) SetSoundSet(s audio.SoundSet) {
	wave := audio.Synthesize(s, e.out.SampleRate())
	e.mu.Lock()
	e.sound = s
	e.wave = wave
	e.mu.Unlock()
}

// SetEnableHaptics toggles the tactile pulse on future beats.
func (e *Engine) SetEnableHaptics(enabled bool) {
	e.mu.Lock()
	e.haptics = enabled
	e.mu.Unlock()
}

// Status returns a consistent snapshot of the observable engine state.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:        e.state,
		Playing:      e.state == Playing,
		BPM:          e.bpm,
		EffectiveBPM: EffectiveRate(e.bpm, e.cue),
		CueMode:      e.cue,
		Sound:        e.sound,
		Haptics:      e.haptics,
	}
}

// Subscribe registers a beat-event observer.
func (e *Engine) Subscribe() *Subscription { return e.feed.Subscribe() }

// Unsubscribe removes a beat-event observer.
func (e *Engine) Unsubscribe(s *Subscription) { e.feed.Unsubscribe(s) }

// run is the scheduling loop. It wakes every Tick (or immediately on a
// parameter change) and keeps the lookahead window filled.
func (e *Engine) run(gen uint64, stopCh, doneCh chan struct{}, wake <-chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(Tick)
	defer ticker.Stop()

	sr := float64(e.out.SampleRate())

	// Fresh window: the first beat lands one lead interval after the clock.
	next := float64(e.out.Position()) + startLead.Seconds()*sr

	var pending []pendingBeat
	lastStarted := int64(-1)

	for {
		pending, next, lastStarted = e.schedule(gen, pending, next, lastStarted, sr)
		select {
		case <-stopCh:
			for _, p := range pending {
				p.timer.Stop()
			}
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

// schedule runs one pass: absorb parameter changes at the beat boundary,
// recover from clock overruns, and top up the lookahead window. next is the
// absolute sample time of the first uncommitted beat, kept as float64 so
// interval arithmetic does not accumulate rounding drift.
func (e *Engine) schedule(gen uint64, pending []pendingBeat, next float64, lastStarted int64, sr float64) ([]pendingBeat, float64, int64) {
	e.mu.Lock()
	eff := e.bpm / e.cue.Divisor()
	wave := e.wave
	hap := e.haptics
	retempo := e.retempo
	e.retempo = false
	e.mu.Unlock()

	interval := 60 / eff * sr // samples per audible beat
	pos := e.out.Position()

	// Entries the clock has reached can no longer be cancelled.
	for len(pending) > 0 && pending[0].at <= pos {
		lastStarted = pending[0].at
		pending = pending[1:]
	}

	if retempo {
		// Phase-aligned change: keep the earliest committed beat, cancel
		// everything after it, and continue from it at the new interval.
		switch {
		case len(pending) > 0:
			keep := pending[0]
			e.out.CancelAfter(keep.at + 1)
			for _, p := range pending[1:] {
				p.timer.Stop()
			}
			pending = pending[:1]
			next = float64(keep.at) + interval
		case lastStarted >= 0:
			next = float64(lastStarted) + interval
		}
	}

	// If the clock overran the schedule (a stall, or a retempo landing in
	// the past), skip to the next boundary instead of bursting missed beats.
	if next <= float64(pos) {
		skip := math.Floor((float64(pos)-next)/interval) + 1
		next += skip * interval
		if e.warnLimit.Allow() {
			e.log.Warn().Int("missed", int(skip)).Msg("scheduler fell behind, realigning")
		}
	}

	horizon := float64(pos) + Lookahead.Seconds()*sr
	for next < horizon {
		at := int64(math.Round(next))
		if err := e.out.PlayAt(wave, at); err != nil {
			// Self-healing: log, leave next where it is, retry next pass.
			if e.warnLimit.Allow() {
				e.log.Warn().Err(err).Int64("at", at).Msg("beat scheduling failed")
			}
			break
		}
		t := e.announce(gen, at, pos, sr, hap)
		pending = append(pending, pendingBeat{at: at, timer: t})
		next += interval
	}
	return pending, next, lastStarted
}

// announce arms a timer that publishes the beat event and fires the haptic
// pulse when the beat's sample time comes around. The pulse is fire and
// forget: failures are logged and swallowed, never delaying audio.
func (e *Engine) announce(gen uint64, at, pos int64, sr float64, hap bool) *time.Timer {
	e.mu.Lock()
	seq := e.seq
	e.seq++
	e.mu.Unlock()

	delay := time.Duration(float64(at-pos) / sr * float64(time.Second))
	if delay < 0 {
		delay = 0
	}
	return time.AfterFunc(delay, func() {
		e.mu.Lock()
		live := e.gen == gen
		e.mu.Unlock()
		if !live {
			return
		}
		e.feed.publish(BeatEvent{Seq: seq, SampleTime: at, At: time.Now(), Haptic: hap})
		if hap {
			if err := e.pulser.Pulse(); err != nil {
				if e.warnLimit.Allow() {
					e.log.Warn().Err(err).Msg("haptic pulse failed")
				}
			}
		}
	})
}

func validBPM(bpm float64) bool {
	return bpm > 0 && !math.IsInf(bpm, 1) && !math.IsNaN(bpm)
}

// nudge wakes the scheduling loop without ever blocking the caller.
func nudge(wake chan struct{}) {
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

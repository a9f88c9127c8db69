package metronome

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stridebeat/stridebeat/internal/audio"
	"github.com/stridebeat/stridebeat/internal/haptic"
)

// fakeOutput is an Output with a manually advanced sample clock, so tests
// can observe the schedule deterministically.
type fakeOutput struct {
	mu       sync.Mutex
	pos      int64
	live     []int64 // scheduled minus cancelled
	all      []int64 // every PlayAt ever, immune to cancellation
	cancels  []int64
	startErr error
	playErr  error
	starts   int
	stops    int
}

func (f *fakeOutput) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeOutput) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeOutput) SampleRate() int { return 48000 }

func (f *fakeOutput) Position() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos
}

func (f *fakeOutput) PlayAt(buf []int16, at int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.live = append(f.live, at)
	f.all = append(f.all, at)
	return nil
}

func (f *fakeOutput) CancelAfter(at int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, at)
	kept := f.live[:0]
	for _, e := range f.live {
		if e >= at && e > f.pos {
			continue // not started: cancellable
		}
		kept = append(kept, e)
	}
	f.live = kept
}

func (f *fakeOutput) advance(by int64) {
	f.mu.Lock()
	f.pos += by
	f.mu.Unlock()
}

func (f *fakeOutput) setPlayErr(err error) {
	f.mu.Lock()
	f.playErr = err
	f.mu.Unlock()
}

func (f *fakeOutput) schedule() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.live))
	copy(out, f.live)
	return out
}

func (f *fakeOutput) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

func newTestEngine(p haptic.Pulser) (*Engine, *fakeOutput) {
	f := &fakeOutput{}
	return New(f, p, zerolog.Nop()), f
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

// At 48kHz: 300 BPM every-step = 9600 samples/beat, startLead = 2400 samples.
const (
	testInterval = 9600
	testLead     = 2400
)

// --- Validation ---

func TestStartRejectsBadBPM(t *testing.T) {
	e, f := newTestEngine(nil)
	for _, bpm := range []float64{0, -120, math.NaN(), math.Inf(1)} {
		if err := e.Start(Params{BPM: bpm, CueMode: EveryStep}); !errors.Is(err, ErrInvalidBPM) {
			t.Errorf("Start(bpm=%v) error = %v, want ErrInvalidBPM", bpm, err)
		}
	}
	if st := e.Status(); st.Playing {
		t.Error("engine playing after rejected Start")
	}
	if starts, _ := f.counts(); starts != 0 {
		t.Errorf("output started %d times after rejected Start", starts)
	}
}

func TestStartRejectsBadCueMode(t *testing.T) {
	e, _ := newTestEngine(nil)
	if err := e.Start(Params{BPM: 180, CueMode: CueMode(9)}); !errors.Is(err, ErrInvalidCueMode) {
		t.Errorf("Start error = %v, want ErrInvalidCueMode", err)
	}
}

func TestStartSurfacesOutputFailure(t *testing.T) {
	e, f := newTestEngine(nil)
	f.startErr = errors.New("device gone")
	err := e.Start(Params{BPM: 180, CueMode: EveryStep})
	if err == nil || !errors.Is(err, f.startErr) {
		t.Fatalf("Start error = %v, want wrapped device error", err)
	}
	if st := e.Status(); st.Playing {
		t.Error("engine playing after output failure")
	}
}

func TestSetBPMRejectsBad(t *testing.T) {
	e, _ := newTestEngine(nil)
	if err := e.SetBPM(-1); !errors.Is(err, ErrInvalidBPM) {
		t.Errorf("SetBPM(-1) error = %v, want ErrInvalidBPM", err)
	}
}

// --- Scheduling ---

func TestScheduleEvenlySpaced(t *testing.T) {
	e, f := newTestEngine(nil)
	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 3 }, "lookahead window fill")

	got := f.schedule()
	if got[0] != testLead {
		t.Errorf("first beat at %d, want %d", got[0], testLead)
	}
	for i := 1; i < len(got); i++ {
		if d := got[i] - got[i-1]; d != testInterval {
			t.Errorf("beat %d spacing = %d samples, want %d", i, d, testInterval)
		}
	}
}

func TestNoDriftAcrossPasses(t *testing.T) {
	e, f := newTestEngine(nil)
	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	// Crawl the clock forward through several scheduling passes.
	for i := 0; i < 6; i++ {
		f.advance(4800)
		time.Sleep(120 * time.Millisecond)
	}

	f.mu.Lock()
	got := make([]int64, len(f.all))
	copy(got, f.all)
	f.mu.Unlock()

	if len(got) < 5 {
		t.Fatalf("only %d beats scheduled", len(got))
	}
	// Absolute-time scheduling: spacing stays exact, jitter never accumulates.
	for i := 1; i < len(got); i++ {
		if d := got[i] - got[i-1]; d != testInterval {
			t.Errorf("beat %d spacing = %d samples, want exactly %d", i, d, testInterval)
		}
	}
}

func TestRetempoPhaseAligned(t *testing.T) {
	e, f := newTestEngine(nil)
	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 3 }, "initial window fill")

	if err := e.SetBPM(600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 5 }, "re-armed window fill")

	// The in-flight beat at 2400 survives; everything after it is re-derived
	// at the new 4800-sample interval.
	want := []int64{2400, 7200, 12000, 16800, 21600}
	got := f.schedule()
	if len(got) != len(want) {
		t.Fatalf("schedule = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("schedule = %v, want %v", got, want)
		}
	}
}

func TestRetempoNeverDoubleTriggers(t *testing.T) {
	e, f := newTestEngine(nil)
	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 2 }, "window fill")
	if err := e.SetBPM(600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(250 * time.Millisecond)

	// No two beats closer than the smaller of the old/new intervals.
	minGap := int64(4800)
	got := f.schedule()
	for i := 1; i < len(got); i++ {
		if d := got[i] - got[i-1]; d < minGap {
			t.Errorf("beats %d samples apart, floor is %d", d, minGap)
		}
	}
}

func TestRapidRetempoCoalesces(t *testing.T) {
	e, f := newTestEngine(nil)
	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	for _, bpm := range []float64{400, 500, 240} {
		if err := e.SetBPM(bpm); err != nil {
			t.Fatal(err)
		}
	}
	if st := e.Status(); st.BPM != 240 {
		t.Errorf("BPM = %v, want last-set 240", st.BPM)
	}

	// 240 BPM = 12000 samples; the tail of the schedule settles there.
	waitFor(t, time.Second, func() bool {
		s := f.schedule()
		return len(s) >= 2 && s[len(s)-1]-s[len(s)-2] == 12000
	}, "schedule settles at final tempo")
}

func TestCueModeHalvesEffectiveRate(t *testing.T) {
	e, f := newTestEngine(nil)
	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	if err := e.SetCueMode(EveryOtherStep); err != nil {
		t.Fatal(err)
	}
	if st := e.Status(); st.EffectiveBPM != 150 {
		t.Errorf("EffectiveBPM = %v, want 150", st.EffectiveBPM)
	}
	waitFor(t, time.Second, func() bool {
		s := f.schedule()
		return len(s) >= 2 && s[len(s)-1]-s[len(s)-2] == 2*testInterval
	}, "schedule settles at halved rate")
}

// --- Lifecycle ---

func TestStopCancelsEverything(t *testing.T) {
	e, f := newTestEngine(nil)
	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 1 }, "window fill")

	e.Stop()

	if st := e.Status(); st.State != Idle || st.Playing {
		t.Errorf("state after Stop = %v", st.State)
	}
	if got := f.schedule(); len(got) != 0 {
		t.Errorf("pending beats after Stop: %v", got)
	}
	if _, stops := f.counts(); stops == 0 {
		t.Error("output voice not stopped")
	}
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	e, f := newTestEngine(nil)
	e.Stop()
	e.Stop()
	if starts, stops := f.counts(); starts != 0 || stops != 0 {
		t.Errorf("idle Stop touched the output: starts=%d stops=%d", starts, stops)
	}
}

func TestRestartResetsPhase(t *testing.T) {
	e, f := newTestEngine(nil)
	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 3 }, "first session fill")
	e.Stop()

	f.advance(30000)
	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 1 }, "second session fill")

	got := f.schedule()
	if got[0] != 30000+testLead {
		t.Errorf("restart first beat at %d, want fresh window at %d", got[0], 30000+testLead)
	}
}

func TestPauseResume(t *testing.T) {
	e, f := newTestEngine(nil)

	e.Pause() // idle: no-op
	if st := e.Status(); st.State != Idle {
		t.Fatalf("Pause from idle moved state to %v", st.State)
	}
	if err := e.Resume(); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("Resume from idle error = %v, want ErrNotPaused", err)
	}

	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 1 }, "window fill")

	e.Pause()
	if st := e.Status(); st.State != Paused || st.Playing {
		t.Errorf("state after Pause = %v", st.State)
	}
	if got := f.schedule(); len(got) != 0 {
		t.Errorf("pending beats survived Pause: %v", got)
	}

	if err := e.Resume(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	if st := e.Status(); st.State != Playing {
		t.Errorf("state after Resume = %v", st.State)
	}
	// Phase is not preserved: a fresh lookahead window starts over.
	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 1 }, "resumed window fill")
	if got := f.schedule(); got[0] != testLead {
		t.Errorf("resumed first beat at %d, want %d", got[0], testLead)
	}
}

// --- Self-healing ---

func TestLoopRecoversFromPlayFailure(t *testing.T) {
	e, f := newTestEngine(nil)
	f.setPlayErr(errors.New("transient underrun"))

	if err := e.Start(Params{BPM: 300, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	time.Sleep(150 * time.Millisecond)
	if st := e.Status(); !st.Playing {
		t.Fatal("loop gave up after scheduling failure")
	}

	f.setPlayErr(nil)
	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 1 }, "loop recovery")
}

// --- Events & haptics ---

func TestBeatEventsDelivered(t *testing.T) {
	pulser := haptic.NewChannel(8)
	e, _ := newTestEngine(pulser)
	sub := e.Subscribe()
	defer e.Unsubscribe(sub)

	if err := e.Start(Params{BPM: 600, CueMode: EveryStep, Haptics: true}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	var events []BeatEvent
	for len(events) < 3 {
		select {
		case ev := <-sub.C:
			events = append(events, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout after %d events", len(events))
		}
	}
	for i, ev := range events {
		if ev.Seq != int64(i) {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
		if !ev.Haptic {
			t.Errorf("event %d missing haptic flag", i)
		}
	}

	select {
	case <-pulser.C:
	case <-time.After(time.Second):
		t.Error("no haptic pulse delivered")
	}
}

func TestNoEventsAfterStop(t *testing.T) {
	e, _ := newTestEngine(nil)
	sub := e.Subscribe()
	defer e.Unsubscribe(sub)

	if err := e.Start(Params{BPM: 600, CueMode: EveryStep}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("no events before stop")
	}

	e.Stop()
	for { // drain events already in flight
		select {
		case <-sub.C:
			continue
		case <-time.After(100 * time.Millisecond):
		}
		break
	}

	select {
	case ev := <-sub.C:
		t.Errorf("residual beat fired after Stop: %+v", ev)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestHapticFailureNeverStopsBeats(t *testing.T) {
	pulser := haptic.Func(func() error { return errors.New("motor offline") })
	e, f := newTestEngine(pulser)

	if err := e.Start(Params{BPM: 600, CueMode: EveryStep, Haptics: true}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	waitFor(t, time.Second, func() bool { return len(f.schedule()) >= 3 }, "beats despite haptic failures")
	if st := e.Status(); !st.Playing {
		t.Error("haptic failure stopped playback")
	}
}

// --- Observable state ---

func TestStatusSnapshot(t *testing.T) {
	e, _ := newTestEngine(nil)
	if err := e.Start(Params{BPM: 170, CueMode: EveryOtherStep, Sound: audio.Woodblock, Haptics: true}); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	st := e.Status()
	if !st.Playing || st.State != Playing {
		t.Errorf("state = %v", st.State)
	}
	if st.BPM != 170 || st.EffectiveBPM != 85 {
		t.Errorf("BPM = %v, EffectiveBPM = %v; want 170, 85", st.BPM, st.EffectiveBPM)
	}
	if st.CueMode != EveryOtherStep || st.Sound != audio.Woodblock || !st.Haptics {
		t.Errorf("snapshot = %+v", st)
	}
}

func TestSetBPMWhileIdleStores(t *testing.T) {
	e, _ := newTestEngine(nil)
	if err := e.SetBPM(165); err != nil {
		t.Fatal(err)
	}
	if st := e.Status(); st.BPM != 165 || st.Playing {
		t.Errorf("snapshot = %+v", st)
	}
}

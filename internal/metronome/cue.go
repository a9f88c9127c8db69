package metronome

import (
	"fmt"
	"strings"
	"time"
)

// CueMode maps the runner's step cadence to the audible beat rate.
type CueMode int

const (
	// EveryStep cues one beat per step.
	EveryStep CueMode = iota
	// EveryOtherStep cues one beat per two steps.
	EveryOtherStep
)

// Divisor returns how many cadence steps correspond to one audible beat.
// Unknown modes return 0 so validation can reject them.
func (m CueMode) Divisor() float64 {
	switch m {
	case EveryStep:
		return 1.0
	case EveryOtherStep:
		return 2.0
	}
	return 0
}

func (m CueMode) String() string {
	switch m {
	case EveryStep:
		return "every_step"
	case EveryOtherStep:
		return "every_other_step"
	}
	return fmt.Sprintf("cuemode(%d)", int(m))
}

// ParseCueMode maps a config/API string to a CueMode.
func ParseCueMode(s string) (CueMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "every_step", "everystep", "1":
		return EveryStep, nil
	case "every_other_step", "everyotherstep", "2":
		return EveryOtherStep, nil
	}
	return EveryStep, fmt.Errorf("unknown cue mode %q", s)
}

// EffectiveRate returns the audible beats per minute for a target BPM under
// the given cue mode.
func EffectiveRate(bpm float64, m CueMode) float64 {
	return bpm / m.Divisor()
}

// BeatInterval returns the time between audible beats.
func BeatInterval(bpm float64, m CueMode) time.Duration {
	return time.Duration(60 / EffectiveRate(bpm, m) * float64(time.Second))
}

// BeatsPerSecond returns the audible beat frequency in Hz.
func BeatsPerSecond(bpm float64, m CueMode) float64 {
	return EffectiveRate(bpm, m) / 60
}

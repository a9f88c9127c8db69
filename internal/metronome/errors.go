package metronome

import "errors"

var (
	// ErrInvalidBPM rejects zero, negative, or non-finite tempos.
	ErrInvalidBPM = errors.New("metronome: bpm must be positive and finite")
	// ErrInvalidCueMode rejects cue modes with a non-positive divisor.
	ErrInvalidCueMode = errors.New("metronome: cue mode divisor must be positive")
	// ErrNotPaused is returned by Resume when the engine is not paused.
	ErrNotPaused = errors.New("metronome: engine is not paused")
)

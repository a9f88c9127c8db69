package audio

import (
	"fmt"
	"strings"
	"time"
)

const (
	SampleRate    = 48000
	Channels      = 1
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960           // samples per 20ms mono frame at 48kHz
	FrameBytes    = FrameSize * 2 // bytes per frame (int16 = 2 bytes)
)

// FrameSamples returns the sample count of one 20ms mono frame at the given rate.
func FrameSamples(sampleRate int) int {
	return sampleRate * int(FrameDuration/time.Millisecond) / 1000
}

// SoundSet selects the synthesized beat timbre.
type SoundSet int

const (
	Click SoundSet = iota
	Woodblock
	HiHat
)

func (s SoundSet) String() string {
	switch s {
	case Click:
		return "click"
	case Woodblock:
		return "woodblock"
	case HiHat:
		return "hihat"
	}
	return fmt.Sprintf("soundset(%d)", int(s))
}

// ParseSoundSet maps a config/API string to a SoundSet.
func ParseSoundSet(s string) (SoundSet, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "click":
		return Click, nil
	case "woodblock":
		return Woodblock, nil
	case "hihat", "hi-hat":
		return HiHat, nil
	}
	return Click, fmt.Errorf("unknown sound set %q", s)
}

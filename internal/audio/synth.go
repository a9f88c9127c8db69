package audio

import (
	"math"
	"math/rand/v2"
	"time"
)

// Synthesis parameters per sound set. Each beat is a short transient:
// volume in [0,1], decay is the exponential envelope rate in 1/s.
const (
	// Click: high pitch, very short
	clickFreq   = 1800.0
	clickVolume = 0.8
	clickDecay  = 120.0
	clickDur    = 30 * time.Millisecond

	// Woodblock: two lower partials, slower decay
	woodFreqA  = 640.0
	woodFreqB  = 960.0
	woodVolume = 0.7
	woodDecay  = 55.0
	woodDur    = 60 * time.Millisecond

	// Hi-hat: noise-dominant burst with a faint metallic partial
	hatFreq   = 6800.0
	hatVolume = 0.6
	hatDecay  = 140.0
	hatDur    = 40 * time.Millisecond
)

// Synthesize renders the transient waveform for a sound set as mono int16
// samples at the given rate. Click and woodblock are deterministic; the
// hi-hat contains unseeded noise and is only perceptually reproducible.
func Synthesize(s SoundSet, sampleRate int) []int16 {
	switch s {
	case Woodblock:
		return tone(sampleRate, woodDur, woodDecay, woodVolume, woodFreqA, woodFreqB)
	case HiHat:
		return noiseBurst(sampleRate, hatDur, hatDecay, hatVolume, hatFreq)
	default:
		return tone(sampleRate, clickDur, clickDecay, clickVolume, clickFreq)
	}
}

// tone renders amplitude-enveloped sine partials using a phase accumulator
// per partial, so multi-partial sounds stay phase-continuous.
func tone(sampleRate int, dur time.Duration, decay, volume float64, freqs ...float64) []int16 {
	n := int(float64(sampleRate) * dur.Seconds())
	out := make([]int16, n)
	phase := make([]float64, len(freqs))
	scale := volume / float64(len(freqs))

	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		env := math.Exp(-decay * t)

		var v float64
		for j, f := range freqs {
			v += math.Sin(phase[j]) * scale
			phase[j] += 2 * math.Pi * f / float64(sampleRate)
		}
		out[i] = Clip(v * env * 32767)
	}
	return out
}

// noiseBurst renders an enveloped burst of high-frequency-biased noise with
// a quiet tonal partial underneath. The first difference of white noise acts
// as a crude high-pass, which is enough bias for a hi-hat transient.
func noiseBurst(sampleRate int, dur time.Duration, decay, volume, partial float64) []int16 {
	n := int(float64(sampleRate) * dur.Seconds())
	out := make([]int16, n)

	var prev, phase float64
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		env := math.Exp(-decay * t)

		w := rand.Float64()*2 - 1
		hp := (w - prev) * 0.5
		prev = w

		v := 0.8*hp + 0.2*math.Sin(phase)
		phase += 2 * math.Pi * partial / float64(sampleRate)

		out[i] = Clip(v * env * volume * 32767)
	}
	return out
}

// Package cadence implements the steps-per-minute model used to pace a
// runner against a target speed. The model is a pure function: no state,
// no I/O, defined for all real inputs.
package cadence

// Biometric describes the runner. It is a value supplied once per run;
// equality is structural.
//
// WeightKg is accepted for future biomechanical refinement but does not
// influence the current formula. That asymmetry is intentional.
type Biometric struct {
	HeightMeters float64
	WeightKg     float64 // 0 = not provided
}

// LegLength estimates leg length from height.
func (b Biometric) LegLength() float64 {
	return LegLengthFactor * b.HeightMeters
}

// Model constants. These are process-wide and never mutated at runtime.
//
// The 155-195 clamp is the authoritative range: it is the one the model
// itself enforces. A looser 150-190 band exists only as an outer sanity
// tolerance on the consumer side.
const (
	BaseCadence  = 170.0 // steps/min at the anchor speed
	CadenceSlope = 8.0   // steps/min per m/s above the anchor
	AnchorSpeed  = 3.0   // easy-jog baseline, m/s

	MinCadence = 155.0
	MaxCadence = 195.0

	LegLengthFactor   = 0.53
	StrideLowerFactor = 0.7
	StrideUpperFactor = 1.3
	StrideNudge       = 2.0
)

// StrideLength is the distance covered per step, in meters, at the given
// speed and cadence.
func StrideLength(speedMps, cadence float64) float64 {
	return speedMps * 60 / cadence
}

// Suggest computes the suggested cadence in steps/minute for a runner at
// the given target speed, biased by a personalization delta (typically
// within ±10).
//
// The linear model is anchored at BaseCadence for AnchorSpeed, clamped,
// then corrected once if the implied stride length falls outside the
// runner's comfortable band relative to leg length: a too-short stride
// slows the steps, a too-long stride quickens them. The correction is a
// single pass, not iterated to convergence.
func Suggest(bio Biometric, speedMps, delta float64) float64 {
	c := BaseCadence + CadenceSlope*(speedMps-AnchorSpeed)
	c = clamp(c)

	stride := StrideLength(speedMps, c)
	leg := bio.LegLength()
	if stride < StrideLowerFactor*leg {
		c -= StrideNudge
	} else if stride > StrideUpperFactor*leg {
		c += StrideNudge
	}

	c += delta
	return clamp(c)
}

func clamp(c float64) float64 {
	if c < MinCadence {
		return MinCadence
	}
	if c > MaxCadence {
		return MaxCadence
	}
	return c
}

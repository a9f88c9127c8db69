// Package haptic abstracts the "trigger one short pulse now" capability.
// Haptics are best effort: absence of hardware is a silent no-op, and a
// failed pulse must never hold up the beat that requested it.
package haptic

// Pulser triggers a single short tactile pulse.
type Pulser interface {
	Pulse() error
}

// Nop is the fallback when no haptic hardware is present.
type Nop struct{}

func (Nop) Pulse() error { return nil }

// Func adapts a function to the Pulser interface.
type Func func() error

func (f Func) Pulse() error { return f() }

// Channel delivers pulses to a buffered channel without ever blocking the
// caller. A full channel drops the pulse; dropping is not an error.
type Channel struct {
	C chan struct{}
}

// NewChannel creates a channel-backed pulser with the given buffer.
func NewChannel(buffer int) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	return &Channel{C: make(chan struct{}, buffer)}
}

func (c *Channel) Pulse() error {
	select {
	case c.C <- struct{}{}:
	default:
	}
	return nil
}

// Package output implements the audio output capability the metronome
// engine schedules against: buffers placed at absolute sample times,
// rendered either through the system audio device (portaudio) or as a
// real-time PCM frame stream.
package output

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var errClosed = errors.New("output: closed")

// entry is one scheduled buffer. off tracks how many samples have already
// been rendered, so a buffer can straddle frame boundaries.
type entry struct {
	at  int64
	buf []int16
	off int
}

// mixer holds scheduled buffers and renders them additively into
// consecutive output frames while advancing an absolute sample clock.
// Both output backends embed it.
type mixer struct {
	mu      sync.Mutex
	pos     int64
	pending []entry // sorted by at
}

func (m *mixer) position() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// playAt schedules buf to begin at absolute sample time at. Scheduling
// behind the clock is an error: the caller missed its window.
func (m *mixer) playAt(buf []int16, at int64) error {
	if len(buf) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if at < m.pos {
		return fmt.Errorf("output: sample time %d is behind the clock (%d)", at, m.pos)
	}
	i := sort.Search(len(m.pending), func(i int) bool { return m.pending[i].at > at })
	m.pending = append(m.pending, entry{})
	copy(m.pending[i+1:], m.pending[i:])
	m.pending[i] = entry{at: at, buf: buf}
	return nil
}

// cancelAfter drops entries scheduled at or after at that have not started
// rendering. Entries mid-render keep playing to completion.
func (m *mixer) cancelAfter(at int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.pending[:0]
	for _, e := range m.pending {
		if e.at >= at && e.off == 0 {
			continue
		}
		kept = append(kept, e)
	}
	m.pending = kept
}

// pendingCount reports entries not yet fully rendered.
func (m *mixer) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// renderInto zeroes frame, mixes every overlapping entry into it with
// saturation, and advances the clock by len(frame) samples.
func (m *mixer) renderInto(frame []int16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range frame {
		frame[i] = 0
	}
	start := m.pos
	end := m.pos + int64(len(frame))

	kept := m.pending[:0]
	for _, e := range m.pending {
		if e.at >= end {
			kept = append(kept, e)
			continue
		}
		from := e.at + int64(e.off)
		if from < start {
			// Clock jumped past part of this buffer; skip what was missed.
			e.off += int(start - from)
			from = start
		}
		fi := int(from - start)
		for fi < len(frame) && e.off < len(e.buf) {
			mixed := int32(frame[fi]) + int32(e.buf[e.off])
			if mixed > 32767 {
				mixed = 32767
			} else if mixed < -32768 {
				mixed = -32768
			}
			frame[fi] = int16(mixed)
			fi++
			e.off++
		}
		if e.off < len(e.buf) {
			kept = append(kept, e)
		}
	}
	m.pending = kept
	m.pos = end
}

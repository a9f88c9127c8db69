package metronome

import (
	"sync"
	"time"
)

// BeatEvent is published every time a scheduled beat fires.
type BeatEvent struct {
	Seq        int64     // beat counter within the current playback session
	SampleTime int64     // absolute output-sample time the beat begins at
	At         time.Time // wall-clock moment the event was published
	Haptic     bool      // a haptic pulse accompanied this beat
}

// Feed fans out beat events from the engine to any number of observers.
type Feed struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// Subscription receives beat events from a Feed.
type Subscription struct {
	C    chan BeatEvent
	done chan struct{}
}

// Done is closed when the subscription is removed from the feed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// NewFeed creates an empty beat-event feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new observer. The channel holds a few seconds of
// beats; a slow observer loses events rather than delaying the beat.
func (f *Feed) Subscribe() *Subscription {
	s := &Subscription{
		C:    make(chan BeatEvent, 16),
		done: make(chan struct{}),
	}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return s
}

// Unsubscribe removes an observer and signals it to stop.
func (f *Feed) Unsubscribe(s *Subscription) {
	f.mu.Lock()
	_, ok := f.subs[s]
	delete(f.subs, s)
	f.mu.Unlock()
	if ok {
		close(s.done)
	}
}

// SubscriberCount returns the number of active observers.
func (f *Feed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// publish delivers an event to all observers without ever blocking.
func (f *Feed) publish(ev BeatEvent) {
	f.mu.RLock()
	for s := range f.subs {
		select {
		case s.C <- ev:
		default:
			// observer too slow, drop to keep the beat on time
		}
	}
	f.mu.RUnlock()
}

package events

import (
	"context"
	"sync"
)

// Published is one captured event.
type Published struct {
	Topic   string
	Payload interface{}
}

// Recorder keeps published events in memory. Tests use it to assert on
// emitted events.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

func (r *Recorder) Publish(_ context.Context, topic string, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Topic: topic, Payload: payload})
}

// Events returns a snapshot of everything published so far.
func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Published, len(r.events))
	copy(out, r.events)
	return out
}

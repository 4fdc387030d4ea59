// Package events publishes committed record changes.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// Event is the wire form of one committed change.
type Event struct {
	Mutation  string         `json:"mutation"`
	Action    store.Action   `json:"action"`
	Kind      string         `json:"kind"`
	Key       string         `json:"key"`
	Version   int64          `json:"version,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Publisher receives the changes of every committed mutation.
type Publisher interface {
	Publish(ctx context.Context, mutation string, changes []store.Change) error
}

// NewEvents converts changes into events. Deletes carry the removed record's fields.
func NewEvents(mutation string, changes []store.Change, now time.Time) []Event {
	ts := now.UTC().Format(time.RFC3339Nano)
	out := make([]Event, 0, len(changes))
	for _, ch := range changes {
		ev := Event{
			Mutation:  mutation,
			Action:    ch.Action,
			Kind:      ch.Kind,
			Key:       string(ch.Key),
			Timestamp: ts,
		}
		switch {
		case ch.After != nil:
			ev.Version = ch.After.Version
			ev.Fields = ch.After.Fields
		case ch.Before != nil:
			ev.Version = ch.Before.Version
			ev.Fields = ch.Before.Fields
		}
		out = append(out, ev)
	}
	return out
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, mutation string, changes []store.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, NewEvents(mutation, changes, time.Now())...)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(context.Context, string, []store.Change) error { return nil }

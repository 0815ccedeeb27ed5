package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Label names the kind of mutation a PostEvent reports.
type Label string

const (
	LabelCreate Label = "CREATE"
	LabelUpdate Label = "UPDATE"
	LabelDelete Label = "DELETE"
)

// PostEvent is emitted once per successful post mutation, after commit.
type PostEvent struct {
	Label      Label    `json:"label"`
	Blog       Address  `json:"blog"`
	PostID     Address  `json:"post_id"`
	NextPostID *Address `json:"next_post_id"`
}

func (ev PostEvent) String() string {
	if ev.NextPostID != nil {
		return fmt.Sprintf("%s(%s, next=%s)", ev.Label, ev.PostID.Short(), ev.NextPostID.Short())
	}
	return fmt.Sprintf("%s(%s)", ev.Label, ev.PostID.Short())
}

// Sink receives committed events.
type Sink interface {
	Emit(ctx context.Context, ev PostEvent) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, ev PostEvent) error

func (f SinkFunc) Emit(ctx context.Context, ev PostEvent) error { return f(ctx, ev) }

// Notifier delivers each event to every sink in registration order. A sink
// failure is logged and does not stop delivery to later sinks; the mutation
// is already committed.
type Notifier struct {
	sinks []Sink
	log   zerolog.Logger
}

// NewNotifier returns a Notifier over sinks.
func NewNotifier(log zerolog.Logger, sinks ...Sink) *Notifier {
	return &Notifier{sinks: sinks, log: log}
}

// Subscribe appends a sink.
func (n *Notifier) Subscribe(s Sink) {
	n.sinks = append(n.sinks, s)
}

// Notify emits ev to every sink.
func (n *Notifier) Notify(ctx context.Context, ev PostEvent) {
	for _, s := range n.sinks {
		if err := s.Emit(ctx, ev); err != nil {
			n.log.Error().Err(err).Str("event", ev.String()).Msg("event sink failed")
		}
	}
}

// Recorder is a Sink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []PostEvent
}

func (r *Recorder) Emit(_ context.Context, ev PostEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []PostEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PostEvent(nil), r.events...)
}

func createEvent(blog, post Address) PostEvent {
	return PostEvent{Label: LabelCreate, Blog: blog, PostID: post}
}

func updateEvent(blog, post Address) PostEvent {
	return PostEvent{Label: LabelUpdate, Blog: blog, PostID: post}
}

func deleteEvent(blog, post Address, next *Address) PostEvent {
	return PostEvent{Label: LabelDelete, Blog: blog, PostID: post, NextPostID: next}
}

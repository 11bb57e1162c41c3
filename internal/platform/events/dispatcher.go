package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBuffer = 256
	sinkTimeout   = 5 * time.Second
)

// Hooks observe dispatcher outcomes; nil hooks are skipped.
type Hooks struct {
	OnDrop      func(e Event)
	OnSinkError func(sink string, e Event, err error)
	OnDelivered func(sink string, e Event)
}

// Dispatcher fans events out to sinks from a single worker goroutine. Publish
// never blocks: when the buffer is full the event is dropped and counted.
type Dispatcher struct {
	log   zerolog.Logger
	sinks []Sink
	hooks Hooks

	mu      sync.RWMutex
	closed  bool
	ch      chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

// NewDispatcher starts the worker. Close must be called to stop it.
func NewDispatcher(log zerolog.Logger, buffer int, hooks Hooks, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	d := &Dispatcher{
		log:   log.With().Str("component", "events").Logger(),
		sinks: sinks,
		hooks: hooks,
		ch:    make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish enqueues e. Events published after Close are dropped.
func (d *Dispatcher) Publish(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(e)
		return
	}
	select {
	case d.ch <- e:
	default:
		d.drop(e)
	}
}

func (d *Dispatcher) drop(e Event) {
	d.dropped.Add(1)
	d.log.Warn().Str("event_id", e.ID).Str("kind", string(e.Kind)).Msg("event dropped")
	if d.hooks.OnDrop != nil {
		d.hooks.OnDrop(e)
	}
}

// Dropped returns how many events were discarded.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events, delivers everything already queued and
// waits for the worker to exit. It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.ch {
		for _, s := range d.sinks {
			d.deliver(s, e)
		}
	}
}

func (d *Dispatcher) deliver(s Sink, e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := s.Handle(ctx, e); err != nil {
		d.log.Error().Err(err).
			Str("sink", s.Name()).
			Str("event_id", e.ID).
			Str("kind", string(e.Kind)).
			Msg("event sink failed")
		if d.hooks.OnSinkError != nil {
			d.hooks.OnSinkError(s.Name(), e, err)
		}
		return
	}
	if d.hooks.OnDelivered != nil {
		d.hooks.OnDelivered(s.Name(), e)
	}
}

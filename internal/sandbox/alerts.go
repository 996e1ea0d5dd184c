package sandbox

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventKind classifies notifier events.
type EventKind string

const (
	EventFill             EventKind = "fill"
	EventSquareOffWarning EventKind = "squareoff_warning"
	EventSquareOff        EventKind = "squareoff"
	EventReset            EventKind = "reset"
	EventFunds            EventKind = "funds"
)

// Event is a user-facing notification about account activity.
type Event struct {
	Account string
	Kind    EventKind
	Message string
	At      time.Time
}

// Sink receives delivered events. Delivery happens on the notifier's own
// goroutine, never on a trading path.
type Sink interface {
	Deliver(e Event)
}

// LogSink writes events to the structured log.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Deliver(e Event) {
	s.Logger.Info().
		Str("account", e.Account).
		Str("kind", string(e.Kind)).
		Msg(e.Message)
}

// Notifier fans events out to sinks through a bounded queue. Notify never
// blocks a caller: when the queue is full the event is dropped and counted.
type Notifier struct {
	events  chan Event
	sinks   []Sink
	logger  zerolog.Logger
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	dropped int
}

// NewNotifier starts a notifier with the given queue depth and sinks.
func NewNotifier(depth int, logger zerolog.Logger, sinks ...Sink) *Notifier {
	if depth <= 0 {
		depth = 64
	}
	n := &Notifier{
		events: make(chan Event, depth),
		sinks:  sinks,
		logger: logger.With().Str("component", "notifier").Logger(),
		done:   make(chan struct{}),
	}
	go n.consume()
	return n
}

// Notify enqueues an event without blocking.
func (n *Notifier) Notify(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case n.events <- e:
	default:
		n.mu.Lock()
		n.dropped++
		dropped := n.dropped
		n.mu.Unlock()
		n.logger.Warn().
			Str("kind", string(e.Kind)).
			Int("dropped_total", dropped).
			Msg("Notification queue full, dropping event")
	}
}

// Dropped returns how many events have been dropped since start.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Close stops the notifier after draining queued events.
func (n *Notifier) Close() {
	n.once.Do(func() {
		close(n.events)
		<-n.done
	})
}

func (n *Notifier) consume() {
	defer close(n.done)
	for e := range n.events {
		for _, s := range n.sinks {
			s.Deliver(e)
		}
	}
}

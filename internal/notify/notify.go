// Package notify fans engine events out to external sinks: a Telegram
// bot and generic signed webhooks. Delivery is asynchronous and
// best-effort; a dead sink never stalls the engine loop.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/sweepd/sweepd/internal/opportunity"
	"github.com/sweepd/sweepd/internal/submit"
)

// EventType discriminates Event payloads.
type EventType string

const (
	EventAttempt     EventType = "attempt"
	EventOpportunity EventType = "opportunity"
)

// Event is one notification. Exactly one payload field is set,
// according to Type.
type Event struct {
	Type        EventType                 `json:"type"`
	At          time.Time                 `json:"at"`
	Attempt     *submit.Attempt           `json:"attempt,omitempty"`
	Opportunity *opportunity.Opportunity  `json:"opportunity,omitempty"`
}

// Notifier delivers one event to one sink.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// Dispatcher queues events and delivers them to every notifier from a
// single worker goroutine. A full queue drops the event with a warning
// rather than blocking the caller.
type Dispatcher struct {
	notifiers []Notifier
	ch        chan Event
	stop      chan struct{}
	done      chan struct{}
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher starts the delivery worker.
func NewDispatcher(notifiers []Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		notifiers: notifiers,
		ch:        make(chan Event, 64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		timeout:   15 * time.Second,
		logger:    logger,
		now:       time.Now,
	}
	go d.deliverLoop()
	return d
}

// AttemptRecorded queues an attempt outcome. Satisfies the tracker's
// sink interface.
func (d *Dispatcher) AttemptRecorded(_ context.Context, att *submit.Attempt) {
	d.enqueue(Event{Type: EventAttempt, At: d.now(), Attempt: att})
}

// OpportunityDiscovered queues a newly discovered opportunity.
func (d *Dispatcher) OpportunityDiscovered(_ context.Context, opp *opportunity.Opportunity) {
	d.enqueue(Event{Type: EventOpportunity, At: d.now(), Opportunity: opp})
}

// Close stops the worker after draining queued events.
func (d *Dispatcher) Close() {
	close(d.stop)
	<-d.done
}

func (d *Dispatcher) enqueue(ev Event) {
	select {
	case d.ch <- ev:
	default:
		d.logger.Warn("notify: queue full, event dropped", "type", string(ev.Type))
	}
}

func (d *Dispatcher) deliverLoop() {
	defer close(d.done)
	for {
		select {
		case ev := <-d.ch:
			d.deliver(ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.ch:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	for _, n := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := n.Notify(ctx, ev); err != nil {
			d.logger.Warn("notify: delivery failed", "sink", n.Name(), "type", string(ev.Type), "error", err)
		}
		cancel()
	}
}

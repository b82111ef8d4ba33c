// Package bus implements the EventBus described in spec §4.2: an in-process
// publish/subscribe registry from user identity to an outbound event
// channel. It is touched only by the App task (internal/app), so unlike the
// teacher's internal/v1/bus.Service — which guarded a Redis pub/sub client
// used from many goroutines — this EventBus takes no lock at all.
package bus

import (
	"errors"
	"fmt"

	"github.com/tjweldon/marain/internal/domain"
	"github.com/tjweldon/marain/internal/metrics"
)

// ErrDoubleSubscription is returned by Subscribe when a user is already
// registered.
var ErrDoubleSubscription = errors.New("bus: user already subscribed")

// ErrNotSubscribed is returned by Unsubscribe when a user is not registered.
var ErrNotSubscribed = errors.New("bus: user not subscribed")

// EventBus fans published events out to per-user subscriber channels.
type EventBus struct {
	sinks map[domain.UserID]chan<- Event
}

// New creates an empty EventBus.
func New() *EventBus {
	return &EventBus{sinks: make(map[domain.UserID]chan<- Event)}
}

// Subscribe registers user -> sink. Fails with ErrDoubleSubscription when
// the user is already present.
func (b *EventBus) Subscribe(user domain.UserID, sink chan<- Event) error {
	if _, ok := b.sinks[user]; ok {
		return fmt.Errorf("%w: %s", ErrDoubleSubscription, user)
	}
	b.sinks[user] = sink
	return nil
}

// Unsubscribe removes the entry for user. Fails with ErrNotSubscribed when
// absent.
func (b *EventBus) Unsubscribe(user domain.UserID) error {
	if _, ok := b.sinks[user]; !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, user)
	}
	delete(b.sinks, user)
	return nil
}

// IsSubscribed reports whether user currently has a registered sink.
func (b *EventBus) IsSubscribed(user domain.UserID) bool {
	_, ok := b.sinks[user]
	return ok
}

// Publish sends event to every recipient, in order, that is currently
// subscribed. A recipient whose sink is full or closed has the event
// dropped for them. Publish never blocks: every send is non-blocking, and
// sinks are buffered (see internal/session) so a briefly slow recipient
// does not lose events.
func (b *EventBus) Publish(event Event, recipients []domain.UserID) {
	for _, user := range recipients {
		sink, ok := b.sinks[user]
		if !ok {
			metrics.BroadcastsDropped.WithLabelValues("not_subscribed").Inc()
			continue
		}
		func() {
			// A send on a closed sink panics; count it as a drop instead.
			defer func() {
				if recover() != nil {
					metrics.BroadcastsDropped.WithLabelValues("sink_closed").Inc()
				}
			}()
			select {
			case sink <- event:
			default:
				// Slow or dead subscriber: drop rather than block the App loop.
				metrics.BroadcastsDropped.WithLabelValues("sink_full").Inc()
			}
		}()
	}
}

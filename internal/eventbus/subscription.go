package eventbus

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ledgersync/ledgersync/types"
)

// ReconfigNotification tells a subscriber that the on-chain configuration
// changed at Version.
type ReconfigNotification struct {
	Version types.Version
}

// EventNotification carries the events matching a subscription that were
// emitted at Version.
type EventNotification struct {
	Version types.Version
	Events  []types.ContractEvent
}

// ReconfigSubscription receives reconfiguration notifications. Only the
// latest notification is kept: a subscriber that falls behind skips straight
// to the newest configuration.
type ReconfigSubscription struct {
	id  string
	out chan ReconfigNotification
}

func newReconfigSubscription() *ReconfigSubscription {
	return &ReconfigSubscription{
		id:  uuid.NewString(),
		out: make(chan ReconfigNotification, 1),
	}
}

func (s *ReconfigSubscription) ID() string { return s.id }

// Out returns the channel notifications are published on.
func (s *ReconfigSubscription) Out() <-chan ReconfigNotification { return s.out }

func (s *ReconfigSubscription) publish(n ReconfigNotification) {
	for {
		select {
		case s.out <- n:
			return
		default:
		}

		// drop the stale notification and retry
		select {
		case <-s.out:
		default:
		}
	}
}

// EventSubscription receives the events emitted under a set of keys. At most
// capacity notifications are buffered; the oldest are dropped first.
type EventSubscription struct {
	id   string
	keys map[types.EventKey]struct{}
	out  chan EventNotification
}

func newEventSubscription(keys []types.EventKey, capacity int) *EventSubscription {
	set := make(map[types.EventKey]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}

	return &EventSubscription{
		id:   uuid.NewString(),
		keys: set,
		out:  make(chan EventNotification, capacity),
	}
}

func (s *EventSubscription) ID() string { return s.id }

// Out returns the channel notifications are published on.
func (s *EventSubscription) Out() <-chan EventNotification { return s.out }

func (s *EventSubscription) matches(event types.ContractEvent) bool {
	_, ok := s.keys[event.Key]
	return ok
}

func (s *EventSubscription) publish(n EventNotification) {
	for {
		select {
		case s.out <- n:
			return
		default:
		}

		select {
		case <-s.out:
		default:
		}
	}
}

func (s *EventSubscription) String() string {
	return fmt.Sprintf("EventSubscription{id: %s, keys: %d}", s.id, len(s.keys))
}

// Package eventbus delivers on-chain events and reconfiguration notifications
// to the components that subscribed to them.
package eventbus

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ledgersync/ledgersync/libs/log"
	"github.com/ledgersync/ledgersync/types"
)

// DefaultEventCapacity is the number of event notifications buffered per
// subscription.
const DefaultEventCapacity = 100

var (
	// ErrNoEventKeys is returned when subscribing to an empty set of keys.
	ErrNoEventKeys = errors.New("no event keys to subscribe to")

	// ErrUnknownSubscription is returned when unsubscribing an unknown id.
	ErrUnknownSubscription = errors.New("unknown subscription")

	// ErrVersionRegression is returned when events are notified for a
	// version lower than a previous notification.
	ErrVersionRegression = errors.New("event notification version went backwards")
)

// EventSubscriptionService fans committed events out to subscribers.
//
// The service itself is not safe for concurrent use. Components sharing it
// hold it through a Shared.
type EventSubscriptionService struct {
	logger log.Logger

	reconfigSubscriptions map[string]*ReconfigSubscription
	eventSubscriptions    map[string]*EventSubscription

	hasNotified   bool
	latestVersion types.Version
}

// NewEventSubscriptionService returns an empty service.
func NewEventSubscriptionService(logger log.Logger) *EventSubscriptionService {
	return &EventSubscriptionService{
		logger:                logger.With("module", "eventbus"),
		reconfigSubscriptions: make(map[string]*ReconfigSubscription),
		eventSubscriptions:    make(map[string]*EventSubscription),
	}
}

// SubscribeToReconfigurations returns a subscription notified on every new
// epoch.
func (s *EventSubscriptionService) SubscribeToReconfigurations() *ReconfigSubscription {
	sub := newReconfigSubscription()
	s.reconfigSubscriptions[sub.ID()] = sub
	return sub
}

// SubscribeToEvents returns a subscription notified of every event emitted
// under one of keys.
func (s *EventSubscriptionService) SubscribeToEvents(keys ...types.EventKey) (*EventSubscription, error) {
	if len(keys) == 0 {
		return nil, ErrNoEventKeys
	}

	sub := newEventSubscription(keys, DefaultEventCapacity)
	s.eventSubscriptions[sub.ID()] = sub
	return sub, nil
}

// Unsubscribe removes the subscription with the given id.
func (s *EventSubscriptionService) Unsubscribe(id string) error {
	if _, ok := s.reconfigSubscriptions[id]; ok {
		delete(s.reconfigSubscriptions, id)
		return nil
	}
	if _, ok := s.eventSubscriptions[id]; ok {
		delete(s.eventSubscriptions, id)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownSubscription, id)
}

// NotifyEvents publishes the events committed at version. Reconfiguration
// subscribers are notified when any of the events starts a new epoch.
func (s *EventSubscriptionService) NotifyEvents(version types.Version, events []types.ContractEvent) error {
	if s.hasNotified && version < s.latestVersion {
		return fmt.Errorf("%w: got %d, latest %d", ErrVersionRegression, version, s.latestVersion)
	}
	s.hasNotified = true
	s.latestVersion = version

	reconfiguration := false
	for _, event := range events {
		if event.IsReconfiguration() {
			reconfiguration = true
		}
	}

	for _, sub := range s.eventSubscriptions {
		var matched []types.ContractEvent
		for _, event := range events {
			if sub.matches(event) {
				matched = append(matched, event)
			}
		}
		if len(matched) > 0 {
			sub.publish(EventNotification{Version: version, Events: matched})
		}
	}

	if reconfiguration {
		s.notifyReconfiguration(version)
	}

	return nil
}

// NotifyInitialConfigs sends the configuration at version to every
// reconfiguration subscriber. It is called once the node knows its starting
// state.
func (s *EventSubscriptionService) NotifyInitialConfigs(version types.Version) error {
	s.hasNotified = true
	s.latestVersion = version

	s.notifyReconfiguration(version)
	return nil
}

func (s *EventSubscriptionService) notifyReconfiguration(version types.Version) {
	s.logger.Info("notifying reconfiguration",
		"version", version,
		"subscribers", len(s.reconfigSubscriptions))

	for _, sub := range s.reconfigSubscriptions {
		sub.publish(ReconfigNotification{Version: version})
	}
}

// Shared guards an EventSubscriptionService that is used from several
// goroutines. The service is only reachable through Do, so it can't be held
// past the critical section.
type Shared struct {
	mtx     sync.Mutex
	service *EventSubscriptionService
}

// NewShared wraps service.
func NewShared(service *EventSubscriptionService) *Shared {
	return &Shared{service: service}
}

// Do runs fn with exclusive access to the service.
func (s *Shared) Do(fn func(*EventSubscriptionService) error) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return fn(s.service)
}

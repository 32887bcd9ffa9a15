package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/ledgersync/libs/log"
	"github.com/ledgersync/ledgersync/types"
)

const depositKey types.EventKey = "0x1::coin::Deposit"

func TestNotifyEventsMatchesKeys(t *testing.T) {
	svc := NewEventSubscriptionService(log.NewNopLogger())

	deposits, err := svc.SubscribeToEvents(depositKey)
	require.NoError(t, err)

	_, err = svc.SubscribeToEvents()
	require.ErrorIs(t, err, ErrNoEventKeys)

	events := []types.ContractEvent{
		{Key: depositKey, SequenceNumber: 1},
		{Key: "0x1::coin::Withdraw", SequenceNumber: 1},
		{Key: depositKey, SequenceNumber: 2},
	}
	require.NoError(t, svc.NotifyEvents(10, events))

	require.Len(t, deposits.Out(), 1)
	n := <-deposits.Out()
	assert.EqualValues(t, 10, n.Version)
	assert.Equal(t, []types.ContractEvent{events[0], events[2]}, n.Events)

	// nothing matches
	require.NoError(t, svc.NotifyEvents(11, events[1:2]))
	require.Len(t, deposits.Out(), 0)
}

func TestReconfigurationKeepsLatest(t *testing.T) {
	svc := NewEventSubscriptionService(log.NewNopLogger())
	reconfigs := svc.SubscribeToReconfigurations()

	require.NoError(t, svc.NotifyInitialConfigs(0))

	// no reconfiguration event
	require.NoError(t, svc.NotifyEvents(5, []types.ContractEvent{{Key: depositKey}}))

	require.NoError(t, svc.NotifyEvents(7, []types.ContractEvent{{Key: types.NewEpochEventKey}}))
	require.NoError(t, svc.NotifyEvents(9, []types.ContractEvent{{Key: types.NewEpochEventKey}}))

	require.Len(t, reconfigs.Out(), 1)
	assert.EqualValues(t, 9, (<-reconfigs.Out()).Version)
}

func TestNotifyEventsRejectsVersionRegression(t *testing.T) {
	svc := NewEventSubscriptionService(log.NewNopLogger())

	require.NoError(t, svc.NotifyEvents(10, nil))
	require.NoError(t, svc.NotifyEvents(10, nil))
	require.ErrorIs(t, svc.NotifyEvents(9, nil), ErrVersionRegression)
}

func TestUnsubscribe(t *testing.T) {
	svc := NewEventSubscriptionService(log.NewNopLogger())

	reconfigs := svc.SubscribeToReconfigurations()
	deposits, err := svc.SubscribeToEvents(depositKey)
	require.NoError(t, err)
	require.NotEqual(t, reconfigs.ID(), deposits.ID())

	require.NoError(t, svc.Unsubscribe(reconfigs.ID()))
	require.NoError(t, svc.Unsubscribe(deposits.ID()))
	require.ErrorIs(t, svc.Unsubscribe(deposits.ID()), ErrUnknownSubscription)

	require.NoError(t, svc.NotifyEvents(1, []types.ContractEvent{{Key: types.NewEpochEventKey}, {Key: depositKey}}))
	require.Len(t, reconfigs.Out(), 0)
	require.Len(t, deposits.Out(), 0)
}

func TestEventSubscriptionDropsOldest(t *testing.T) {
	svc := NewEventSubscriptionService(log.NewNopLogger())
	deposits, err := svc.SubscribeToEvents(depositKey)
	require.NoError(t, err)

	for v := types.Version(0); v < DefaultEventCapacity+5; v++ {
		require.NoError(t, svc.NotifyEvents(v, []types.ContractEvent{{Key: depositKey}}))
	}

	require.Len(t, deposits.Out(), DefaultEventCapacity)
	assert.EqualValues(t, 5, (<-deposits.Out()).Version)
}

func TestSharedSerializesAccess(t *testing.T) {
	shared := NewShared(NewEventSubscriptionService(log.NewNopLogger()))

	var sub *EventSubscription
	require.NoError(t, shared.Do(func(svc *EventSubscriptionService) (err error) {
		sub, err = svc.SubscribeToEvents(depositKey)
		return err
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = shared.Do(func(svc *EventSubscriptionService) error {
				svc.SubscribeToReconfigurations()
				return nil
			})
		}()
	}
	wg.Wait()

	require.NoError(t, shared.Do(func(svc *EventSubscriptionService) error {
		require.Len(t, svc.reconfigSubscriptions, 10)
		return svc.NotifyEvents(1, []types.ContractEvent{{Key: depositKey}})
	}))
	require.Len(t, sub.Out(), 1)
}

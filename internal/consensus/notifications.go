// Package consensus carries the notifications consensus sends to state sync
// and the responses state sync sends back.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ledgersync/ledgersync/types"
)

var (
	// ErrCallbackSendFailed is returned when a response can't be delivered
	// because the notification was already answered.
	ErrCallbackSendFailed = errors.New("failed to send the notification response")

	// ErrTimeout is returned when state sync doesn't answer a notification
	// in time.
	ErrTimeout = errors.New("timed out waiting for state sync")
)

// defaultNotificationBuffer is the capacity of the notification channel.
const defaultNotificationBuffer = 10

// ConsensusNotification is either a *CommitNotification or a
// *SyncNotification.
type ConsensusNotification interface {
	consensusNotification()
}

// CommitNotification announces transactions committed by consensus.
type CommitNotification struct {
	Transactions          []types.Transaction
	ReconfigurationEvents []types.ContractEvent

	callback  chan error
	responded atomic.Bool
}

func (*CommitNotification) consensusNotification() {}

func (n *CommitNotification) String() string {
	return fmt.Sprintf("CommitNotification{transactions: %d, reconfiguration_events: %d}",
		len(n.Transactions), len(n.ReconfigurationEvents))
}

// SyncNotification asks state sync to catch up to Target.
type SyncNotification struct {
	Target types.LedgerInfoWithSignatures

	callback  chan error
	responded atomic.Bool
}

func (*SyncNotification) consensusNotification() {}

func (n *SyncNotification) String() string {
	return fmt.Sprintf("SyncNotification{target: %v}", n.Target)
}

// NewCommitNotification returns a commit notification that can be answered
// exactly once.
func NewCommitNotification(txns []types.Transaction, events []types.ContractEvent) *CommitNotification {
	return &CommitNotification{
		Transactions:          txns,
		ReconfigurationEvents: events,
		callback:              make(chan error, 1),
	}
}

// NewSyncNotification returns a sync notification for target.
func NewSyncNotification(target types.LedgerInfoWithSignatures) *SyncNotification {
	return &SyncNotification{
		Target:   target,
		callback: make(chan error, 1),
	}
}

// ConsensusNotifier is used by consensus to notify state sync. Every call
// blocks until state sync responds or the timeout expires.
type ConsensusNotifier struct {
	notifications chan<- ConsensusNotification
	timeout       time.Duration
}

// ConsensusNotificationListener is used by state sync to receive and answer
// consensus notifications.
type ConsensusNotificationListener struct {
	notifications <-chan ConsensusNotification
}

// NewConsensusNotifierAndListener returns a connected notifier and listener.
// A zero timeout waits until the context is done.
func NewConsensusNotifierAndListener(timeout time.Duration) (*ConsensusNotifier, *ConsensusNotificationListener) {
	ch := make(chan ConsensusNotification, defaultNotificationBuffer)
	return &ConsensusNotifier{notifications: ch, timeout: timeout},
		&ConsensusNotificationListener{notifications: ch}
}

// NotifyNewCommit notifies state sync of newly committed transactions and
// the reconfiguration events they emitted.
func (n *ConsensusNotifier) NotifyNewCommit(
	ctx context.Context,
	txns []types.Transaction,
	events []types.ContractEvent,
) error {
	// nothing to notify
	if len(txns) == 0 {
		return nil
	}

	notification := NewCommitNotification(txns, events)
	return n.send(ctx, notification, notification.callback)
}

// SyncToTarget asks state sync to sync to target and blocks until the
// target is reached or the request fails.
func (n *ConsensusNotifier) SyncToTarget(ctx context.Context, target types.LedgerInfoWithSignatures) error {
	notification := NewSyncNotification(target)
	return n.send(ctx, notification, notification.callback)
}

func (n *ConsensusNotifier) send(ctx context.Context, notification ConsensusNotification, callback <-chan error) error {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	select {
	case n.notifications <- notification:
	case <-ctx.Done():
		return fmt.Errorf("%w: sending %v: %v", ErrTimeout, notification, ctx.Err())
	}

	select {
	case err := <-callback:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: awaiting response to %v: %v", ErrTimeout, notification, ctx.Err())
	}
}

// Notifications returns the channel consensus notifications are delivered on.
func (l *ConsensusNotificationListener) Notifications() <-chan ConsensusNotification {
	return l.notifications
}

// RespondToCommitNotification answers a commit notification. A nil result
// means success.
func (l *ConsensusNotificationListener) RespondToCommitNotification(n *CommitNotification, result error) error {
	return respond(n.callback, &n.responded, result)
}

// RespondToSyncNotification answers a sync notification. A nil result means
// the target was reached.
func (l *ConsensusNotificationListener) RespondToSyncNotification(n *SyncNotification, result error) error {
	return respond(n.callback, &n.responded, result)
}

func respond(callback chan error, responded *atomic.Bool, result error) error {
	if !responded.CompareAndSwap(false, true) {
		return ErrCallbackSendFailed
	}

	select {
	case callback <- result:
		return nil
	default:
		return ErrCallbackSendFailed
	}
}

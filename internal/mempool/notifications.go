// Package mempool carries commit notifications from state sync to mempool so
// that mempool can evict committed transactions.
package mempool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrAckTimeout is returned when mempool doesn't acknowledge a commit
// notification in time.
var ErrAckTimeout = errors.New("timed out waiting for mempool to acknowledge the commit")

// ErrAlreadyAcknowledged is returned when a notification is acknowledged
// twice.
var ErrAlreadyAcknowledged = errors.New("commit notification already acknowledged")

const defaultNotificationBuffer = 100

// CommittedTransaction identifies a committed user transaction.
type CommittedTransaction struct {
	Sender         string
	SequenceNumber uint64
}

func (tx CommittedTransaction) String() string {
	return fmt.Sprintf("%s:%d", tx.Sender, tx.SequenceNumber)
}

// CommitNotification is delivered to mempool for every batch of committed
// transactions, in commit order.
type CommitNotification struct {
	Transactions        []CommittedTransaction
	BlockTimestampUsecs uint64

	ack   chan struct{}
	acked atomic.Bool
}

// MempoolNotificationSender notifies mempool of newly committed transactions.
type MempoolNotificationSender interface {
	NotifyNewCommits(ctx context.Context, txns []CommittedTransaction, blockTimestampUsecs uint64) error
}

// MempoolNotifier is the state sync side of the mempool channel.
type MempoolNotifier struct {
	notifications chan<- *CommitNotification
	ackTimeout    time.Duration
}

var _ MempoolNotificationSender = (*MempoolNotifier)(nil)

// MempoolNotificationListener is the mempool side of the channel.
type MempoolNotificationListener struct {
	notifications <-chan *CommitNotification
}

// NewMempoolNotifier returns a connected notifier and listener. Every
// notification sent must be acknowledged by the listener within ackTimeout.
// A zero timeout waits until the context is done.
func NewMempoolNotifier(ackTimeout time.Duration) (*MempoolNotifier, *MempoolNotificationListener) {
	ch := make(chan *CommitNotification, defaultNotificationBuffer)
	return &MempoolNotifier{notifications: ch, ackTimeout: ackTimeout},
		&MempoolNotificationListener{notifications: ch}
}

// NotifyNewCommits sends the committed transactions to mempool and waits for
// the acknowledgement. Empty batches are not sent.
func (n *MempoolNotifier) NotifyNewCommits(
	ctx context.Context,
	txns []CommittedTransaction,
	blockTimestampUsecs uint64,
) error {
	if len(txns) == 0 {
		return nil
	}

	if n.ackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.ackTimeout)
		defer cancel()
	}

	notification := &CommitNotification{
		Transactions:        txns,
		BlockTimestampUsecs: blockTimestampUsecs,
		ack:                 make(chan struct{}),
	}

	select {
	case n.notifications <- notification:
	case <-ctx.Done():
		return fmt.Errorf("%w: mempool is not receiving notifications: %v", ErrAckTimeout, ctx.Err())
	}

	select {
	case <-notification.ack:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrAckTimeout, ctx.Err())
	}
}

// Notifications returns the channel commit notifications are delivered on.
func (l *MempoolNotificationListener) Notifications() <-chan *CommitNotification {
	return l.notifications
}

// Ack acknowledges that mempool processed the notification.
func (l *MempoolNotificationListener) Ack(n *CommitNotification) error {
	if !n.acked.CompareAndSwap(false, true) {
		return ErrAlreadyAcknowledged
	}
	close(n.ack)
	return nil
}

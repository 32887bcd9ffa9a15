package statesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/ledgersync/ledgersync/internal/consensus"
	"github.com/ledgersync/ledgersync/internal/eventbus"
	"github.com/ledgersync/ledgersync/internal/mempool"
	"github.com/ledgersync/ledgersync/internal/streaming"
	"github.com/ledgersync/ledgersync/libs/log"
	"github.com/ledgersync/ledgersync/types"
)

const defaultNotificationCapacity = 100

// CommitNotification is sent by the storage synchronizer after data was
// committed. It is either *CommittedAccounts or *CommittedTransactions.
type CommitNotification interface {
	commitNotification()
}

// CommittedAccounts reports that a chunk of an account snapshot was
// committed. Once every account is synced, CommittedTransaction holds the
// transaction committed at the snapshot version.
type CommittedAccounts struct {
	AllAccountsSynced         bool
	LastCommittedAccountIndex uint64
	CommittedTransaction      *CommittedTransactions
}

// CommittedTransactions reports committed transactions and the events they
// emitted.
type CommittedTransactions struct {
	Events       []types.ContractEvent
	Transactions []types.Transaction
}

func (*CommittedAccounts) commitNotification()     {}
func (*CommittedTransactions) commitNotification() {}

// CommitNotificationListener receives the storage synchronizer's commit
// notifications.
type CommitNotificationListener struct {
	notifications <-chan CommitNotification
}

// NewCommitNotificationChannel returns the sending end used by the storage
// synchronizer and the listener used by the driver.
func NewCommitNotificationChannel() (chan<- CommitNotification, *CommitNotificationListener) {
	ch := make(chan CommitNotification, defaultNotificationCapacity)
	return ch, &CommitNotificationListener{notifications: ch}
}

// Notifications returns the channel commit notifications are delivered on.
func (l *CommitNotificationListener) Notifications() <-chan CommitNotification {
	return l.notifications
}

// ErrorNotification reports that the data of a stream notification could
// not be stored.
type ErrorNotification struct {
	NotificationID streaming.NotificationID
	Err            error
}

func (n ErrorNotification) String() string {
	return fmt.Sprintf("ErrorNotification{id: %d, err: %v}", n.NotificationID, n.Err)
}

// ErrorNotificationListener receives the storage synchronizer's error
// notifications.
type ErrorNotificationListener struct {
	notifications <-chan ErrorNotification
}

// NewErrorNotificationChannel returns the sending end used by the storage
// synchronizer and the listener used by the driver.
func NewErrorNotificationChannel() (chan<- ErrorNotification, *ErrorNotificationListener) {
	ch := make(chan ErrorNotification, defaultNotificationCapacity)
	return ch, &ErrorNotificationListener{notifications: ch}
}

// Notifications returns the channel error notifications are delivered on.
func (l *ErrorNotificationListener) Notifications() <-chan ErrorNotification {
	return l.notifications
}

//-----------------------------------------------------------------------------
// Consensus

// ConsensusSyncRequest is a request from consensus to sync to Target.
type ConsensusSyncRequest struct {
	Target types.LedgerInfoWithSignatures

	// LastCommitTimestamp is refreshed every time data is committed while
	// the request is active.
	LastCommitTimestamp time.Time

	notification *consensus.SyncNotification
}

// SyncTargetVersion returns the version consensus wants to reach.
func (r ConsensusSyncRequest) SyncTargetVersion() types.Version {
	return r.Target.Version()
}

// ConsensusSyncRequestHolder guards the active sync request. The lock is
// only held to copy or update the request, never across a blocking call.
type ConsensusSyncRequestHolder struct {
	mtx     sync.Mutex
	request *ConsensusSyncRequest
}

// Get returns a copy of the active request, or nil if there is none.
func (h *ConsensusSyncRequestHolder) Get() *ConsensusSyncRequest {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.request == nil {
		return nil
	}
	request := *h.request
	return &request
}

// Active reports whether a request is pending.
func (h *ConsensusSyncRequestHolder) Active() bool {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	return h.request != nil
}

// UpdateLastCommitTimestamp refreshes the active request's last commit
// timestamp. The timestamp strictly increases even if the clock doesn't.
func (h *ConsensusSyncRequestHolder) UpdateLastCommitTimestamp(now time.Time) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.request == nil {
		return
	}
	if !now.After(h.request.LastCommitTimestamp) {
		now = h.request.LastCommitTimestamp.Add(time.Nanosecond)
	}
	h.request.LastCommitTimestamp = now
}

func (h *ConsensusSyncRequestHolder) set(request *ConsensusSyncRequest) *ConsensusSyncRequest {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	previous := h.request
	h.request = request
	return previous
}

// take clears the active request and returns it.
func (h *ConsensusSyncRequestHolder) take() *ConsensusSyncRequest {
	return h.set(nil)
}

// ConsensusNotificationHandler answers consensus notifications and tracks
// the sync request consensus is waiting on.
type ConsensusNotificationHandler struct {
	logger      log.Logger
	listener    *consensus.ConsensusNotificationListener
	syncRequest *ConsensusSyncRequestHolder
	clock       clock.Clock
}

// NewConsensusNotificationHandler returns a handler answering through
// listener.
func NewConsensusNotificationHandler(
	logger log.Logger,
	listener *consensus.ConsensusNotificationListener,
	clk clock.Clock,
) *ConsensusNotificationHandler {
	return &ConsensusNotificationHandler{
		logger:      logger,
		listener:    listener,
		syncRequest: &ConsensusSyncRequestHolder{},
		clock:       clk,
	}
}

// Notifications returns the channel consensus notifications are delivered on.
func (h *ConsensusNotificationHandler) Notifications() <-chan consensus.ConsensusNotification {
	return h.listener.Notifications()
}

// ActiveSyncRequest reports whether consensus is waiting on a sync request.
func (h *ConsensusNotificationHandler) ActiveSyncRequest() bool {
	return h.syncRequest.Active()
}

// ConsensusSyncRequest returns the holder of the active sync request.
func (h *ConsensusNotificationHandler) ConsensusSyncRequest() *ConsensusSyncRequestHolder {
	return h.syncRequest
}

// InitializeSyncRequest handles a new sync request given the latest synced
// ledger info. Targets behind the ledger are rejected, targets equal to it
// are answered right away and newer targets become the active request.
func (h *ConsensusNotificationHandler) InitializeSyncRequest(
	notification *consensus.SyncNotification,
	latestSyncedLedgerInfo types.LedgerInfoWithSignatures,
) error {
	latestVersion := latestSyncedLedgerInfo.Version()
	targetVersion := notification.Target.Version()

	if targetVersion < latestVersion {
		err := fmt.Errorf("%w: target version %d is lower than the latest synced version %d",
			ErrOldSyncRequest, targetVersion, latestVersion)
		if rerr := h.RespondToSyncNotification(notification, err); rerr != nil {
			return rerr
		}
		return err
	}

	if targetVersion == latestVersion {
		h.logger.Info("sync target is the latest synced version", "version", targetVersion)
		return h.RespondToSyncNotification(notification, nil)
	}

	previous := h.syncRequest.set(&ConsensusSyncRequest{
		Target:              notification.Target,
		LastCommitTimestamp: h.clock.Now(),
		notification:        notification,
	})
	if previous != nil {
		h.logger.Info("replacing the active sync request",
			"previous_target", previous.SyncTargetVersion(),
			"target", targetVersion)
	}
	return nil
}

// CheckSyncRequestProgress answers the active sync request once the ledger
// has reached its target. Syncing past the target is reported to consensus
// as an error.
func (h *ConsensusNotificationHandler) CheckSyncRequestProgress(latestSyncedLedgerInfo types.LedgerInfoWithSignatures) error {
	request := h.syncRequest.Get()
	if request == nil {
		return nil
	}

	latestVersion := latestSyncedLedgerInfo.Version()
	targetVersion := request.SyncTargetVersion()
	if latestVersion < targetVersion {
		return nil
	}

	// the request is satisfied, only answer it once
	request = h.syncRequest.take()
	if request == nil {
		return nil
	}

	if latestVersion > targetVersion {
		err := fmt.Errorf("%w: synced to version %d, target was %d",
			ErrSyncedBeyondTarget, latestVersion, targetVersion)
		if rerr := h.RespondToSyncNotification(request.notification, err); rerr != nil {
			return rerr
		}
		return err
	}

	h.logger.Info("reached the consensus sync target", "version", targetVersion)
	return h.RespondToSyncNotification(request.notification, nil)
}

// RespondToCommitNotification answers a consensus commit notification.
func (h *ConsensusNotificationHandler) RespondToCommitNotification(
	notification *consensus.CommitNotification,
	result error,
) error {
	if err := h.listener.RespondToCommitNotification(notification, result); err != nil {
		return fmt.Errorf("%w: commit notification: %v", ErrCallbackSendFailed, err)
	}
	return nil
}

// RespondToSyncNotification answers a consensus sync notification.
func (h *ConsensusNotificationHandler) RespondToSyncNotification(
	notification *consensus.SyncNotification,
	result error,
) error {
	if notification == nil {
		return fmt.Errorf("%w: no sync notification to respond to", ErrUnexpectedError)
	}
	if err := h.listener.RespondToSyncNotification(notification, result); err != nil {
		return fmt.Errorf("%w: sync notification: %v", ErrCallbackSendFailed, err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// Mempool

// MempoolNotificationHandler forwards committed user transactions to
// mempool.
type MempoolNotificationHandler struct {
	sender mempool.MempoolNotificationSender
}

// NewMempoolNotificationHandler returns a handler notifying sender.
func NewMempoolNotificationHandler(sender mempool.MempoolNotificationSender) *MempoolNotificationHandler {
	return &MempoolNotificationHandler{sender: sender}
}

// NotifyMempoolOfCommittedTransactions sends the user transactions among
// txns to mempool, in commit order.
func (h *MempoolNotificationHandler) NotifyMempoolOfCommittedTransactions(
	ctx context.Context,
	txns []types.Transaction,
	blockTimestampUsecs uint64,
) error {
	committed := make([]mempool.CommittedTransaction, 0, len(txns))
	for _, txn := range txns {
		if !txn.IsUserTransaction() {
			continue
		}
		committed = append(committed, mempool.CommittedTransaction{
			Sender:         txn.Sender,
			SequenceNumber: txn.SequenceNumber,
		})
	}

	if err := h.sender.NotifyNewCommits(ctx, committed, blockTimestampUsecs); err != nil {
		return fmt.Errorf("%w: %v", ErrNotifyMempoolError, err)
	}
	return nil
}

//-----------------------------------------------------------------------------

// HandleTransactionNotification propagates newly committed transactions:
// mempool is told which transactions were committed, the synced gauges are
// updated and event subscribers receive the events emitted at
// latestSyncedVersion.
func HandleTransactionNotification(
	ctx context.Context,
	events []types.ContractEvent,
	txns []types.Transaction,
	latestSyncedVersion types.Version,
	latestSyncedLedgerInfo types.LedgerInfoWithSignatures,
	mempoolHandler *MempoolNotificationHandler,
	eventService *eventbus.Shared,
	metrics *Metrics,
) error {
	blockTimestampUsecs := latestSyncedLedgerInfo.LedgerInfo.TimestampUsecs
	if err := mempoolHandler.NotifyMempoolOfCommittedTransactions(ctx, txns, blockTimestampUsecs); err != nil {
		return err
	}

	metrics.SyncedVersion.Set(float64(latestSyncedVersion))
	metrics.SyncedEpoch.Set(float64(latestSyncedLedgerInfo.Epoch()))

	err := eventService.Do(func(svc *eventbus.EventSubscriptionService) error {
		return svc.NotifyEvents(latestSyncedVersion, events)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEventNotificationError, err)
	}
	return nil
}

package statesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ledgersync/ledgersync/internal/streaming"
	"github.com/ledgersync/ledgersync/libs/log"
	"github.com/ledgersync/ledgersync/libs/service"
	"github.com/ledgersync/ledgersync/types"
)

// StorageSynchronizer executes and commits the data fetched by the
// bootstrapper and the continuous syncer. Data is committed in the order it
// was queued. Results are reported through commit and error notifications.
//
//go:generate ../../scripts/mockery_generate.sh StorageSynchronizer --inpackage --testonly
type StorageSynchronizer interface {
	// ExecuteTransactions queues txns for execution. If ledgerInfo is set
	// it certifies the last transaction of the batch.
	ExecuteTransactions(
		ctx context.Context,
		notificationID streaming.NotificationID,
		txns types.TransactionListWithProof,
		ledgerInfo *types.LedgerInfoWithSignatures,
	) error

	// InitializeAccountSynchronizer prepares the download of the account
	// snapshot at target. txns holds the transaction committed at the
	// target version; it is committed along with the last account chunk.
	InitializeAccountSynchronizer(target types.LedgerInfoWithSignatures, txns types.TransactionListWithProof) error

	// SaveAccountStates queues a chunk of the account snapshot.
	SaveAccountStates(ctx context.Context, notificationID streaming.NotificationID, chunk types.AccountStatesChunkWithProof) error

	// PendingStorageData reports whether queued data has not been committed
	// yet.
	PendingStorageData() bool
}

type storageData struct {
	notificationID streaming.NotificationID

	// either txns, optionally certified by ledgerInfo, or chunk
	txns       *types.TransactionListWithProof
	ledgerInfo *types.LedgerInfoWithSignatures
	chunk      *types.AccountStatesChunkWithProof
}

type accountSyncTarget struct {
	ledgerInfo types.LedgerInfoWithSignatures
	txns       types.TransactionListWithProof
}

// storageSynchronizer is a two stage pipeline: the executor validates queued
// data and hands it to the committer, which writes it to storage.
type storageSynchronizer struct {
	service.BaseService
	logger  log.Logger
	metrics *Metrics

	storage LedgerStorage

	executeCh chan storageData
	commitCh  chan storageData
	pending   atomic.Int64

	mtx           sync.Mutex
	accountTarget *accountSyncTarget

	commitNotifications chan<- CommitNotification
	errorNotifications  chan<- ErrorNotification

	cancel context.CancelFunc
	group  *errgroup.Group
}

var _ StorageSynchronizer = (*storageSynchronizer)(nil)

func newStorageSynchronizer(
	logger log.Logger,
	metrics *Metrics,
	cfg DriverConfiguration,
	storage LedgerStorage,
	commitNotifications chan<- CommitNotification,
	errorNotifications chan<- ErrorNotification,
) *storageSynchronizer {
	s := &storageSynchronizer{
		logger:              logger,
		metrics:             metrics,
		storage:             storage,
		executeCh:           make(chan storageData, cfg.Config.MaxPendingDataChunks),
		commitCh:            make(chan storageData, cfg.Config.MaxPendingDataChunks),
		commitNotifications: commitNotifications,
		errorNotifications:  errorNotifications,
	}
	s.BaseService = *service.NewBaseService(logger, "StorageSynchronizer", s)
	return s
}

// OnStart starts the executor and committer.
func (s *storageSynchronizer) OnStart(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)

	s.group.Go(func() error { return s.executor(ctx) })
	s.group.Go(func() error { return s.committer(ctx) })
	return nil
}

// OnStop stops the pipeline and waits for both stages to return. Data that
// was not committed yet is dropped.
func (s *storageSynchronizer) OnStop() {
	s.cancel()
	if err := s.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("storage synchronizer stopped with an error", "err", err)
	}
}

func (s *storageSynchronizer) ExecuteTransactions(
	ctx context.Context,
	notificationID streaming.NotificationID,
	txns types.TransactionListWithProof,
	ledgerInfo *types.LedgerInfoWithSignatures,
) error {
	return s.enqueue(ctx, storageData{
		notificationID: notificationID,
		txns:           &txns,
		ledgerInfo:     ledgerInfo,
	})
}

func (s *storageSynchronizer) InitializeAccountSynchronizer(
	target types.LedgerInfoWithSignatures,
	txns types.TransactionListWithProof,
) error {
	if err := txns.ValidateBasic(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if txns.LastVersion() != target.Version() {
		return fmt.Errorf("%w: transactions end at version %d, the account snapshot is at %d",
			ErrInvalidPayload, txns.LastVersion(), target.Version())
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.accountTarget = &accountSyncTarget{ledgerInfo: target, txns: txns}
	return nil
}

func (s *storageSynchronizer) SaveAccountStates(
	ctx context.Context,
	notificationID streaming.NotificationID,
	chunk types.AccountStatesChunkWithProof,
) error {
	s.mtx.Lock()
	target := s.accountTarget
	s.mtx.Unlock()

	if target == nil {
		return fmt.Errorf("%w: the account synchronizer is not initialized", ErrUnexpectedError)
	}
	if chunk.Version != target.ledgerInfo.Version() {
		return fmt.Errorf("%w: account chunk at version %d, the snapshot is at %d",
			ErrInvalidPayload, chunk.Version, target.ledgerInfo.Version())
	}

	return s.enqueue(ctx, storageData{notificationID: notificationID, chunk: &chunk})
}

func (s *storageSynchronizer) PendingStorageData() bool {
	return s.pending.Load() > 0
}

func (s *storageSynchronizer) enqueue(ctx context.Context, data storageData) error {
	s.pending.Add(1)
	select {
	case s.executeCh <- data:
		return nil
	case <-ctx.Done():
		s.pending.Add(-1)
		return ctx.Err()
	}
}

func (s *storageSynchronizer) executor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-s.executeCh:
			if err := s.execute(data); err != nil {
				s.reportError(ctx, data.notificationID, err)
				continue
			}

			select {
			case s.commitCh <- data:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *storageSynchronizer) execute(data storageData) error {
	switch {
	case data.txns != nil:
		if err := data.txns.ValidateBasic(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if li := data.ledgerInfo; li != nil {
			if err := li.ValidateBasic(); err != nil {
				return fmt.Errorf("%w: %v", ErrVerificationError, err)
			}
			if li.Version() != data.txns.LastVersion() {
				return fmt.Errorf("%w: ledger info at version %d doesn't certify version %d",
					ErrVerificationError, li.Version(), data.txns.LastVersion())
			}
		}
		s.metrics.StorageSynchronizerOperations.With("operation", operationExecutedTransactions).Add(1)

	case data.chunk != nil:
		if err := data.chunk.ValidateBasic(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}

	default:
		return fmt.Errorf("%w: empty storage data", ErrUnexpectedError)
	}
	return nil
}

func (s *storageSynchronizer) committer(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-s.commitCh:
			notification, err := s.commit(data)
			if err != nil {
				s.reportError(ctx, data.notificationID, err)
				continue
			}

			select {
			case s.commitNotifications <- notification:
			case <-ctx.Done():
				return ctx.Err()
			}
			s.pending.Add(-1)
		}
	}
}

func (s *storageSynchronizer) commit(data storageData) (CommitNotification, error) {
	if data.txns != nil {
		if err := s.storage.SaveTransactions(*data.txns, data.ledgerInfo); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		s.metrics.StorageSynchronizerOperations.With("operation", operationCommittedTransactions).Add(1)

		return &CommittedTransactions{
			Events:       data.txns.AllEvents(),
			Transactions: data.txns.Transactions,
		}, nil
	}

	chunk := data.chunk
	if err := s.storage.SaveAccountStates(*chunk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	s.metrics.StorageSynchronizerOperations.With("operation", operationCommittedAccounts).Add(1)

	notification := &CommittedAccounts{LastCommittedAccountIndex: chunk.LastIndex}
	if !chunk.IsLastChunk() {
		return notification, nil
	}

	s.mtx.Lock()
	target := s.accountTarget
	s.accountTarget = nil
	s.mtx.Unlock()

	if target == nil {
		return nil, fmt.Errorf("%w: no account sync target to finalize", ErrUnexpectedError)
	}
	if err := s.storage.FinalizeAccountSync(target.txns, target.ledgerInfo); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	s.logger.Info("finished the account states download",
		"version", chunk.Version,
		"total_accounts", chunk.TotalAccounts)

	notification.AllAccountsSynced = true
	notification.CommittedTransaction = &CommittedTransactions{
		Events:       target.txns.AllEvents(),
		Transactions: target.txns.Transactions,
	}
	return notification, nil
}

// reportError drops the failed data and notifies the driver so the stream
// that produced it is terminated.
func (s *storageSynchronizer) reportError(ctx context.Context, id streaming.NotificationID, err error) {
	defer s.pending.Add(-1)

	s.logger.Error("failed to process storage data", "notification_id", id, "err", err)
	s.metrics.StorageSynchronizerErrors.With("error", ErrorLabel(err)).Add(1)

	select {
	case s.errorNotifications <- ErrorNotification{NotificationID: id, Err: err}:
	case <-ctx.Done():
	}
}

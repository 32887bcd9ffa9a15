package statesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgersync/ledgersync/internal/streaming"
	"github.com/ledgersync/ledgersync/libs/log"
	"github.com/ledgersync/ledgersync/types"
)

// ContinuousSyncer keeps a bootstrapped node in sync with the network.
//
//go:generate ../../scripts/mockery_generate.sh ContinuousSyncer --inpackage --testonly
type ContinuousSyncer interface {
	// DriveProgress streams and applies new transactions. If request is set
	// syncing stops at its target.
	DriveProgress(ctx context.Context, request *ConsensusSyncRequest) error

	// TerminateActiveStream terminates the stream that produced
	// notificationID.
	TerminateActiveStream(
		ctx context.Context,
		notificationID streaming.NotificationID,
		feedback streaming.NotificationFeedback,
	) error
}

type continuousStream struct {
	listener    *streaming.DataStreamListener
	nextVersion types.Version
}

type continuousSyncer struct {
	logger log.Logger
	config DriverConfiguration

	storage             StorageReader
	storageSynchronizer StorageSynchronizer
	streamingClient     streaming.StreamingClient

	stream *continuousStream
}

var _ ContinuousSyncer = (*continuousSyncer)(nil)

// NewContinuousSyncer returns a ContinuousSyncer feeding the transactions it
// streams into storageSynchronizer.
func NewContinuousSyncer(
	logger log.Logger,
	cfg DriverConfiguration,
	storage StorageReader,
	storageSynchronizer StorageSynchronizer,
	streamingClient streaming.StreamingClient,
) ContinuousSyncer {
	return &continuousSyncer{
		logger:              logger,
		config:              cfg,
		storage:             storage,
		storageSynchronizer: storageSynchronizer,
		streamingClient:     streamingClient,
	}
}

func (s *continuousSyncer) DriveProgress(ctx context.Context, request *ConsensusSyncRequest) error {
	if s.stream != nil {
		return s.processActiveStream(ctx, request)
	}

	if s.storageSynchronizer.PendingStorageData() {
		s.logger.Debug("waiting for the storage synchronizer to drain before opening a stream")
		return nil
	}

	return s.initializeStream(ctx, request)
}

func (s *continuousSyncer) initializeStream(ctx context.Context, request *ConsensusSyncRequest) error {
	latestLedgerInfo, err := fetchLatestSyncedLedgerInfo(s.storage)
	if err != nil {
		return err
	}
	latestVersion, err := fetchLatestSyncedVersion(s.storage)
	if err != nil {
		return err
	}

	var target *types.LedgerInfoWithSignatures
	if request != nil {
		if request.SyncTargetVersion() <= latestVersion {
			// answered by the next sync request progress check
			return nil
		}
		li := request.Target
		target = &li
	}

	listener, err := s.streamingClient.ContinuouslyStreamTransactions(
		ctx,
		latestVersion,
		latestLedgerInfo.LedgerInfo.NextBlockEpoch(),
		target,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to stream transactions: %v", ErrNoDataStream, err)
	}

	if target != nil {
		s.logger.Info("streaming transactions to the consensus sync target",
			"start_version", latestVersion+1,
			"target_version", target.Version())
	} else {
		s.logger.Info("streaming transactions", "start_version", latestVersion+1)
	}
	s.stream = &continuousStream{
		listener:    listener,
		nextVersion: latestVersion + 1,
	}
	return nil
}

func (s *continuousSyncer) processActiveStream(ctx context.Context, request *ConsensusSyncRequest) error {
	for i := 0; i < s.config.Config.MaxNotificationsPerProgressCheck; i++ {
		timeout := s.config.Config.MaxStreamWaitTime
		if i > 0 {
			timeout = 0
		}

		notification, err := getDataNotification(ctx, timeout, s.stream.listener)
		if err != nil {
			if i > 0 && errors.Is(err, ErrDataStreamTimeout) {
				return nil
			}
			if errors.Is(err, ErrNoDataStream) {
				s.stream = nil
			}
			return err
		}

		if err := s.processNotification(ctx, notification, request); err != nil {
			return err
		}
		if s.stream == nil {
			return nil
		}
	}
	return nil
}

func (s *continuousSyncer) processNotification(
	ctx context.Context,
	notification streaming.DataNotification,
	request *ConsensusSyncRequest,
) error {
	id := notification.NotificationID

	var payload *streaming.TransactionsWithProof
	switch p := notification.Payload.(type) {
	case *streaming.EndOfStream:
		s.logger.Info("reached the end of the stream", "notification_id", id)
		return s.terminate(ctx, id, streaming.EndOfStreamReached, nil)
	case *streaming.TransactionsWithProof:
		payload = p
	default:
		return s.terminate(ctx, id, streaming.PayloadTypeIsIncorrect, payloadTypeError("transactions", p))
	}

	txns := payload.Transactions
	if txns.Len() == 0 {
		return s.terminate(ctx, id, streaming.EmptyPayloadData,
			fmt.Errorf("%w: no transactions", ErrInvalidPayload))
	}
	if txns.FirstVersion != s.stream.nextVersion {
		return s.terminate(ctx, id, streaming.InvalidPayloadStartVersion,
			fmt.Errorf("%w: expected transactions starting at version %d, got %d",
				ErrVerificationError, s.stream.nextVersion, txns.FirstVersion))
	}

	lastVersion := txns.LastVersion()
	if request != nil && lastVersion > request.SyncTargetVersion() {
		return s.terminate(ctx, id, streaming.InvalidPayloadData,
			fmt.Errorf("%w: transactions end at version %d, beyond the sync target %d",
				ErrVerificationError, lastVersion, request.SyncTargetVersion()))
	}

	var ledgerInfo *types.LedgerInfoWithSignatures
	switch proofVersion := payload.LedgerInfo.Version(); {
	case proofVersion < lastVersion:
		return s.terminate(ctx, id, streaming.PayloadProofFailed,
			fmt.Errorf("%w: ledger info at version %d can't prove version %d",
				ErrVerificationError, proofVersion, lastVersion))
	case proofVersion == lastVersion:
		li := payload.LedgerInfo
		ledgerInfo = &li
	}

	if err := s.storageSynchronizer.ExecuteTransactions(ctx, id, txns, ledgerInfo); err != nil {
		return err
	}
	s.stream.nextVersion = lastVersion + 1
	return nil
}

func (s *continuousSyncer) terminate(
	ctx context.Context,
	id streaming.NotificationID,
	feedback streaming.NotificationFeedback,
	cause error,
) error {
	s.stream = nil
	return terminateStream(ctx, s.streamingClient, id, feedback, cause)
}

func (s *continuousSyncer) TerminateActiveStream(
	ctx context.Context,
	notificationID streaming.NotificationID,
	feedback streaming.NotificationFeedback,
) error {
	s.stream = nil
	if err := s.streamingClient.TerminateStream(ctx, notificationID, feedback); err != nil {
		return fmt.Errorf("failed to terminate stream at notification %d: %w", notificationID, err)
	}
	return nil
}

package statesync

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgersync/ledgersync/internal/streaming"
	"github.com/ledgersync/ledgersync/types"
)

// StorageReader exposes the synced ledger progress. *store.LedgerStore
// implements it.
//
//go:generate ../../scripts/mockery_generate.sh StorageReader --inpackage --testonly
type StorageReader interface {
	LatestVersion() (types.Version, error)
	LatestLedgerInfo() (types.LedgerInfoWithSignatures, error)
}

// LedgerStorage is the storage the storage synchronizer commits to.
// *store.LedgerStore implements it.
type LedgerStorage interface {
	StorageReader

	SaveTransactions(txns types.TransactionListWithProof, ledgerInfo *types.LedgerInfoWithSignatures) error
	SaveAccountStates(chunk types.AccountStatesChunkWithProof) error
	FinalizeAccountSync(txns types.TransactionListWithProof, ledgerInfo types.LedgerInfoWithSignatures) error
	SaveEpochEndingLedgerInfos(lis []types.LedgerInfoWithSignatures) error
}

func fetchLatestSyncedVersion(storage StorageReader) (types.Version, error) {
	version, err := storage.LatestVersion()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to fetch the latest synced version: %v", ErrStorageError, err)
	}
	return version, nil
}

func fetchLatestSyncedLedgerInfo(storage StorageReader) (types.LedgerInfoWithSignatures, error) {
	li, err := storage.LatestLedgerInfo()
	if err != nil {
		return li, fmt.Errorf("%w: failed to fetch the latest synced ledger info: %v", ErrStorageError, err)
	}
	return li, nil
}

// getDataNotification returns the next notification of the stream, waiting
// at most timeout for it to arrive.
func getDataNotification(
	ctx context.Context,
	timeout time.Duration,
	listener *streaming.DataStreamListener,
) (streaming.DataNotification, error) {
	select {
	case notification, ok := <-listener.Notifications():
		if !ok {
			return streaming.DataNotification{}, fmt.Errorf("%w: the data stream was closed", ErrNoDataStream)
		}
		return notification, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case notification, ok := <-listener.Notifications():
		if !ok {
			return streaming.DataNotification{}, fmt.Errorf("%w: the data stream was closed", ErrNoDataStream)
		}
		return notification, nil
	case <-timer.C:
		return streaming.DataNotification{}, fmt.Errorf("%w: waited %v", ErrDataStreamTimeout, timeout)
	case <-ctx.Done():
		return streaming.DataNotification{}, ctx.Err()
	}
}

// terminateStream terminates the stream that produced notificationID and
// returns cause, the reason the stream had to go.
func terminateStream(
	ctx context.Context,
	client streaming.StreamingClient,
	notificationID streaming.NotificationID,
	feedback streaming.NotificationFeedback,
	cause error,
) error {
	if err := client.TerminateStream(ctx, notificationID, feedback); err != nil {
		return fmt.Errorf("%v; failed to terminate stream at notification %d: %w", cause, notificationID, err)
	}
	return cause
}

// payloadTypeError builds the error returned when a stream delivers an
// unexpected payload.
func payloadTypeError(expected string, payload streaming.DataPayload) error {
	return fmt.Errorf("%w: expected %s, got %T", ErrInvalidPayload, expected, payload)
}

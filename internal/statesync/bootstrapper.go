package statesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgersync/ledgersync/config"
	"github.com/ledgersync/ledgersync/internal/dataclient"
	"github.com/ledgersync/ledgersync/internal/streaming"
	"github.com/ledgersync/ledgersync/libs/log"
	"github.com/ledgersync/ledgersync/types"
)

// Bootstrapper brings a node from its local ledger state to the latest state
// advertised by the network. Once it reports IsBootstrapped it never reports
// otherwise.
//
//go:generate ../../scripts/mockery_generate.sh Bootstrapper --inpackage --testonly
type Bootstrapper interface {
	IsBootstrapped() bool

	// DriveProgress makes progress towards the highest ledger info in
	// summary.
	DriveProgress(ctx context.Context, summary dataclient.GlobalDataSummary) error

	// HandleCommittedAccounts records that a chunk of the account snapshot
	// was committed.
	HandleCommittedAccounts(accounts *CommittedAccounts) error

	// BootstrappingComplete marks the node as bootstrapped and notifies all
	// subscribers.
	BootstrappingComplete() error

	// TerminateActiveStream terminates the stream that produced
	// notificationID.
	TerminateActiveStream(
		ctx context.Context,
		notificationID streaming.NotificationID,
		feedback streaming.NotificationFeedback,
	) error

	// SubscribeToBootstrapNotifications sends nil on callback once the node
	// has bootstrapped, immediately if it already has.
	SubscribeToBootstrapNotifications(callback chan<- error) error
}

type streamKind int

const (
	epochEndingStream streamKind = iota
	transactionStream
	finalTransactionStream
	accountStream
)

func (k streamKind) String() string {
	switch k {
	case epochEndingStream:
		return "epoch_ending_ledger_infos"
	case transactionStream:
		return "transactions"
	case finalTransactionStream:
		return "final_transaction"
	case accountStream:
		return "account_states"
	default:
		return fmt.Sprintf("streamKind(%d)", int(k))
	}
}

type bootstrapStream struct {
	kind     streamKind
	listener *streaming.DataStreamListener
	target   types.LedgerInfoWithSignatures

	nextEpoch   types.Epoch
	nextVersion types.Version
	nextIndex   uint64
}

type bootstrapper struct {
	logger  log.Logger
	metrics *Metrics
	config  DriverConfiguration

	storage             LedgerStorage
	storageSynchronizer StorageSynchronizer
	streamingClient     streaming.StreamingClient

	bootstrapped bool
	subscribers  []chan<- error

	stream           *bootstrapStream
	verifiedWaypoint bool

	// account snapshot download
	accountTarget          *types.LedgerInfoWithSignatures
	accountSyncInitialized bool
	committedAccounts      uint64
	allAccountsSynced      bool
}

var _ Bootstrapper = (*bootstrapper)(nil)

// NewBootstrapper returns a Bootstrapper feeding the data it streams into
// storageSynchronizer.
func NewBootstrapper(
	logger log.Logger,
	metrics *Metrics,
	cfg DriverConfiguration,
	storage LedgerStorage,
	storageSynchronizer StorageSynchronizer,
	streamingClient streaming.StreamingClient,
) Bootstrapper {
	return &bootstrapper{
		logger:              logger,
		metrics:             metrics,
		config:              cfg,
		storage:             storage,
		storageSynchronizer: storageSynchronizer,
		streamingClient:     streamingClient,
	}
}

func (b *bootstrapper) IsBootstrapped() bool {
	return b.bootstrapped
}

func (b *bootstrapper) DriveProgress(ctx context.Context, summary dataclient.GlobalDataSummary) error {
	if b.bootstrapped {
		return fmt.Errorf("%w: no need to drive bootstrapping", ErrAlreadyBootstrapped)
	}

	if b.stream != nil {
		return b.processActiveStream(ctx)
	}

	if b.storageSynchronizer.PendingStorageData() {
		b.logger.Debug("waiting for the storage synchronizer to drain before opening a stream")
		return nil
	}

	if b.allAccountsSynced {
		return b.BootstrappingComplete()
	}

	return b.initializeStream(ctx, summary)
}

func (b *bootstrapper) initializeStream(ctx context.Context, summary dataclient.GlobalDataSummary) error {
	latestLedgerInfo, err := fetchLatestSyncedLedgerInfo(b.storage)
	if err != nil {
		return err
	}
	latestVersion := latestLedgerInfo.Version()

	highest := summary.AdvertisedData.HighestSyncedLedgerInfo()
	if highest == nil {
		return fmt.Errorf("%w: no synced ledger infos are advertised", ErrAdvertisedDataError)
	}
	waypoint := b.config.Waypoint
	if highest.Version() < waypoint.Version {
		return fmt.Errorf("%w: the highest advertised version %d is behind the waypoint version %d",
			ErrAdvertisedDataError, highest.Version(), waypoint.Version)
	}

	if !b.verifiedWaypoint {
		switch {
		case latestVersion < waypoint.Version:
			return b.openEpochEndingStream(ctx, latestLedgerInfo.LedgerInfo.NextBlockEpoch(), *highest)
		case latestVersion == waypoint.Version:
			if err := waypoint.Verify(latestLedgerInfo.LedgerInfo); err != nil {
				return fmt.Errorf("%w: the latest synced ledger info doesn't match the waypoint: %v",
					ErrVerificationError, err)
			}
		}
		// a ledger beyond the waypoint was verified when it was synced
		b.verifiedWaypoint = true
		b.logger.Info("verified the waypoint", "waypoint", waypoint.String())
	}

	if latestVersion >= highest.Version() {
		b.logger.Info("local storage is up to date with the network",
			"latest_version", latestVersion,
			"highest_advertised_version", highest.Version())
		return b.BootstrappingComplete()
	}

	if b.downloadAccounts(latestVersion) {
		if b.accountTarget == nil {
			target := *highest
			b.accountTarget = &target
		}
		target := *b.accountTarget

		if !b.accountSyncInitialized {
			return b.openTransactionStream(ctx, finalTransactionStream, target.Version(), target)
		}
		return b.openAccountStream(ctx, target)
	}

	return b.openTransactionStream(ctx, transactionStream, latestVersion+1, *highest)
}

// downloadAccounts reports whether the ledger is bootstrapped by downloading
// an account snapshot rather than by applying every transaction.
func (b *bootstrapper) downloadAccounts(latestVersion types.Version) bool {
	if b.config.Config.BootstrappingMode != config.BootstrappingModeDownloadAccounts {
		return false
	}
	// only a fresh ledger can skip its history
	return latestVersion == 0 || b.accountTarget != nil
}

func (b *bootstrapper) openEpochEndingStream(
	ctx context.Context,
	startEpoch types.Epoch,
	target types.LedgerInfoWithSignatures,
) error {
	listener, err := b.streamingClient.GetAllEpochEndingLedgerInfos(ctx, startEpoch)
	if err != nil {
		return fmt.Errorf("%w: failed to stream epoch ending ledger infos: %v", ErrNoDataStream, err)
	}

	b.logger.Info("fetching epoch ending ledger infos to verify the waypoint",
		"start_epoch", startEpoch,
		"waypoint", b.config.Waypoint.String())
	b.stream = &bootstrapStream{
		kind:      epochEndingStream,
		listener:  listener,
		target:    target,
		nextEpoch: startEpoch,
	}
	return nil
}

func (b *bootstrapper) openTransactionStream(
	ctx context.Context,
	kind streamKind,
	startVersion types.Version,
	target types.LedgerInfoWithSignatures,
) error {
	listener, err := b.streamingClient.GetAllTransactions(ctx, startVersion, target.Version(), target.Version())
	if err != nil {
		return fmt.Errorf("%w: failed to stream transactions: %v", ErrNoDataStream, err)
	}

	b.logger.Info("streaming transactions",
		"stream", kind.String(),
		"start_version", startVersion,
		"target_version", target.Version())
	b.stream = &bootstrapStream{
		kind:        kind,
		listener:    listener,
		target:      target,
		nextVersion: startVersion,
	}
	return nil
}

func (b *bootstrapper) openAccountStream(ctx context.Context, target types.LedgerInfoWithSignatures) error {
	listener, err := b.streamingClient.GetAllAccounts(ctx, target.Version(), b.committedAccounts)
	if err != nil {
		return fmt.Errorf("%w: failed to stream account states: %v", ErrNoDataStream, err)
	}

	b.logger.Info("streaming account states",
		"version", target.Version(),
		"start_index", b.committedAccounts)
	b.stream = &bootstrapStream{
		kind:      accountStream,
		listener:  listener,
		target:    target,
		nextIndex: b.committedAccounts,
	}
	return nil
}

func (b *bootstrapper) processActiveStream(ctx context.Context) error {
	for i := 0; i < b.config.Config.MaxNotificationsPerProgressCheck; i++ {
		// only the first notification is waited for
		timeout := b.config.Config.MaxStreamWaitTime
		if i > 0 {
			timeout = 0
		}

		notification, err := getDataNotification(ctx, timeout, b.stream.listener)
		if err != nil {
			if i > 0 && errors.Is(err, ErrDataStreamTimeout) {
				return nil
			}
			if errors.Is(err, ErrNoDataStream) {
				b.stream = nil
			}
			return err
		}

		if err := b.processNotification(ctx, notification); err != nil {
			return err
		}
		if b.stream == nil {
			return nil
		}
	}
	return nil
}

func (b *bootstrapper) processNotification(ctx context.Context, notification streaming.DataNotification) error {
	id := notification.NotificationID

	if _, ok := notification.Payload.(*streaming.EndOfStream); ok {
		var cause error
		if b.stream.kind == epochEndingStream && !b.verifiedWaypoint {
			cause = fmt.Errorf("%w: the epoch ending ledger infos don't reach the waypoint %v",
				ErrVerificationError, b.config.Waypoint)
		}
		b.logger.Info("reached the end of the stream", "stream", b.stream.kind.String(), "notification_id", id)
		return b.terminate(ctx, id, streaming.EndOfStreamReached, cause)
	}

	switch b.stream.kind {
	case epochEndingStream:
		payload, ok := notification.Payload.(*streaming.EpochEndingLedgerInfos)
		if !ok {
			return b.terminate(ctx, id, streaming.PayloadTypeIsIncorrect,
				payloadTypeError("epoch ending ledger infos", notification.Payload))
		}
		return b.processEpochEndingLedgerInfos(ctx, id, payload.LedgerInfos)

	case transactionStream, finalTransactionStream:
		payload, ok := notification.Payload.(*streaming.TransactionsWithProof)
		if !ok {
			return b.terminate(ctx, id, streaming.PayloadTypeIsIncorrect,
				payloadTypeError("transactions", notification.Payload))
		}
		return b.processTransactions(ctx, id, payload)

	case accountStream:
		payload, ok := notification.Payload.(*streaming.AccountStatesWithProof)
		if !ok {
			return b.terminate(ctx, id, streaming.PayloadTypeIsIncorrect,
				payloadTypeError("account states", notification.Payload))
		}
		return b.processAccountStates(ctx, id, payload.Chunk)

	default:
		return fmt.Errorf("%w: unknown stream %v", ErrUnexpectedError, b.stream.kind)
	}
}

func (b *bootstrapper) processEpochEndingLedgerInfos(
	ctx context.Context,
	id streaming.NotificationID,
	lis []types.LedgerInfoWithSignatures,
) error {
	if len(lis) == 0 {
		return b.terminate(ctx, id, streaming.EmptyPayloadData,
			fmt.Errorf("%w: no epoch ending ledger infos", ErrInvalidPayload))
	}

	waypoint := b.config.Waypoint
	for _, li := range lis {
		if li.Epoch() != b.stream.nextEpoch {
			return b.terminate(ctx, id, streaming.InvalidPayloadStartVersion,
				fmt.Errorf("%w: expected epoch %d, got %d", ErrVerificationError, b.stream.nextEpoch, li.Epoch()))
		}
		if !li.LedgerInfo.EndsEpoch {
			return b.terminate(ctx, id, streaming.PayloadProofFailed,
				fmt.Errorf("%w: ledger info at version %d doesn't end epoch %d",
					ErrVerificationError, li.Version(), li.Epoch()))
		}

		switch {
		case b.verifiedWaypoint:
		case li.Version() == waypoint.Version:
			if err := waypoint.Verify(li.LedgerInfo); err != nil {
				return b.terminate(ctx, id, streaming.PayloadProofFailed,
					fmt.Errorf("%w: %v", ErrVerificationError, err))
			}
			b.verifiedWaypoint = true
			b.logger.Info("verified the waypoint", "waypoint", waypoint.String(), "epoch", li.Epoch())
		case li.Version() > waypoint.Version:
			return b.terminate(ctx, id, streaming.PayloadProofFailed,
				fmt.Errorf("%w: epoch %d ends after the waypoint version %d",
					ErrVerificationError, li.Epoch(), waypoint.Version))
		}
		b.stream.nextEpoch++
	}

	if err := b.storage.SaveEpochEndingLedgerInfos(lis); err != nil {
		return fmt.Errorf("%w: failed to save epoch ending ledger infos: %v", ErrStorageError, err)
	}
	return nil
}

func (b *bootstrapper) processTransactions(
	ctx context.Context,
	id streaming.NotificationID,
	payload *streaming.TransactionsWithProof,
) error {
	txns := payload.Transactions
	if txns.Len() == 0 {
		return b.terminate(ctx, id, streaming.EmptyPayloadData,
			fmt.Errorf("%w: no transactions", ErrInvalidPayload))
	}
	if txns.FirstVersion != b.stream.nextVersion {
		return b.terminate(ctx, id, streaming.InvalidPayloadStartVersion,
			fmt.Errorf("%w: expected transactions starting at version %d, got %d",
				ErrVerificationError, b.stream.nextVersion, txns.FirstVersion))
	}

	lastVersion := txns.LastVersion()
	if lastVersion > b.stream.target.Version() {
		return b.terminate(ctx, id, streaming.InvalidPayloadData,
			fmt.Errorf("%w: transactions end at version %d, beyond the target %d",
				ErrVerificationError, lastVersion, b.stream.target.Version()))
	}

	var ledgerInfo *types.LedgerInfoWithSignatures
	switch proofVersion := payload.LedgerInfo.Version(); {
	case proofVersion < lastVersion:
		return b.terminate(ctx, id, streaming.PayloadProofFailed,
			fmt.Errorf("%w: ledger info at version %d can't prove version %d",
				ErrVerificationError, proofVersion, lastVersion))
	case proofVersion == lastVersion:
		li := payload.LedgerInfo
		ledgerInfo = &li
	}

	if b.stream.kind == finalTransactionStream {
		if err := b.storageSynchronizer.InitializeAccountSynchronizer(b.stream.target, txns); err != nil {
			return b.terminate(ctx, id, streaming.InvalidPayloadData, err)
		}
		b.accountSyncInitialized = true
		b.stream.nextVersion = lastVersion + 1
		return nil
	}

	if err := b.storageSynchronizer.ExecuteTransactions(ctx, id, txns, ledgerInfo); err != nil {
		return err
	}
	b.stream.nextVersion = lastVersion + 1
	return nil
}

func (b *bootstrapper) processAccountStates(
	ctx context.Context,
	id streaming.NotificationID,
	chunk types.AccountStatesChunkWithProof,
) error {
	if len(chunk.Accounts) == 0 {
		return b.terminate(ctx, id, streaming.EmptyPayloadData,
			fmt.Errorf("%w: no account states", ErrInvalidPayload))
	}
	if chunk.Version != b.stream.target.Version() {
		return b.terminate(ctx, id, streaming.InvalidPayloadData,
			fmt.Errorf("%w: account states at version %d, expected %d",
				ErrVerificationError, chunk.Version, b.stream.target.Version()))
	}
	if chunk.FirstIndex != b.stream.nextIndex {
		return b.terminate(ctx, id, streaming.InvalidPayloadStartVersion,
			fmt.Errorf("%w: expected account index %d, got %d",
				ErrVerificationError, b.stream.nextIndex, chunk.FirstIndex))
	}

	if err := b.storageSynchronizer.SaveAccountStates(ctx, id, chunk); err != nil {
		return err
	}
	b.stream.nextIndex = chunk.LastIndex + 1
	return nil
}

// terminate drops the active stream and terminates it upstream.
func (b *bootstrapper) terminate(
	ctx context.Context,
	id streaming.NotificationID,
	feedback streaming.NotificationFeedback,
	cause error,
) error {
	b.stream = nil
	return terminateStream(ctx, b.streamingClient, id, feedback, cause)
}

func (b *bootstrapper) HandleCommittedAccounts(accounts *CommittedAccounts) error {
	if b.accountTarget == nil {
		return fmt.Errorf("%w: committed accounts without an account download", ErrUnexpectedError)
	}

	b.committedAccounts = accounts.LastCommittedAccountIndex + 1
	if accounts.AllAccountsSynced {
		b.allAccountsSynced = true
		b.logger.Info("all account states are synced",
			"version", b.accountTarget.Version(),
			"total_accounts", b.committedAccounts)
	}
	return nil
}

func (b *bootstrapper) BootstrappingComplete() error {
	if b.bootstrapped {
		return fmt.Errorf("%w: bootstrapping was already completed", ErrAlreadyBootstrapped)
	}

	b.bootstrapped = true
	b.metrics.Bootstrapped.Set(1)
	b.logger.Info("bootstrapping complete", "subscribers", len(b.subscribers))

	for _, callback := range b.subscribers {
		select {
		case callback <- nil:
		default:
			b.logger.Error("failed to notify a bootstrap subscriber", "err", ErrCallbackSendFailed)
		}
	}
	b.subscribers = nil
	return nil
}

func (b *bootstrapper) TerminateActiveStream(
	ctx context.Context,
	notificationID streaming.NotificationID,
	feedback streaming.NotificationFeedback,
) error {
	b.stream = nil
	if err := b.streamingClient.TerminateStream(ctx, notificationID, feedback); err != nil {
		return fmt.Errorf("failed to terminate stream at notification %d: %w", notificationID, err)
	}
	return nil
}

func (b *bootstrapper) SubscribeToBootstrapNotifications(callback chan<- error) error {
	if !b.bootstrapped {
		b.subscribers = append(b.subscribers, callback)
		return nil
	}

	select {
	case callback <- nil:
		return nil
	default:
		return fmt.Errorf("%w: bootstrap notification", ErrCallbackSendFailed)
	}
}

package statesync

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/ledgersync/ledgersync/internal/consensus"
	"github.com/ledgersync/ledgersync/internal/dataclient"
	"github.com/ledgersync/ledgersync/internal/eventbus"
	"github.com/ledgersync/ledgersync/internal/streaming"
	"github.com/ledgersync/ledgersync/libs/log"
	"github.com/ledgersync/ledgersync/libs/service"
)

// Driver is the single point where state sync serializes its work. It
// multiplexes client, commit, consensus and error notifications along with a
// progress ticker and handles each of them to completion before selecting
// the next one.
//
// A node starts out bootstrapping. Once the bootstrapper reports completion
// the driver hands progress over to the continuous syncer for good.
type Driver struct {
	service.BaseService
	logger  log.Logger
	metrics *Metrics
	config  DriverConfiguration

	clientNotifications *ClientNotificationListener
	commitNotifications *CommitNotificationListener
	errorNotifications  *ErrorNotificationListener

	consensusHandler *ConsensusNotificationHandler
	mempoolHandler   *MempoolNotificationHandler
	eventService     *eventbus.Shared

	bootstrapper     Bootstrapper
	continuousSyncer ContinuousSyncer
	storage          StorageReader
	dataClient       dataclient.DataClient

	progressTicker ticker.Ticker
	clock          clock.Clock
	startTime      time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver returns a Driver wired to the given listeners and
// collaborators. progressTicker paces progress checks and clk is used for
// the auto-bootstrap deadline and sync request timestamps.
func NewDriver(
	logger log.Logger,
	metrics *Metrics,
	cfg DriverConfiguration,
	clientNotifications *ClientNotificationListener,
	commitNotifications *CommitNotificationListener,
	errorNotifications *ErrorNotificationListener,
	consensusHandler *ConsensusNotificationHandler,
	mempoolHandler *MempoolNotificationHandler,
	eventService *eventbus.Shared,
	bootstrapper Bootstrapper,
	continuousSyncer ContinuousSyncer,
	storage StorageReader,
	dataClient dataclient.DataClient,
	progressTicker ticker.Ticker,
	clk clock.Clock,
) *Driver {
	d := &Driver{
		logger:              logger,
		metrics:             metrics,
		config:              cfg,
		clientNotifications: clientNotifications,
		commitNotifications: commitNotifications,
		errorNotifications:  errorNotifications,
		consensusHandler:    consensusHandler,
		mempoolHandler:      mempoolHandler,
		eventService:        eventService,
		bootstrapper:        bootstrapper,
		continuousSyncer:    continuousSyncer,
		storage:             storage,
		dataClient:          dataClient,
		progressTicker:      progressTicker,
		clock:               clk,
		done:                make(chan struct{}),
	}
	d.BaseService = *service.NewBaseService(logger, "StateSyncDriver", d)
	return d
}

// OnStart records the start time and runs the event loop until ctx is
// canceled or the driver is stopped.
func (d *Driver) OnStart(ctx context.Context) error {
	d.startTime = d.clock.Now()

	ctx, d.cancel = context.WithCancel(ctx)
	go d.loop(ctx)
	return nil
}

// OnStop stops the event loop and waits for the handler in flight.
func (d *Driver) OnStop() {
	d.cancel()
	<-d.done
	d.progressTicker.Stop()
}

func (d *Driver) loop(ctx context.Context) {
	defer close(d.done)

	d.progressTicker.Resume()
	for {
		select {
		case <-ctx.Done():
			return

		case notification := <-d.clientNotifications.Notifications():
			d.handleClientNotification(notification)

		case notification := <-d.commitNotifications.Notifications():
			d.handleCommitNotification(ctx, notification)

		case notification := <-d.consensusHandler.Notifications():
			d.handleConsensusNotification(ctx, notification)

		case notification := <-d.errorNotifications.Notifications():
			d.handleErrorNotification(ctx, notification)

		case <-d.progressTicker.Ticks():
			d.driveProgress(ctx)
		}
	}
}

func (d *Driver) handleClientNotification(notification *DriverNotification) {
	d.metrics.DriverNotifications.With("type", notificationTypeClient).Add(1)
	d.logger.Debug("received a client notification")

	if err := d.bootstrapper.SubscribeToBootstrapNotifications(notification.callback); err != nil {
		d.logger.Error("failed to subscribe to bootstrap notifications", "err", err)
	}
}

// checkConsensusNotificationLegality returns the error consensus is
// answered with when it isn't allowed to notify the driver.
func (d *Driver) checkConsensusNotificationLegality() error {
	if !d.config.IsValidator() {
		return ErrFullNodeConsensusNotification
	}
	if !d.bootstrapper.IsBootstrapped() {
		return ErrBootstrapNotComplete
	}
	return nil
}

func (d *Driver) handleConsensusNotification(ctx context.Context, notification consensus.ConsensusNotification) {
	d.metrics.DriverNotifications.With("type", consensusNotificationType(notification)).Add(1)

	if err := d.checkConsensusNotificationLegality(); err != nil {
		var rerr error
		switch n := notification.(type) {
		case *consensus.CommitNotification:
			rerr = d.consensusHandler.RespondToCommitNotification(n, err)
		case *consensus.SyncNotification:
			rerr = d.consensusHandler.RespondToSyncNotification(n, err)
		}
		d.logger.Error("rejected a consensus notification", "notification", fmt.Sprint(notification), "err", err)
		if rerr != nil {
			d.logger.Error("failed to respond to a consensus notification", "err", rerr)
		}
		return
	}

	var err error
	switch n := notification.(type) {
	case *consensus.CommitNotification:
		err = d.handleConsensusCommitNotification(ctx, n)
	case *consensus.SyncNotification:
		err = d.handleConsensusSyncNotification(n)
	default:
		err = fmt.Errorf("%w: unknown consensus notification %T", ErrUnexpectedError, notification)
	}

	if err != nil {
		d.logger.Error("error handling a consensus notification", "notification", fmt.Sprint(notification), "err", err)
	}
}

func consensusNotificationType(notification consensus.ConsensusNotification) string {
	if _, ok := notification.(*consensus.SyncNotification); ok {
		return notificationTypeConsensusSync
	}
	return notificationTypeConsensusCommit
}

func (d *Driver) handleConsensusCommitNotification(ctx context.Context, notification *consensus.CommitNotification) error {
	d.logger.Debug("received a consensus commit notification",
		"transactions", len(notification.Transactions),
		"reconfiguration_events", len(notification.ReconfigurationEvents))

	latestVersion, err := fetchLatestSyncedVersion(d.storage)
	if err != nil {
		return d.respondToCommitWithError(notification, err)
	}
	latestLedgerInfo, err := fetchLatestSyncedLedgerInfo(d.storage)
	if err != nil {
		return d.respondToCommitWithError(notification, err)
	}

	handleErr := HandleTransactionNotification(
		ctx,
		notification.ReconfigurationEvents,
		notification.Transactions,
		latestVersion,
		latestLedgerInfo,
		d.mempoolHandler,
		d.eventService,
		d.metrics,
	)
	respondErr := d.consensusHandler.RespondToCommitNotification(notification, handleErr)

	// consensus may have sent a sync request right before committing, so
	// progress is checked even if the commit failed
	if err := d.checkSyncRequestProgress(); err != nil {
		d.logger.Error("error checking the sync request progress after a commit", "err", err)
	}

	if handleErr != nil {
		return handleErr
	}
	return respondErr
}

func (d *Driver) respondToCommitWithError(notification *consensus.CommitNotification, err error) error {
	if rerr := d.consensusHandler.RespondToCommitNotification(notification, err); rerr != nil {
		d.logger.Error("failed to respond to a consensus commit notification", "err", rerr)
	}
	return err
}

func (d *Driver) handleConsensusSyncNotification(notification *consensus.SyncNotification) error {
	latestVersion, err := fetchLatestSyncedVersion(d.storage)
	if err != nil {
		return d.respondToSyncWithError(notification, err)
	}
	d.logger.Info("received a consensus sync notification",
		"target_version", notification.Target.Version(),
		"latest_synced_version", latestVersion)

	latestLedgerInfo, err := fetchLatestSyncedLedgerInfo(d.storage)
	if err != nil {
		return d.respondToSyncWithError(notification, err)
	}

	return d.consensusHandler.InitializeSyncRequest(notification, latestLedgerInfo)
}

func (d *Driver) respondToSyncWithError(notification *consensus.SyncNotification, err error) error {
	if rerr := d.consensusHandler.RespondToSyncNotification(notification, err); rerr != nil {
		d.logger.Error("failed to respond to a consensus sync notification", "err", rerr)
	}
	return err
}

func (d *Driver) handleCommitNotification(ctx context.Context, notification CommitNotification) {
	d.metrics.DriverNotifications.With("type", notificationTypeCommit).Add(1)

	switch n := notification.(type) {
	case *CommittedAccounts:
		d.logger.Debug("received an account commit notification",
			"last_committed_account_index", n.LastCommittedAccountIndex,
			"all_accounts_synced", n.AllAccountsSynced)

		if err := d.bootstrapper.HandleCommittedAccounts(n); err != nil {
			d.logger.Error("failed to handle committed accounts", "err", err)
		}

		if n.AllAccountsSynced {
			if n.CommittedTransaction == nil {
				panic(fmt.Sprintf("all accounts are synced but the committed transaction is missing: %+v", n))
			}
			d.handleCommittedTransactions(ctx, n.CommittedTransaction)
		}

	case *CommittedTransactions:
		d.logger.Debug("received a transaction commit notification",
			"transactions", len(n.Transactions),
			"events", len(n.Events))
		d.handleCommittedTransactions(ctx, n)

	default:
		d.logger.Error("received an unknown commit notification", "notification", fmt.Sprintf("%T", notification))
	}
}

func (d *Driver) handleCommittedTransactions(ctx context.Context, committed *CommittedTransactions) {
	latestVersion, err := fetchLatestSyncedVersion(d.storage)
	if err != nil {
		d.logger.Error("failed to handle committed transactions", "err", err)
		return
	}
	latestLedgerInfo, err := fetchLatestSyncedLedgerInfo(d.storage)
	if err != nil {
		d.logger.Error("failed to handle committed transactions", "err", err)
		return
	}

	err = HandleTransactionNotification(
		ctx,
		committed.Events,
		committed.Transactions,
		latestVersion,
		latestLedgerInfo,
		d.mempoolHandler,
		d.eventService,
		d.metrics,
	)
	if err != nil {
		d.logger.Error("failed to handle committed transactions", "version", latestVersion, "err", err)
		return
	}

	d.consensusHandler.ConsensusSyncRequest().UpdateLastCommitTimestamp(d.clock.Now())
}

// handleErrorNotification terminates the stream whose data failed to be
// stored. A stream that can't be terminated leaves the pipeline in an
// unknown state, so the driver panics.
func (d *Driver) handleErrorNotification(ctx context.Context, notification ErrorNotification) {
	d.metrics.DriverNotifications.With("type", notificationTypeError).Add(1)
	d.logger.Error("received an error notification",
		"notification_id", notification.NotificationID,
		"err", notification.Err)

	var err error
	if d.bootstrapper.IsBootstrapped() {
		err = d.continuousSyncer.TerminateActiveStream(ctx, notification.NotificationID, streaming.InvalidPayloadData)
	} else {
		err = d.bootstrapper.TerminateActiveStream(ctx, notification.NotificationID, streaming.InvalidPayloadData)
	}
	if err != nil {
		panic(fmt.Sprintf("failed to terminate the active stream for notification %d: %v",
			notification.NotificationID, err))
	}
}

// checkIfConsensusExecuting reports whether consensus drives the ledger, in
// which case state sync stays idle.
func (d *Driver) checkIfConsensusExecuting() bool {
	return d.config.IsValidator() && d.bootstrapper.IsBootstrapped() && !d.consensusHandler.ActiveSyncRequest()
}

func (d *Driver) checkSyncRequestProgress() error {
	if !d.consensusHandler.ActiveSyncRequest() {
		return nil
	}

	latestLedgerInfo, err := fetchLatestSyncedLedgerInfo(d.storage)
	if err != nil {
		return err
	}
	return d.consensusHandler.CheckSyncRequestProgress(latestLedgerInfo)
}

// checkAutoBootstrapping lets a genesis validator without peers bootstrap on
// its own once the connection deadline has passed.
func (d *Driver) checkAutoBootstrapping() {
	if d.bootstrapper.IsBootstrapped() || !d.config.IsValidator() || !d.config.Waypoint.IsGenesis() {
		return
	}

	deadline, err := d.connectionDeadline()
	if err != nil {
		d.logger.Error("failed to compute the connection deadline", "err", err)
		return
	}
	if d.clock.Now().Before(deadline) {
		return
	}

	d.logger.Info("no peers found before the connection deadline, bootstrapping from genesis",
		"max_connection_deadline_secs", d.config.Config.MaxConnectionDeadlineSecs)
	if err := d.bootstrapper.BootstrappingComplete(); err != nil {
		d.logger.Error("failed to mark bootstrapping as complete", "err", err)
	}
}

func (d *Driver) connectionDeadline() (time.Time, error) {
	secs := d.config.Config.MaxConnectionDeadlineSecs
	if secs > uint64(math.MaxInt64/int64(time.Second)) {
		return time.Time{}, fmt.Errorf("%w: max connection deadline of %d seconds", ErrIntegerOverflow, secs)
	}
	return d.startTime.Add(time.Duration(secs) * time.Second), nil
}

func (d *Driver) driveProgress(ctx context.Context) {
	d.metrics.DriverNotifications.With("type", notificationTypeProgressCheck).Add(1)

	summary := d.dataClient.GlobalDataSummary()
	if summary.IsEmpty() {
		d.logger.Debug("the global data summary is empty, no peers to sync from")
		d.checkAutoBootstrapping()
		return
	}

	if err := d.checkSyncRequestProgress(); err != nil {
		d.logger.Error("error checking the sync request progress", "err", err)
	}

	if d.checkIfConsensusExecuting() {
		d.logger.Debug("consensus is executing, there's no need to drive progress")
		return
	}

	if d.bootstrapper.IsBootstrapped() {
		request := d.consensusHandler.ConsensusSyncRequest().Get()
		if err := d.continuousSyncer.DriveProgress(ctx, request); err != nil {
			d.logger.Error("error driving the continuous syncer", "err", err)
			d.metrics.ContinuousSyncerErrors.With("error", ErrorLabel(err)).Add(1)
		}
		return
	}

	if err := d.bootstrapper.DriveProgress(ctx, summary); err != nil {
		d.logger.Error("error driving the bootstrapper", "err", err)
		d.metrics.BootstrapperErrors.With("error", ErrorLabel(err)).Add(1)
	}
}

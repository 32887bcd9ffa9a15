package statesync

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/ledgersync/ledgersync/internal/consensus"
	"github.com/ledgersync/ledgersync/internal/dataclient"
	"github.com/ledgersync/ledgersync/internal/eventbus"
	"github.com/ledgersync/ledgersync/internal/mempool"
	"github.com/ledgersync/ledgersync/internal/streaming"
	"github.com/ledgersync/ledgersync/libs/log"
)

// DriverFactory builds the state sync driver along with the storage
// synchronizer feeding it.
type DriverFactory struct {
	driver              *Driver
	storageSynchronizer *storageSynchronizer
	client              *DriverClient
}

// NewDriverFactory wires a driver on top of storage. The ledger must hold at
// least the genesis transaction. Reconfiguration subscribers are notified of
// the configuration at the latest synced version before returning.
func NewDriverFactory(
	logger log.Logger,
	metrics *Metrics,
	cfg DriverConfiguration,
	storage LedgerStorage,
	consensusListener *consensus.ConsensusNotificationListener,
	mempoolSender mempool.MempoolNotificationSender,
	eventService *eventbus.Shared,
	dataClient dataclient.DataClient,
	streamingClient streaming.StreamingClient,
) (*DriverFactory, error) {
	logger = logger.With("module", "statesync")

	latestVersion, err := fetchLatestSyncedVersion(storage)
	if err != nil {
		return nil, err
	}
	err = eventService.Do(func(svc *eventbus.EventSubscriptionService) error {
		return svc.NotifyInitialConfigs(latestVersion)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to notify the initial configs: %v", ErrEventNotificationError, err)
	}

	client, clientListener := NewDriverClientAndListener()
	commitNotifier, commitListener := NewCommitNotificationChannel()
	errorNotifier, errorListener := NewErrorNotificationChannel()

	synchronizer := newStorageSynchronizer(
		logger.With("component", "storage_synchronizer"),
		metrics,
		cfg,
		storage,
		commitNotifier,
		errorNotifier,
	)
	bootstrapper := NewBootstrapper(
		logger.With("component", "bootstrapper"),
		metrics,
		cfg,
		storage,
		synchronizer,
		streamingClient,
	)
	continuousSyncer := NewContinuousSyncer(
		logger.With("component", "continuous_syncer"),
		cfg,
		storage,
		synchronizer,
		streamingClient,
	)

	clk := clock.NewDefaultClock()
	driver := NewDriver(
		logger,
		metrics,
		cfg,
		clientListener,
		commitListener,
		errorListener,
		NewConsensusNotificationHandler(logger, consensusListener, clk),
		NewMempoolNotificationHandler(mempoolSender),
		eventService,
		bootstrapper,
		continuousSyncer,
		storage,
		dataClient,
		ticker.New(cfg.Config.ProgressCheckInterval),
		clk,
	)

	return &DriverFactory{
		driver:              driver,
		storageSynchronizer: synchronizer,
		client:              client,
	}, nil
}

// Start starts the storage synchronizer and the driver. Both run until ctx
// is canceled.
func (f *DriverFactory) Start(ctx context.Context) error {
	if err := f.storageSynchronizer.Start(ctx); err != nil {
		return fmt.Errorf("starting the storage synchronizer: %w", err)
	}
	if err := f.driver.Start(ctx); err != nil {
		return fmt.Errorf("starting the driver: %w", err)
	}
	return nil
}

// Wait blocks until the driver has stopped.
func (f *DriverFactory) Wait() {
	f.driver.Wait()
	f.storageSynchronizer.Wait()
}

// Client returns the client used to wait on state sync.
func (f *DriverFactory) Client() *DriverClient {
	return f.client
}

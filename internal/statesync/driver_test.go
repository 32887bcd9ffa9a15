package statesync

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/ledgersync/config"
	"github.com/ledgersync/ledgersync/internal/consensus"
	"github.com/ledgersync/ledgersync/internal/dataclient"
	"github.com/ledgersync/ledgersync/internal/eventbus"
	"github.com/ledgersync/ledgersync/internal/mempool"
	"github.com/ledgersync/ledgersync/internal/streaming"
	streamingmocks "github.com/ledgersync/ledgersync/internal/streaming/mocks"
	"github.com/ledgersync/ledgersync/libs/log"
	"github.com/ledgersync/ledgersync/types"
)

var testStartTime = time.Date(2022, time.March, 1, 12, 0, 0, 0, time.UTC)

type staticDataClient struct {
	summary dataclient.GlobalDataSummary
}

func (c *staticDataClient) GlobalDataSummary() dataclient.GlobalDataSummary {
	return c.summary
}

func testLedgerInfo(version types.Version) types.LedgerInfoWithSignatures {
	return types.NewLedgerInfoWithSignatures(types.LedgerInfo{
		Epoch:           1,
		Version:         version,
		TimestampUsecs:  1_000_000 + version,
		AccumulatorRoot: types.HashBytes([]byte{byte(version), byte(version >> 8)}),
	})
}

func testTransactions(senders ...string) []types.Transaction {
	txns := make([]types.Transaction, 0, len(senders))
	for i, sender := range senders {
		txns = append(txns, types.Transaction{
			Kind:           types.UserTransaction,
			Sender:         sender,
			SequenceNumber: uint64(i),
		})
	}
	return txns
}

func summaryUpTo(highest types.LedgerInfoWithSignatures) dataclient.GlobalDataSummary {
	return dataclient.GlobalDataSummary{
		AdvertisedData: dataclient.AdvertisedData{
			SyncedLedgerInfos: []types.LedgerInfoWithSignatures{highest},
			Transactions:      []dataclient.CompleteDataRange{{Lowest: 0, Highest: highest.Version()}},
		},
	}
}

type driverHarness struct {
	t      *testing.T
	driver *Driver

	bootstrapper     *MockBootstrapper
	continuousSyncer *MockContinuousSyncer
	storage          *MockStorageReader
	dataClient       *staticDataClient
	clock            *clock.TestClock
	ticker           *ticker.Force

	client            *DriverClient
	consensusNotifier *consensus.ConsensusNotifier
	commitNotifier    chan<- CommitNotification
	errorNotifier     chan<- ErrorNotification
	eventService      *eventbus.EventSubscriptionService
	mempoolCommits    chan *mempool.CommitNotification

	latestLedgerInfo types.LedgerInfoWithSignatures
	storageErr       error
	started          bool
}

func newDriverHarness(
	ctx context.Context,
	t *testing.T,
	role types.RoleType,
	cfg *config.StateSyncConfig,
) *driverHarness {
	t.Helper()

	logger := log.TestingLogger()
	h := &driverHarness{
		t:                t,
		bootstrapper:     NewMockBootstrapper(t),
		continuousSyncer: NewMockContinuousSyncer(t),
		storage:          NewMockStorageReader(t),
		dataClient:       &staticDataClient{summary: dataclient.EmptySummary()},
		clock:            clock.NewTestClock(testStartTime),
		ticker:           ticker.NewForce(time.Hour),
		mempoolCommits:   make(chan *mempool.CommitNotification, 100),
		latestLedgerInfo: testLedgerInfo(10),
	}
	t.Cleanup(func() {
		if !h.started {
			h.ticker.Stop()
		}
	})

	h.storage.On("LatestVersion").Return(
		func() uint64 { return h.latestLedgerInfo.Version() },
		func() error { return h.storageErr },
	).Maybe()
	h.storage.On("LatestLedgerInfo").Return(
		func() types.LedgerInfoWithSignatures { return h.latestLedgerInfo },
		func() error { return h.storageErr },
	).Maybe()

	consensusNotifier, consensusListener := consensus.NewConsensusNotifierAndListener(cfg.ConsensusNotificationTimeout)
	h.consensusNotifier = consensusNotifier

	mempoolNotifier, mempoolListener := mempool.NewMempoolNotifier(cfg.MempoolCommitAckTimeout)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-mempoolListener.Notifications():
				assert.NoError(t, mempoolListener.Ack(n))
				h.mempoolCommits <- n
			}
		}
	}()

	h.eventService = eventbus.NewEventSubscriptionService(logger)

	client, clientListener := NewDriverClientAndListener()
	h.client = client
	commitNotifier, commitListener := NewCommitNotificationChannel()
	h.commitNotifier = commitNotifier
	errorNotifier, errorListener := NewErrorNotificationChannel()
	h.errorNotifier = errorNotifier

	h.driver = NewDriver(
		logger,
		NopMetrics(),
		NewDriverConfiguration(cfg, role, types.Waypoint{}),
		clientListener,
		commitListener,
		errorListener,
		NewConsensusNotificationHandler(logger, consensusListener, h.clock),
		NewMempoolNotificationHandler(mempoolNotifier),
		eventbus.NewShared(h.eventService),
		h.bootstrapper,
		h.continuousSyncer,
		h.storage,
		h.dataClient,
		h.ticker,
		h.clock,
	)
	h.driver.startTime = h.clock.Now()
	return h
}

func (h *driverHarness) start(ctx context.Context) {
	h.t.Helper()

	h.started = true
	require.NoError(h.t, h.driver.Start(ctx))
	h.t.Cleanup(func() { _ = h.driver.Stop() })
}

func (h *driverHarness) setBootstrapped(bootstrapped bool) {
	h.bootstrapper.On("IsBootstrapped").Return(bootstrapped).Maybe()
}

func (h *driverHarness) notifyCommit(ctx context.Context, txns []types.Transaction, events []types.ContractEvent) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.consensusNotifier.NotifyNewCommit(ctx, txns, events) }()
	return errCh
}

func (h *driverHarness) syncToTarget(ctx context.Context, target types.LedgerInfoWithSignatures) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.consensusNotifier.SyncToTarget(ctx, target) }()
	return errCh
}

// handleConsensusNotification runs the driver's handler on the next
// consensus notification.
func (h *driverHarness) handleConsensusNotification(ctx context.Context) {
	h.t.Helper()

	select {
	case n := <-h.driver.consensusHandler.Notifications():
		h.driver.handleConsensusNotification(ctx, n)
	case <-time.After(time.Second):
		h.t.Fatal("timed out waiting for a consensus notification")
	}
}

func receiveError(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a response")
		return nil
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestDriver_FullNodeRejectsConsensusNotifications(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.FullNode, config.TestStateSyncConfig())
	h.setBootstrapped(true)

	commitErr := h.notifyCommit(ctx, testTransactions("alice", "bob"), nil)
	h.handleConsensusNotification(ctx)
	require.ErrorIs(t, receiveError(t, commitErr), ErrFullNodeConsensusNotification)

	for _, target := range []types.Version{5, 10, 20} {
		syncErr := h.syncToTarget(ctx, testLedgerInfo(target))
		h.handleConsensusNotification(ctx)
		require.ErrorIs(t, receiveError(t, syncErr), ErrFullNodeConsensusNotification)
	}

	require.False(t, h.driver.consensusHandler.ActiveSyncRequest())
	require.Empty(t, h.mempoolCommits)
	h.bootstrapper.AssertNotCalled(t, "DriveProgress", mock.Anything, mock.Anything)
	h.continuousSyncer.AssertNotCalled(t, "DriveProgress", mock.Anything, mock.Anything)
}

func TestDriver_ConsensusNotificationsBeforeBootstrap(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	h.setBootstrapped(false)

	commitErr := h.notifyCommit(ctx, testTransactions("alice"), nil)
	h.handleConsensusNotification(ctx)
	require.ErrorIs(t, receiveError(t, commitErr), ErrBootstrapNotComplete)

	syncErr := h.syncToTarget(ctx, testLedgerInfo(20))
	h.handleConsensusNotification(ctx)
	require.ErrorIs(t, receiveError(t, syncErr), ErrBootstrapNotComplete)

	require.False(t, h.driver.consensusHandler.ActiveSyncRequest())
	require.Nil(t, h.driver.consensusHandler.ConsensusSyncRequest().Get())
	require.Empty(t, h.mempoolCommits)
}

func TestDriver_ConsensusCommit(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	h.setBootstrapped(true)
	reconfigs := h.eventService.SubscribeToReconfigurations()

	txns := append(testTransactions("alice", "bob"), types.Transaction{Kind: types.BlockMetadata})
	events := []types.ContractEvent{{Key: types.NewEpochEventKey, SequenceNumber: 1}}

	commitErr := h.notifyCommit(ctx, txns, events)
	h.handleConsensusNotification(ctx)
	require.NoError(t, receiveError(t, commitErr))

	select {
	case n := <-h.mempoolCommits:
		require.Equal(t, []mempool.CommittedTransaction{
			{Sender: "alice", SequenceNumber: 0},
			{Sender: "bob", SequenceNumber: 1},
		}, n.Transactions)
		require.Equal(t, h.latestLedgerInfo.LedgerInfo.TimestampUsecs, n.BlockTimestampUsecs)
	case <-time.After(time.Second):
		t.Fatal("mempool was not notified")
	}

	select {
	case n := <-reconfigs.Out():
		require.Equal(t, eventbus.ReconfigNotification{Version: 10}, n)
	default:
		t.Fatal("reconfiguration subscribers were not notified")
	}
}

func TestDriver_ConsensusCommitStorageError(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	h.setBootstrapped(true)
	h.storageErr = errors.New("db closed")

	commitErr := h.notifyCommit(ctx, testTransactions("alice"), nil)
	h.handleConsensusNotification(ctx)
	require.ErrorIs(t, receiveError(t, commitErr), ErrStorageError)
	require.Empty(t, h.mempoolCommits)
}

func TestDriver_ConsensusCommitCompletesSyncRequest(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	h.setBootstrapped(true)

	syncErr := h.syncToTarget(ctx, testLedgerInfo(15))
	h.handleConsensusNotification(ctx)
	require.True(t, h.driver.consensusHandler.ActiveSyncRequest())

	// the commit brings the ledger to the sync target
	h.latestLedgerInfo = testLedgerInfo(15)
	commitErr := h.notifyCommit(ctx, testTransactions("alice"), nil)
	h.handleConsensusNotification(ctx)

	require.NoError(t, receiveError(t, commitErr))
	require.NoError(t, receiveError(t, syncErr))
	require.False(t, h.driver.consensusHandler.ActiveSyncRequest())
}

func TestDriver_ConsensusSyncToTarget(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	h.setBootstrapped(true)

	// behind the ledger
	syncErr := h.syncToTarget(ctx, testLedgerInfo(5))
	h.handleConsensusNotification(ctx)
	require.ErrorIs(t, receiveError(t, syncErr), ErrOldSyncRequest)
	require.False(t, h.driver.consensusHandler.ActiveSyncRequest())

	// already reached
	syncErr = h.syncToTarget(ctx, testLedgerInfo(10))
	h.handleConsensusNotification(ctx)
	require.NoError(t, receiveError(t, syncErr))
	require.False(t, h.driver.consensusHandler.ActiveSyncRequest())

	// ahead of the ledger
	h.syncToTarget(ctx, testLedgerInfo(20))
	h.handleConsensusNotification(ctx)
	request := h.driver.consensusHandler.ConsensusSyncRequest().Get()
	require.NotNil(t, request)
	require.EqualValues(t, 20, request.SyncTargetVersion())
	require.Equal(t, testStartTime, request.LastCommitTimestamp)
}

func TestDriver_CommittedTransactionsRefreshSyncRequest(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	h.setBootstrapped(true)

	h.syncToTarget(ctx, testLedgerInfo(20))
	h.handleConsensusNotification(ctx)

	previous := h.driver.consensusHandler.ConsensusSyncRequest().Get().LastCommitTimestamp
	for i := 0; i < 5; i++ {
		// the clock only moves every other commit
		if i%2 == 1 {
			h.clock.SetTime(h.clock.Now().Add(time.Second))
		}

		h.driver.handleCommitNotification(ctx, &CommittedTransactions{
			Transactions: testTransactions("alice"),
		})
		<-h.mempoolCommits

		current := h.driver.consensusHandler.ConsensusSyncRequest().Get().LastCommitTimestamp
		require.True(t, current.After(previous), "commit %d: %v is not after %v", i, current, previous)
		previous = current
	}
}

func TestDriver_CommittedTransactionsWithoutSyncRequest(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.FullNode, config.TestStateSyncConfig())
	subscription, err := h.eventService.SubscribeToEvents("0x1::coin::DepositEvent")
	require.NoError(t, err)

	events := []types.ContractEvent{{Key: "0x1::coin::DepositEvent", SequenceNumber: 3}}
	h.driver.handleCommitNotification(ctx, &CommittedTransactions{
		Events:       events,
		Transactions: testTransactions("alice", "bob"),
	})

	n := <-h.mempoolCommits
	require.Len(t, n.Transactions, 2)
	require.Equal(t, eventbus.EventNotification{Version: 10, Events: events}, <-subscription.Out())
	require.Nil(t, h.driver.consensusHandler.ConsensusSyncRequest().Get())
}

func TestDriver_CommittedAccounts(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.FullNode, config.TestStateSyncConfig())

	partial := &CommittedAccounts{LastCommittedAccountIndex: 99}
	h.bootstrapper.On("HandleCommittedAccounts", partial).Return(nil).Once()
	h.driver.handleCommitNotification(ctx, partial)
	require.Empty(t, h.mempoolCommits)

	final := &CommittedAccounts{
		AllAccountsSynced:         true,
		LastCommittedAccountIndex: 199,
		CommittedTransaction: &CommittedTransactions{
			Transactions: testTransactions("carol"),
		},
	}
	h.bootstrapper.On("HandleCommittedAccounts", final).Return(nil).Once()
	h.driver.handleCommitNotification(ctx, final)

	n := <-h.mempoolCommits
	require.Equal(t, []mempool.CommittedTransaction{{Sender: "carol", SequenceNumber: 0}}, n.Transactions)
}

func TestDriver_CommittedAccountsWithoutTransactionPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.FullNode, config.TestStateSyncConfig())

	accounts := &CommittedAccounts{AllAccountsSynced: true, LastCommittedAccountIndex: 10}
	h.bootstrapper.On("HandleCommittedAccounts", accounts).Return(nil).Once()

	require.Panics(t, func() { h.driver.handleCommitNotification(ctx, accounts) })
}

func TestDriver_ErrorNotificationTerminatesStream(t *testing.T) {
	testCases := []struct {
		name         string
		bootstrapped bool
	}{
		{"bootstrapping", false},
		{"continuously syncing", true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Cleanup(leaktest.Check(t))

			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)

			h := newDriverHarness(ctx, t, types.FullNode, config.TestStateSyncConfig())
			h.setBootstrapped(tc.bootstrapped)

			if tc.bootstrapped {
				h.continuousSyncer.On("TerminateActiveStream", mock.Anything, uint64(7), streaming.InvalidPayloadData).
					Return(nil).Once()
			} else {
				h.bootstrapper.On("TerminateActiveStream", mock.Anything, uint64(7), streaming.InvalidPayloadData).
					Return(nil).Once()
			}

			require.NotPanics(t, func() {
				h.driver.handleErrorNotification(ctx, ErrorNotification{
					NotificationID: 7,
					Err:            ErrStorageError,
				})
			})

			if tc.bootstrapped {
				h.bootstrapper.AssertNotCalled(t, "TerminateActiveStream", mock.Anything, mock.Anything, mock.Anything)
			} else {
				h.continuousSyncer.AssertNotCalled(t, "TerminateActiveStream", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestDriver_ErrorNotificationPanicsWhenTerminationFails(t *testing.T) {
	testCases := []struct {
		name         string
		bootstrapped bool
	}{
		{"bootstrapping", false},
		{"continuously syncing", true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)

			h := newDriverHarness(ctx, t, types.FullNode, config.TestStateSyncConfig())
			h.setBootstrapped(tc.bootstrapped)

			terminateErr := errors.New("unknown stream")
			if tc.bootstrapped {
				h.continuousSyncer.On("TerminateActiveStream", mock.Anything, uint64(3), streaming.InvalidPayloadData).
					Return(terminateErr).Once()
			} else {
				h.bootstrapper.On("TerminateActiveStream", mock.Anything, uint64(3), streaming.InvalidPayloadData).
					Return(terminateErr).Once()
			}

			require.Panics(t, func() {
				h.driver.handleErrorNotification(ctx, ErrorNotification{
					NotificationID: 3,
					Err:            ErrInvalidPayload,
				})
			})
		})
	}
}

func TestDriver_LoopContinuesAfterErrorNotification(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	h.setBootstrapped(false)

	terminated := make(chan struct{})
	h.bootstrapper.On("TerminateActiveStream", mock.Anything, uint64(42), streaming.InvalidPayloadData).
		Return(nil).
		Run(func(mock.Arguments) { close(terminated) }).
		Once()

	completed := make(chan struct{})
	h.bootstrapper.On("BootstrappingComplete").
		Return(nil).
		Run(func(mock.Arguments) { close(completed) }).
		Once()

	h.start(ctx)

	h.errorNotifier <- ErrorNotification{NotificationID: 42, Err: ErrStorageError}
	waitClosed(t, terminated, "the stream to be terminated")

	h.ticker.Force <- h.clock.Now()
	waitClosed(t, completed, "the next progress check")

	require.NoError(t, h.driver.Stop())
}

func TestDriver_EmptySummaryOnlyChecksAutoBootstrap(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.TestStateSyncConfig()
	cfg.MaxConnectionDeadlineSecs = 10

	h := newDriverHarness(ctx, t, types.Validator, cfg)
	h.setBootstrapped(false)

	h.driver.driveProgress(ctx)
	h.bootstrapper.AssertNotCalled(t, "BootstrappingComplete")

	h.clock.SetTime(testStartTime.Add(10 * time.Second))
	h.bootstrapper.On("BootstrappingComplete").Return(nil).Once()
	h.driver.driveProgress(ctx)

	h.bootstrapper.AssertNotCalled(t, "DriveProgress", mock.Anything, mock.Anything)
	h.continuousSyncer.AssertNotCalled(t, "DriveProgress", mock.Anything, mock.Anything)
}

func TestDriver_AutoBootstrapConditions(t *testing.T) {
	testCases := []struct {
		name         string
		role         types.RoleType
		waypoint     types.Waypoint
		deadlineSecs uint64
		bootstrapped bool
	}{
		{"full node", types.FullNode, types.Waypoint{}, 0, false},
		{"non genesis waypoint", types.Validator, types.Waypoint{Version: 5}, 0, false},
		{"already bootstrapped", types.Validator, types.Waypoint{}, 0, true},
		{"deadline overflows", types.Validator, types.Waypoint{}, math.MaxUint64, false},
		{"deadline just overflows", types.Validator, types.Waypoint{}, uint64(math.MaxInt64/int64(time.Second)) + 1, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			t.Cleanup(cancel)

			cfg := config.TestStateSyncConfig()
			cfg.MaxConnectionDeadlineSecs = tc.deadlineSecs

			h := newDriverHarness(ctx, t, tc.role, cfg)
			h.driver.config.Waypoint = tc.waypoint
			h.setBootstrapped(tc.bootstrapped)
			h.clock.SetTime(testStartTime.Add(365 * 24 * time.Hour))

			require.NotPanics(t, func() { h.driver.driveProgress(ctx) })
			h.bootstrapper.AssertNotCalled(t, "BootstrappingComplete")
		})
	}
}

func TestDriver_AutoBootstrapsIsolatedGenesisValidator(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	bootstrapper := NewBootstrapper(
		log.TestingLogger(),
		NopMetrics(),
		h.driver.config,
		nil,
		NewMockStorageSynchronizer(t),
		streamingmocks.NewStreamingClient(t),
	)
	h.driver.bootstrapper = bootstrapper
	require.False(t, bootstrapper.IsBootstrapped())

	h.start(ctx)
	h.ticker.Force <- h.clock.Now()

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, h.client.NotifyOnceBootstrapped(waitCtx))

	require.NoError(t, h.driver.Stop())
	require.True(t, bootstrapper.IsBootstrapped())
	require.True(t, h.driver.checkIfConsensusExecuting())
}

func TestDriver_ConsensusExecuting(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	h.setBootstrapped(true)
	h.dataClient.summary = summaryUpTo(testLedgerInfo(100))

	require.True(t, h.driver.checkIfConsensusExecuting())
	h.driver.driveProgress(ctx)

	h.bootstrapper.AssertNotCalled(t, "DriveProgress", mock.Anything, mock.Anything)
	h.continuousSyncer.AssertNotCalled(t, "DriveProgress", mock.Anything, mock.Anything)
}

func TestDriver_DrivesBootstrapper(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	h.setBootstrapped(false)
	h.dataClient.summary = summaryUpTo(testLedgerInfo(100))

	require.False(t, h.driver.checkIfConsensusExecuting())

	h.bootstrapper.On("DriveProgress", mock.Anything, h.dataClient.summary).Return(nil).Once()
	h.driver.driveProgress(ctx)

	// errors are only logged
	h.bootstrapper.On("DriveProgress", mock.Anything, h.dataClient.summary).Return(ErrAdvertisedDataError).Once()
	require.NotPanics(t, func() { h.driver.driveProgress(ctx) })

	h.continuousSyncer.AssertNotCalled(t, "DriveProgress", mock.Anything, mock.Anything)
}

func TestDriver_DrivesContinuousSyncer(t *testing.T) {
	t.Run("full node", func(t *testing.T) {
		t.Cleanup(leaktest.Check(t))

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		h := newDriverHarness(ctx, t, types.FullNode, config.TestStateSyncConfig())
		h.setBootstrapped(true)
		h.dataClient.summary = summaryUpTo(testLedgerInfo(100))

		h.continuousSyncer.On("DriveProgress", mock.Anything, (*ConsensusSyncRequest)(nil)).Return(nil).Once()
		h.driver.driveProgress(ctx)

		h.continuousSyncer.On("DriveProgress", mock.Anything, (*ConsensusSyncRequest)(nil)).Return(ErrDataStreamTimeout).Once()
		require.NotPanics(t, func() { h.driver.driveProgress(ctx) })

		h.bootstrapper.AssertNotCalled(t, "DriveProgress", mock.Anything, mock.Anything)
	})

	t.Run("validator with a sync request", func(t *testing.T) {
		t.Cleanup(leaktest.Check(t))

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
		h.setBootstrapped(true)
		h.dataClient.summary = summaryUpTo(testLedgerInfo(100))

		h.syncToTarget(ctx, testLedgerInfo(20))
		h.handleConsensusNotification(ctx)
		require.False(t, h.driver.checkIfConsensusExecuting())

		h.continuousSyncer.On("DriveProgress", mock.Anything, mock.MatchedBy(func(r *ConsensusSyncRequest) bool {
			return r != nil && r.SyncTargetVersion() == 20
		})).Return(nil).Once()
		h.driver.driveProgress(ctx)
	})
}

func TestDriver_ProgressCheckAnswersSyncRequest(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.Validator, config.TestStateSyncConfig())
	h.setBootstrapped(true)
	h.dataClient.summary = summaryUpTo(testLedgerInfo(100))

	syncErr := h.syncToTarget(ctx, testLedgerInfo(20))
	h.handleConsensusNotification(ctx)

	// synced past the target in the meantime
	h.latestLedgerInfo = testLedgerInfo(25)
	h.driver.driveProgress(ctx)

	require.ErrorIs(t, receiveError(t, syncErr), ErrSyncedBeyondTarget)
	require.False(t, h.driver.consensusHandler.ActiveSyncRequest())
	h.continuousSyncer.AssertNotCalled(t, "DriveProgress", mock.Anything, mock.Anything)
}

func TestDriver_ClientNotification(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := newDriverHarness(ctx, t, types.FullNode, config.TestStateSyncConfig())
	h.bootstrapper.On("SubscribeToBootstrapNotifications", mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) { args.Get(0).(chan<- error) <- nil }).
		Once()

	h.start(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, h.client.NotifyOnceBootstrapped(waitCtx))
}

func TestDriver_StopsWithContext(t *testing.T) {
	t.Cleanup(leaktest.Check(t))

	ctx, cancel := context.WithCancel(context.Background())

	h := newDriverHarness(ctx, t, types.FullNode, config.TestStateSyncConfig())
	h.start(ctx)
	require.True(t, h.driver.IsRunning())

	cancel()
	h.driver.Wait()
	require.False(t, h.driver.IsRunning())
}

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"

	"github.com/ledgersync/ledgersync/types"
)

var (
	// ErrEmptyLedger is returned by the latest version and ledger info
	// accessors when nothing has been committed yet.
	ErrEmptyLedger = errors.New("ledger is empty")

	// ErrNotFound is returned when a requested item is not in the store.
	ErrNotFound = errors.New("not found")
)

// LedgerStore is a simple low level store for the synced ledger.
//
// There are five types of information stored:
//   - Transaction: every committed transaction, keyed by version
//   - Events: the events emitted by each transaction, keyed by version
//   - LedgerInfo: the latest committed ledger info and every epoch ending one
//   - Account: account state blobs of downloaded snapshots
//   - Progress: the latest committed version and account download progress
//
// The store can be assumed to contain all contiguous transactions between the
// version of the last finalized account snapshot (or 0) and the latest version
// (inclusive).
//
// All writes are applied in a single batch and are serialized internally, so
// the store is safe for concurrent use.
type LedgerStore struct {
	mtx sync.Mutex
	db  dbm.DB
}

// NewLedgerStore returns a new LedgerStore backed by the given DB.
func NewLedgerStore(db dbm.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

// LatestVersion returns the version of the last committed transaction.
func (ls *LedgerStore) LatestVersion() (types.Version, error) {
	bz, err := ls.db.Get(latestVersionKey())
	if err != nil {
		return 0, err
	}
	if bz == nil {
		return 0, ErrEmptyLedger
	}

	var version types.Version
	if err := json.Unmarshal(bz, &version); err != nil {
		return 0, fmt.Errorf("decoding latest version: %w", err)
	}
	return version, nil
}

// Base returns the lowest version for which a transaction is stored.
func (ls *LedgerStore) Base() (types.Version, error) {
	iter, err := ls.db.Iterator(
		transactionKey(0),
		transactionKey(1<<64-1),
	)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if iter.Valid() {
		return decodeTransactionKey(iter.Key())
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	return 0, ErrEmptyLedger
}

// LatestLedgerInfo returns the ledger info of the last committed version.
func (ls *LedgerStore) LatestLedgerInfo() (types.LedgerInfoWithSignatures, error) {
	var li types.LedgerInfoWithSignatures

	ok, err := ls.load(latestLedgerInfoKey(), &li)
	if err != nil {
		return li, err
	}
	if !ok {
		return li, ErrEmptyLedger
	}
	return li, nil
}

// SaveTransactions appends a contiguous batch of transactions to the ledger.
// The batch must start right after the latest committed version, or at
// version 0 on an empty store. If ledgerInfo is non-nil it must certify the
// last transaction of the batch and becomes the latest ledger info.
func (ls *LedgerStore) SaveTransactions(
	txns types.TransactionListWithProof,
	ledgerInfo *types.LedgerInfoWithSignatures,
) error {
	if err := txns.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid transactions: %w", err)
	}

	ls.mtx.Lock()
	defer ls.mtx.Unlock()

	expected := types.Version(0)
	latest, err := ls.LatestVersion()
	switch {
	case err == nil:
		expected = latest + 1
	case errors.Is(err, ErrEmptyLedger):
	default:
		return err
	}

	if txns.FirstVersion != expected {
		return fmt.Errorf("non contiguous transactions: expected first version %d, got %d",
			expected, txns.FirstVersion)
	}

	return ls.saveTransactions(txns, ledgerInfo)
}

// SaveAccountStates persists a chunk of the account snapshot at chunk.Version.
// Chunks must be saved in index order.
func (ls *LedgerStore) SaveAccountStates(chunk types.AccountStatesChunkWithProof) error {
	if err := chunk.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid account states chunk: %w", err)
	}

	ls.mtx.Lock()
	defer ls.mtx.Unlock()

	var progress accountSyncProgress
	ok, err := ls.load(accountProgressKey(), &progress)
	if err != nil {
		return err
	}

	expectedIndex := uint64(0)
	if ok && progress.Version == chunk.Version {
		expectedIndex = progress.LastIndex + 1
	}
	if chunk.FirstIndex != expectedIndex {
		return fmt.Errorf("non contiguous account states at version %d: expected first index %d, got %d",
			chunk.Version, expectedIndex, chunk.FirstIndex)
	}

	batch := ls.db.NewBatch()
	defer batch.Close()

	for _, account := range chunk.Accounts {
		if err := setJSON(batch, accountKey(chunk.Version, account.Address), account); err != nil {
			return err
		}
	}

	progress = accountSyncProgress{
		Version:       chunk.Version,
		LastIndex:     chunk.LastIndex,
		TotalAccounts: chunk.TotalAccounts,
	}
	if err := setJSON(batch, accountProgressKey(), progress); err != nil {
		return err
	}

	return batch.WriteSync()
}

// FinalizeAccountSync commits the transaction that completes an account
// snapshot download. The snapshot at ledgerInfo's version must be fully
// saved. The transaction history restarts at the snapshot version.
func (ls *LedgerStore) FinalizeAccountSync(
	txns types.TransactionListWithProof,
	ledgerInfo types.LedgerInfoWithSignatures,
) error {
	if err := txns.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid transactions: %w", err)
	}
	if txns.LastVersion() != ledgerInfo.Version() {
		return fmt.Errorf("transactions end at version %d but ledger info is at version %d",
			txns.LastVersion(), ledgerInfo.Version())
	}

	ls.mtx.Lock()
	defer ls.mtx.Unlock()

	var progress accountSyncProgress
	ok, err := ls.load(accountProgressKey(), &progress)
	if err != nil {
		return err
	}
	if !ok || progress.Version != ledgerInfo.Version() {
		return fmt.Errorf("no account snapshot saved at version %d", ledgerInfo.Version())
	}
	if progress.LastIndex+1 < progress.TotalAccounts {
		return fmt.Errorf("account snapshot at version %d is incomplete: %d of %d accounts",
			progress.Version, progress.LastIndex+1, progress.TotalAccounts)
	}

	return ls.saveTransactions(txns, &ledgerInfo)
}

// SaveEpochEndingLedgerInfos persists ledger infos that close an epoch.
func (ls *LedgerStore) SaveEpochEndingLedgerInfos(lis []types.LedgerInfoWithSignatures) error {
	batch := ls.db.NewBatch()
	defer batch.Close()

	for _, li := range lis {
		if !li.LedgerInfo.EndsEpoch {
			return fmt.Errorf("ledger info at version %d does not end an epoch", li.Version())
		}
		if err := setJSON(batch, epochLedgerInfoKey(li.Epoch()), li); err != nil {
			return err
		}
	}

	return batch.WriteSync()
}

// GetTransaction returns the transaction committed at version.
func (ls *LedgerStore) GetTransaction(version types.Version) (types.Transaction, error) {
	var txn types.Transaction

	ok, err := ls.load(transactionKey(version), &txn)
	if err != nil {
		return txn, err
	}
	if !ok {
		return txn, fmt.Errorf("transaction at version %d: %w", version, ErrNotFound)
	}
	return txn, nil
}

// GetEvents returns the events emitted by the transaction at version.
func (ls *LedgerStore) GetEvents(version types.Version) ([]types.ContractEvent, error) {
	var events []types.ContractEvent

	ok, err := ls.load(eventsKey(version), &events)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("events at version %d: %w", version, ErrNotFound)
	}
	return events, nil
}

// GetAccountState returns the state of address in the snapshot at version.
func (ls *LedgerStore) GetAccountState(version types.Version, address string) (types.AccountState, error) {
	var account types.AccountState

	ok, err := ls.load(accountKey(version, address), &account)
	if err != nil {
		return account, err
	}
	if !ok {
		return account, fmt.Errorf("account %s at version %d: %w", address, version, ErrNotFound)
	}
	return account, nil
}

// LedgerInfoAtEpoch returns the ledger info that ended the given epoch.
func (ls *LedgerStore) LedgerInfoAtEpoch(epoch types.Epoch) (types.LedgerInfoWithSignatures, error) {
	var li types.LedgerInfoWithSignatures

	ok, err := ls.load(epochLedgerInfoKey(epoch), &li)
	if err != nil {
		return li, err
	}
	if !ok {
		return li, fmt.Errorf("ledger info ending epoch %d: %w", epoch, ErrNotFound)
	}
	return li, nil
}

func (ls *LedgerStore) Close() error {
	return ls.db.Close()
}

// saveTransactions writes the batch and moves the latest version to its last
// transaction. Callers hold ls.mtx.
func (ls *LedgerStore) saveTransactions(
	txns types.TransactionListWithProof,
	ledgerInfo *types.LedgerInfoWithSignatures,
) error {
	lastVersion := txns.LastVersion()
	if ledgerInfo != nil && ledgerInfo.Version() != lastVersion {
		return fmt.Errorf("ledger info version %d does not match last transaction version %d",
			ledgerInfo.Version(), lastVersion)
	}

	batch := ls.db.NewBatch()
	defer batch.Close()

	for i, txn := range txns.Transactions {
		version := txns.FirstVersion + uint64(i)
		if err := setJSON(batch, transactionKey(version), txn); err != nil {
			return err
		}

		var events []types.ContractEvent
		if txns.Events != nil {
			events = txns.Events[i]
		}
		if events == nil {
			events = []types.ContractEvent{}
		}
		if err := setJSON(batch, eventsKey(version), events); err != nil {
			return err
		}
	}

	if err := setJSON(batch, latestVersionKey(), lastVersion); err != nil {
		return err
	}

	if ledgerInfo != nil {
		if err := setJSON(batch, latestLedgerInfoKey(), ledgerInfo); err != nil {
			return err
		}
		if ledgerInfo.LedgerInfo.EndsEpoch {
			if err := setJSON(batch, epochLedgerInfoKey(ledgerInfo.Epoch()), ledgerInfo); err != nil {
				return err
			}
		}
	}

	return batch.WriteSync()
}

func (ls *LedgerStore) load(key []byte, v interface{}) (bool, error) {
	bz, err := ls.db.Get(key)
	if err != nil {
		return false, err
	}
	if bz == nil {
		return false, nil
	}
	if err := json.Unmarshal(bz, v); err != nil {
		return false, fmt.Errorf("decoding %T: %w", v, err)
	}
	return true, nil
}

type accountSyncProgress struct {
	Version       types.Version `json:"version"`
	LastIndex     uint64        `json:"last_index"`
	TotalAccounts uint64        `json:"total_accounts"`
}

//---------------------------------- KEY ENCODING -----------------------------------------

// key prefixes
const (
	prefixTransaction      = int64(0)
	prefixEvents           = int64(1)
	prefixLatestVersion    = int64(2)
	prefixLatestLedgerInfo = int64(3)
	prefixEpochLedgerInfo  = int64(4)
	prefixAccount          = int64(5)
	prefixAccountProgress  = int64(6)
)

func transactionKey(version types.Version) []byte {
	return mustAppend(prefixTransaction, version)
}

func eventsKey(version types.Version) []byte {
	return mustAppend(prefixEvents, version)
}

func latestVersionKey() []byte {
	return mustAppend(prefixLatestVersion)
}

func latestLedgerInfoKey() []byte {
	return mustAppend(prefixLatestLedgerInfo)
}

func epochLedgerInfoKey(epoch types.Epoch) []byte {
	return mustAppend(prefixEpochLedgerInfo, epoch)
}

func accountKey(version types.Version, address string) []byte {
	return mustAppend(prefixAccount, version, address)
}

func accountProgressKey() []byte {
	return mustAppend(prefixAccountProgress)
}

func decodeTransactionKey(key []byte) (version types.Version, err error) {
	var prefix int64
	remaining, err := orderedcode.Parse(string(key), &prefix, &version)
	if err != nil {
		return
	}
	if len(remaining) != 0 {
		return 0, fmt.Errorf("expected complete key but got remainder: %s", remaining)
	}
	if prefix != prefixTransaction {
		return 0, fmt.Errorf("incorrect prefix. Expected %v, got %v", prefixTransaction, prefix)
	}
	return
}

func mustAppend(items ...interface{}) []byte {
	key, err := orderedcode.Append(nil, items...)
	if err != nil {
		panic(err)
	}
	return key
}

//-----------------------------------------------------------------------------

func setJSON(batch dbm.Batch, key []byte, v interface{}) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("unable to marshal %T: %w", v, err)
	}
	return batch.Set(key, bz)
}

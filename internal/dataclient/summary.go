// Package dataclient summarizes the ledger data advertised by connected
// peers.
package dataclient

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ledgersync/ledgersync/types"
)

// DataClient reports what data the network can serve.
type DataClient interface {
	// GlobalDataSummary returns the union of the data advertised by all
	// peers. An empty summary means there are no usable peers.
	GlobalDataSummary() GlobalDataSummary
}

// CompleteDataRange is an inclusive range of versions, epochs or account
// indices.
type CompleteDataRange struct {
	Lowest  uint64
	Highest uint64
}

// NewCompleteDataRange returns the range [lowest, highest].
func NewCompleteDataRange(lowest, highest uint64) (CompleteDataRange, error) {
	if highest < lowest {
		return CompleteDataRange{}, fmt.Errorf("invalid data range [%d, %d]", lowest, highest)
	}
	return CompleteDataRange{Lowest: lowest, Highest: highest}, nil
}

// Contains reports whether n lies in the range.
func (r CompleteDataRange) Contains(n uint64) bool {
	return r.Lowest <= n && n <= r.Highest
}

func (r CompleteDataRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Lowest, r.Highest)
}

// AdvertisedData is the data a set of peers can serve.
type AdvertisedData struct {
	AccountStates          []CompleteDataRange
	EpochEndingLedgerInfos []CompleteDataRange
	SyncedLedgerInfos      []types.LedgerInfoWithSignatures
	Transactions           []CompleteDataRange
}

// IsEmpty reports whether nothing is advertised.
func (a AdvertisedData) IsEmpty() bool {
	return len(a.AccountStates) == 0 &&
		len(a.EpochEndingLedgerInfos) == 0 &&
		len(a.SyncedLedgerInfos) == 0 &&
		len(a.Transactions) == 0
}

// HighestSyncedLedgerInfo returns the most recent ledger info any peer has
// synced to, or nil if none is advertised.
func (a AdvertisedData) HighestSyncedLedgerInfo() *types.LedgerInfoWithSignatures {
	var highest *types.LedgerInfoWithSignatures
	for i := range a.SyncedLedgerInfos {
		li := &a.SyncedLedgerInfos[i]
		if highest == nil || li.Version() > highest.Version() {
			highest = li
		}
	}
	return highest
}

// ContainsTransactions reports whether a single peer advertises every
// version in [start, end].
func (a AdvertisedData) ContainsTransactions(start, end types.Version) bool {
	for _, r := range a.Transactions {
		if r.Contains(start) && r.Contains(end) {
			return true
		}
	}
	return false
}

// ContainsAccountStates reports whether the account snapshot at version is
// advertised.
func (a AdvertisedData) ContainsAccountStates(version types.Version) bool {
	for _, r := range a.AccountStates {
		if r.Contains(version) {
			return true
		}
	}
	return false
}

// OptimalChunkSizes are the request sizes peers serve best.
type OptimalChunkSizes struct {
	AccountStatesChunkSize     uint64
	EpochChunkSize             uint64
	TransactionChunkSize       uint64
	TransactionOutputChunkSize uint64
}

// GlobalDataSummary is the aggregated view of all peers.
type GlobalDataSummary struct {
	AdvertisedData    AdvertisedData
	OptimalChunkSizes OptimalChunkSizes
}

// EmptySummary returns a summary with no advertised data.
func EmptySummary() GlobalDataSummary {
	return GlobalDataSummary{}
}

// IsEmpty reports whether no peer advertises any data.
func (s GlobalDataSummary) IsEmpty() bool {
	return s.AdvertisedData.IsEmpty()
}

// PeerSummary is what a single peer advertises.
type PeerSummary struct {
	AdvertisedData    AdvertisedData
	OptimalChunkSizes OptimalChunkSizes
}

// PeerSummaries is a DataClient that aggregates the summaries reported by
// individual peers. It is safe for concurrent use.
type PeerSummaries struct {
	mtx   sync.RWMutex
	peers map[string]PeerSummary
}

var _ DataClient = (*PeerSummaries)(nil)

// NewPeerSummaries returns an aggregator without peers.
func NewPeerSummaries() *PeerSummaries {
	return &PeerSummaries{peers: make(map[string]PeerSummary)}
}

// UpdatePeerSummary records the latest summary advertised by peer.
func (p *PeerSummaries) UpdatePeerSummary(peer string, summary PeerSummary) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.peers[peer] = summary
}

// RemovePeer forgets peer.
func (p *PeerSummaries) RemovePeer(peer string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	delete(p.peers, peer)
}

// GlobalDataSummary implements DataClient. Advertised data is the union of
// every peer; optimal chunk sizes are the median across peers.
func (p *PeerSummaries) GlobalDataSummary() GlobalDataSummary {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	if len(p.peers) == 0 {
		return EmptySummary()
	}

	var summary GlobalDataSummary
	var accountSizes, epochSizes, txnSizes, outputSizes []uint64
	for _, peer := range p.peers {
		data := peer.AdvertisedData
		summary.AdvertisedData.AccountStates = append(summary.AdvertisedData.AccountStates, data.AccountStates...)
		summary.AdvertisedData.EpochEndingLedgerInfos = append(summary.AdvertisedData.EpochEndingLedgerInfos, data.EpochEndingLedgerInfos...)
		summary.AdvertisedData.SyncedLedgerInfos = append(summary.AdvertisedData.SyncedLedgerInfos, data.SyncedLedgerInfos...)
		summary.AdvertisedData.Transactions = append(summary.AdvertisedData.Transactions, data.Transactions...)

		sizes := peer.OptimalChunkSizes
		accountSizes = append(accountSizes, sizes.AccountStatesChunkSize)
		epochSizes = append(epochSizes, sizes.EpochChunkSize)
		txnSizes = append(txnSizes, sizes.TransactionChunkSize)
		outputSizes = append(outputSizes, sizes.TransactionOutputChunkSize)
	}

	summary.OptimalChunkSizes = OptimalChunkSizes{
		AccountStatesChunkSize:     median(accountSizes),
		EpochChunkSize:             median(epochSizes),
		TransactionChunkSize:       median(txnSizes),
		TransactionOutputChunkSize: median(outputSizes),
	}
	return summary
}

func median(values []uint64) uint64 {
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values[len(values)/2]
}

// Package streaming defines the data streams state sync consumes and the
// feedback it sends back when a stream misbehaves.
package streaming

import (
	"context"
	"fmt"

	"github.com/ledgersync/ledgersync/types"
)

// NotificationID identifies a single notification of a data stream.
type NotificationID = uint64

// NotificationFeedback classifies why a stream is terminated. The streaming
// service uses it to penalize the peers that served the data.
type NotificationFeedback int

const (
	EmptyPayloadData NotificationFeedback = iota
	InvalidPayloadData
	PayloadProofFailed
	PayloadTypeIsIncorrect
	EndOfStreamReached
	InvalidPayloadStartVersion
)

func (f NotificationFeedback) String() string {
	switch f {
	case EmptyPayloadData:
		return "empty_payload_data"
	case InvalidPayloadData:
		return "invalid_payload_data"
	case PayloadProofFailed:
		return "payload_proof_failed"
	case PayloadTypeIsIncorrect:
		return "payload_type_is_incorrect"
	case EndOfStreamReached:
		return "end_of_stream_reached"
	case InvalidPayloadStartVersion:
		return "invalid_payload_start_version"
	default:
		return fmt.Sprintf("NotificationFeedback(%d)", int(f))
	}
}

// DataPayload is one of *TransactionsWithProof, *AccountStatesWithProof,
// *EpochEndingLedgerInfos or *EndOfStream.
type DataPayload interface {
	dataPayload()
}

// TransactionsWithProof is a batch of transactions proven against
// LedgerInfo.
type TransactionsWithProof struct {
	LedgerInfo   types.LedgerInfoWithSignatures
	Transactions types.TransactionListWithProof
}

// AccountStatesWithProof is a chunk of an account snapshot.
type AccountStatesWithProof struct {
	Chunk types.AccountStatesChunkWithProof
}

// EpochEndingLedgerInfos is a contiguous run of epoch ending ledger infos.
type EpochEndingLedgerInfos struct {
	LedgerInfos []types.LedgerInfoWithSignatures
}

// EndOfStream is the last notification of a finite stream.
type EndOfStream struct{}

func (*TransactionsWithProof) dataPayload()  {}
func (*AccountStatesWithProof) dataPayload() {}
func (*EpochEndingLedgerInfos) dataPayload() {}
func (*EndOfStream) dataPayload()            {}

// DataNotification is a single item of a data stream.
type DataNotification struct {
	NotificationID NotificationID
	Payload        DataPayload
}

// DataStreamListener is the receiving end of a data stream.
type DataStreamListener struct {
	notifications <-chan DataNotification
}

// NewDataStreamListener returns a listener reading from ch.
func NewDataStreamListener(ch <-chan DataNotification) *DataStreamListener {
	return &DataStreamListener{notifications: ch}
}

// Notifications returns the channel the stream is delivered on. The channel
// is closed when the stream ends.
func (l *DataStreamListener) Notifications() <-chan DataNotification {
	return l.notifications
}

// StreamingClient opens data streams and terminates them.
//
//go:generate ../../scripts/mockery_generate.sh StreamingClient
type StreamingClient interface {
	// GetAllEpochEndingLedgerInfos streams every epoch ending ledger info
	// starting at startEpoch.
	GetAllEpochEndingLedgerInfos(ctx context.Context, startEpoch types.Epoch) (*DataStreamListener, error)

	// GetAllTransactions streams the transactions in [startVersion,
	// endVersion], proven against the ledger info at proofVersion.
	GetAllTransactions(
		ctx context.Context,
		startVersion, endVersion, proofVersion types.Version,
	) (*DataStreamListener, error)

	// GetAllAccounts streams the account snapshot at version starting at
	// account index startIndex.
	GetAllAccounts(ctx context.Context, version types.Version, startIndex uint64) (*DataStreamListener, error)

	// ContinuouslyStreamTransactions streams every transaction after
	// startVersion. If target is set the stream ends once target is
	// reached.
	ContinuouslyStreamTransactions(
		ctx context.Context,
		startVersion types.Version,
		startEpoch types.Epoch,
		target *types.LedgerInfoWithSignatures,
	) (*DataStreamListener, error)

	// TerminateStream terminates the stream that produced notificationID.
	TerminateStream(ctx context.Context, notificationID NotificationID, feedback NotificationFeedback) error
}

package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// TransactionKind distinguishes user submitted transactions from the ones
// produced by the system.
type TransactionKind uint8

const (
	UserTransaction TransactionKind = iota
	BlockMetadata
	GenesisTransaction
	StateCheckpoint
)

func (k TransactionKind) String() string {
	switch k {
	case UserTransaction:
		return "user_transaction"
	case BlockMetadata:
		return "block_metadata"
	case GenesisTransaction:
		return "genesis_transaction"
	case StateCheckpoint:
		return "state_checkpoint"
	default:
		return fmt.Sprintf("TransactionKind(%d)", uint8(k))
	}
}

// Transaction is a committed ledger transaction.
type Transaction struct {
	Kind           TransactionKind `json:"kind"`
	Sender         string          `json:"sender,omitempty"`
	SequenceNumber uint64          `json:"sequence_number,omitempty"`
	Payload        []byte          `json:"payload,omitempty"`
}

// Hash returns the digest of the transaction.
func (tx Transaction) Hash() HashValue {
	var buf bytes.Buffer
	buf.WriteByte(byte(tx.Kind))
	buf.WriteString(tx.Sender)
	_ = binary.Write(&buf, binary.BigEndian, tx.SequenceNumber)
	buf.Write(tx.Payload)
	return HashBytes(buf.Bytes())
}

// IsUserTransaction reports whether the transaction was submitted by an account.
func (tx Transaction) IsUserTransaction() bool { return tx.Kind == UserTransaction }

// EventKey identifies an event stream.
type EventKey string

// NewEpochEventKey is the key of the on-chain event emitted on every
// reconfiguration.
const NewEpochEventKey EventKey = "0x1::reconfiguration::NewEpochEvent"

// ContractEvent is an event emitted by a transaction.
type ContractEvent struct {
	Key            EventKey `json:"key"`
	SequenceNumber uint64   `json:"sequence_number"`
	TypeTag        string   `json:"type_tag"`
	Data           []byte   `json:"data,omitempty"`
}

// IsReconfiguration reports whether the event signals a new epoch.
func (e ContractEvent) IsReconfiguration() bool { return e.Key == NewEpochEventKey }

// TransactionListWithProof is a contiguous batch of transactions starting at
// FirstVersion. Events[i] are the events emitted by Transactions[i].
type TransactionListWithProof struct {
	FirstVersion Version           `json:"first_version"`
	Transactions []Transaction     `json:"transactions"`
	Events       [][]ContractEvent `json:"events,omitempty"`
}

// Len returns the number of transactions in the list.
func (l TransactionListWithProof) Len() int { return len(l.Transactions) }

// LastVersion returns the version of the last transaction in the list. It must
// not be called on an empty list.
func (l TransactionListWithProof) LastVersion() Version {
	return l.FirstVersion + uint64(len(l.Transactions)) - 1
}

// AllEvents flattens the events emitted by every transaction, in commit order.
func (l TransactionListWithProof) AllEvents() []ContractEvent {
	var events []ContractEvent
	for _, evs := range l.Events {
		events = append(events, evs...)
	}
	return events
}

// ValidateBasic performs stateless validation of the list.
func (l TransactionListWithProof) ValidateBasic() error {
	if len(l.Transactions) == 0 {
		return errors.New("empty transaction list")
	}
	if l.Events != nil && len(l.Events) != len(l.Transactions) {
		return fmt.Errorf("event list length %d does not match transaction count %d",
			len(l.Events), len(l.Transactions))
	}
	return nil
}

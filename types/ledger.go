package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Version is the position of a transaction in the ledger history.
type Version = uint64

// Epoch is a monotonically increasing reconfiguration counter.
type Epoch = uint64

// HashLength is the length in bytes of a HashValue.
const HashLength = sha256.Size

// HashValue is a fixed size cryptographic digest.
type HashValue [HashLength]byte

// ZeroHash is the all zero hash value.
var ZeroHash HashValue

// ParseHashValue decodes a hex encoded hash value.
func ParseHashValue(s string) (HashValue, error) {
	var h HashValue

	bz, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("invalid hash value %q: %w", s, err)
	}
	if len(bz) != HashLength {
		return h, fmt.Errorf("invalid hash length %d, expected %d", len(bz), HashLength)
	}

	copy(h[:], bz)
	return h, nil
}

// HashBytes returns the sha256 digest of bz.
func HashBytes(bz []byte) HashValue { return sha256.Sum256(bz) }

// String returns the lowercase hex encoding of the hash.
func (h HashValue) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether every byte of the hash is zero.
func (h HashValue) IsZero() bool { return h == ZeroHash }

// LedgerInfo summarizes the state of the ledger at a given version. It is the
// payload consensus signs when committing a block.
type LedgerInfo struct {
	Epoch           Epoch     `json:"epoch"`
	Version         Version   `json:"version"`
	TimestampUsecs  uint64    `json:"timestamp_usecs"`
	AccumulatorRoot HashValue `json:"accumulator_root"`

	// EndsEpoch is set when the ledger info is the last one of its epoch.
	EndsEpoch bool `json:"ends_epoch"`
}

// Hash returns the sha256 digest of the canonical encoding of the ledger info.
func (li LedgerInfo) Hash() HashValue {
	bz := make([]byte, 0, 8*3+HashLength+1)
	bz = binary.BigEndian.AppendUint64(bz, li.Epoch)
	bz = binary.BigEndian.AppendUint64(bz, li.Version)
	bz = binary.BigEndian.AppendUint64(bz, li.TimestampUsecs)
	bz = append(bz, li.AccumulatorRoot[:]...)
	if li.EndsEpoch {
		bz = append(bz, 1)
	} else {
		bz = append(bz, 0)
	}

	return sha256.Sum256(bz)
}

// NextBlockEpoch returns the epoch of the block following this ledger info.
func (li LedgerInfo) NextBlockEpoch() Epoch {
	if li.EndsEpoch {
		return li.Epoch + 1
	}
	return li.Epoch
}

func (li LedgerInfo) String() string {
	return fmt.Sprintf("LedgerInfo{epoch: %d, version: %d, timestamp: %d, ends_epoch: %t}",
		li.Epoch, li.Version, li.TimestampUsecs, li.EndsEpoch)
}

// LedgerInfoWithSignatures is a LedgerInfo along with the signatures of the
// validators that committed it.
type LedgerInfoWithSignatures struct {
	LedgerInfo LedgerInfo        `json:"ledger_info"`
	Signatures map[string][]byte `json:"signatures,omitempty"`
}

// NewLedgerInfoWithSignatures wraps li without any signatures.
func NewLedgerInfoWithSignatures(li LedgerInfo) LedgerInfoWithSignatures {
	return LedgerInfoWithSignatures{LedgerInfo: li}
}

// Version is a shortcut for the version of the wrapped ledger info.
func (li LedgerInfoWithSignatures) Version() Version { return li.LedgerInfo.Version }

// Epoch is a shortcut for the epoch of the wrapped ledger info.
func (li LedgerInfoWithSignatures) Epoch() Epoch { return li.LedgerInfo.Epoch }

// ValidateBasic performs stateless validation of the ledger info.
func (li LedgerInfoWithSignatures) ValidateBasic() error {
	if li.LedgerInfo.AccumulatorRoot.IsZero() && li.LedgerInfo.Version != 0 {
		return errors.New("ledger info is missing the accumulator root")
	}
	for author, sig := range li.Signatures {
		if len(sig) == 0 {
			return fmt.Errorf("empty signature from %s", author)
		}
	}
	return nil
}

func (li LedgerInfoWithSignatures) String() string {
	return fmt.Sprintf("%v (%d signatures)", li.LedgerInfo, len(li.Signatures))
}

package types

import (
	"errors"
	"fmt"
)

// AccountState is the serialized state of a single account.
type AccountState struct {
	Address string `json:"address"`
	Blob    []byte `json:"blob"`
}

// AccountStatesChunkWithProof is a chunk of the account states at Version,
// covering the account indices [FirstIndex, LastIndex].
type AccountStatesChunkWithProof struct {
	Version       Version        `json:"version"`
	FirstIndex    uint64         `json:"first_index"`
	LastIndex     uint64         `json:"last_index"`
	TotalAccounts uint64         `json:"total_accounts"`
	Accounts      []AccountState `json:"accounts"`
}

// IsLastChunk reports whether the chunk contains the final account.
func (c AccountStatesChunkWithProof) IsLastChunk() bool {
	return c.LastIndex+1 >= c.TotalAccounts
}

// ValidateBasic performs stateless validation of the chunk.
func (c AccountStatesChunkWithProof) ValidateBasic() error {
	if len(c.Accounts) == 0 {
		return errors.New("empty account states chunk")
	}
	if c.LastIndex < c.FirstIndex {
		return fmt.Errorf("last index %d is before first index %d", c.LastIndex, c.FirstIndex)
	}
	if n := c.LastIndex - c.FirstIndex + 1; n != uint64(len(c.Accounts)) {
		return fmt.Errorf("chunk covers %d indices but contains %d accounts", n, len(c.Accounts))
	}
	if c.LastIndex >= c.TotalAccounts {
		return fmt.Errorf("last index %d exceeds total accounts %d", c.LastIndex, c.TotalAccounts)
	}
	return nil
}

package types

import (
	"fmt"
	"strings"
)

// RoleType is the role a node plays in the network.
type RoleType int

const (
	// Validator nodes participate in consensus.
	Validator RoleType = iota
	// FullNode nodes only replicate the ledger.
	FullNode
)

const (
	roleValidatorName = "validator"
	roleFullNodeName  = "full"
)

// ParseRoleType converts the configured mode into a RoleType.
func ParseRoleType(s string) (RoleType, error) {
	switch strings.ToLower(s) {
	case roleValidatorName:
		return Validator, nil
	case roleFullNodeName, "full_node", "fullnode":
		return FullNode, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

func (r RoleType) String() string {
	switch r {
	case Validator:
		return roleValidatorName
	case FullNode:
		return roleFullNodeName
	default:
		return fmt.Sprintf("RoleType(%d)", int(r))
	}
}

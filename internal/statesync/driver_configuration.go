package statesync

import (
	"github.com/ledgersync/ledgersync/config"
	"github.com/ledgersync/ledgersync/types"
)

// DriverConfiguration holds everything the driver and the components it
// drives need to know about the node. It is immutable and passed by value.
type DriverConfiguration struct {
	Config   config.StateSyncConfig
	Role     types.RoleType
	Waypoint types.Waypoint
}

// NewDriverConfiguration returns a configuration for a node with the given
// role that trusts waypoint.
func NewDriverConfiguration(cfg *config.StateSyncConfig, role types.RoleType, waypoint types.Waypoint) DriverConfiguration {
	return DriverConfiguration{
		Config:   *cfg,
		Role:     role,
		Waypoint: waypoint,
	}
}

// IsValidator reports whether the node takes part in consensus.
func (c DriverConfiguration) IsValidator() bool {
	return c.Role == types.Validator
}

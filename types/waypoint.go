package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Waypoint is a trusted (version, ledger info hash) checkpoint. A node refuses
// to sync to a history that does not pass through its waypoint.
type Waypoint struct {
	Version Version
	Value   HashValue
}

// NewWaypoint creates a waypoint committing to li.
func NewWaypoint(li LedgerInfo) Waypoint {
	return Waypoint{
		Version: li.Version,
		Value:   li.Hash(),
	}
}

// ParseWaypoint parses a waypoint of the form "<version>:<hex hash>".
func ParseWaypoint(s string) (Waypoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Waypoint{}, fmt.Errorf("invalid waypoint %q: expected <version>:<hash>", s)
	}

	version, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Waypoint{}, fmt.Errorf("invalid waypoint version %q: %w", parts[0], err)
	}

	value, err := ParseHashValue(parts[1])
	if err != nil {
		return Waypoint{}, err
	}

	return Waypoint{Version: version, Value: value}, nil
}

// IsGenesis reports whether the waypoint is at the genesis version.
func (w Waypoint) IsGenesis() bool { return w.Version == 0 }

// Verify checks that li is the ledger info the waypoint commits to.
func (w Waypoint) Verify(li LedgerInfo) error {
	if li.Version != w.Version {
		return fmt.Errorf("waypoint version mismatch: waypoint %d, ledger info %d", w.Version, li.Version)
	}
	if h := li.Hash(); h != w.Value {
		return fmt.Errorf("waypoint value mismatch: waypoint %v, ledger info %v", w.Value, h)
	}
	return nil
}

func (w Waypoint) String() string {
	return fmt.Sprintf("%d:%v", w.Version, w.Value)
}

package pipeline

import (
	"errors"
	"fmt"
)

// ErrMissingSensorData marks a tick where fewer measurements arrived than
// agents were live. It is never fatal.
var ErrMissingSensorData = errors.New("missing sensor data")

// MissingSensorDataError reports which agents did not deliver for a tick.
type MissingSensorDataError struct {
	TickID   uint64
	Expected int
	Missing  []int
}

func (e *MissingSensorDataError) Error() string {
	return fmt.Sprintf("tick %d: %d of %d agents missing %v", e.TickID, len(e.Missing), e.Expected, e.Missing)
}

func (e *MissingSensorDataError) Unwrap() error { return ErrMissingSensorData }

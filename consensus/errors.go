package consensus

import (
	"errors"
	"fmt"

	"segchain/types"
)

var (
	ErrValidatorExists   = errors.New("validator already registered")
	ErrValidatorNotFound = errors.New("validator not registered")
)

// ErrHardwareRequirements is returned when a candidate's declared specs are
// below the minimums for its type.
type ErrHardwareRequirements struct {
	Address  string
	Type     types.ValidatorType
	Have     types.HardwareSpecs
	Required types.HardwareSpecs
}

func (e ErrHardwareRequirements) Error() string {
	return fmt.Sprintf("validator %s (%s) fails hardware requirements: have %+v, need %+v",
		e.Address, e.Type, e.Have, e.Required)
}

func (e ErrHardwareRequirements) Is(target error) bool {
	return target == types.ErrConsensus
}

package contract

import (
	"fmt"

	"segchain/types"
)

var (
	ErrInvalidBytecode = fmt.Errorf("%w: invalid contract bytecode", types.ErrContract)
	ErrContractExists  = fmt.Errorf("%w: contract already deployed", types.ErrContract)
	ErrUnknownContract = fmt.Errorf("%w: contract not found or inactive", types.ErrContract)
	ErrUnknownMethod   = fmt.Errorf("%w: unknown method", types.ErrContract)
	ErrStateNotFound   = fmt.Errorf("%w: state key not found", types.ErrContract)
)

// ErrBadArity is returned when a standard method is called with the wrong
// number of parameters.
type ErrBadArity struct {
	Method string
	Want   int
	Got    int
}

func (e ErrBadArity) Error() string {
	return fmt.Sprintf("%s takes %d params, got %d", e.Method, e.Want, e.Got)
}

func (e ErrBadArity) Is(target error) bool {
	return target == types.ErrContract
}

package node

import (
	"errors"
	"fmt"
)

var (
	ErrNotRunning       = errors.New("node is not running")
	ErrUnknownValidator = errors.New("validator is not hosted by this node")
)

// ErrInvalidTransaction is returned by SubmitTransaction when tx fails its
// structural or signature checks.
type ErrInvalidTransaction struct {
	Err error
}

func (e ErrInvalidTransaction) Error() string {
	return fmt.Sprintf("invalid transaction: %v", e.Err)
}

func (e ErrInvalidTransaction) Unwrap() error {
	return e.Err
}

package mempool

import (
	"errors"
	"fmt"

	"segchain/types"
)

var (
	// ErrTxInCache is returned to the client if we saw tx earlier
	ErrTxInCache = errors.New("tx already exists in cache")
	// ErrTxInMempool is returned when the tx is already staged
	ErrTxInMempool = errors.New("tx already exists in mempool")
)

// ErrMempoolIsFull means the pool stayed at capacity after sweeping expired entries.
type ErrMempoolIsFull struct {
	NumTxs int
	MaxTxs int
}

func (e ErrMempoolIsFull) Error() string {
	return fmt.Sprintf("mempool is full: number of txs %d (max: %d)", e.NumTxs, e.MaxTxs)
}

func (e ErrMempoolIsFull) Is(target error) bool {
	return target == types.ErrCapacity
}

// ErrPreCheck is returned when tx fails the pre-check.
type ErrPreCheck struct {
	Reason error
}

func (e ErrPreCheck) Error() string {
	return e.Reason.Error()
}

func (e ErrPreCheck) Unwrap() error {
	return e.Reason
}

// IsPreCheckError returns true if err is due to pre check failure.
func IsPreCheckError(err error) bool {
	var e ErrPreCheck
	return errors.As(err, &e)
}

package types

import (
	"errors"
	"fmt"
)

// Error classes. Concrete errors either wrap one of these or implement Is so
// callers can branch with errors.Is(err, types.ErrBalance).
var (
	ErrStructural = errors.New("malformed block or transaction")
	ErrLink       = errors.New("hash chain mismatch")
	ErrSignature  = errors.New("signature verification failed")
	ErrBalance    = errors.New("insufficient balance")
	ErrConsensus  = errors.New("consensus failure")
	ErrNetwork    = errors.New("network error")
	ErrCapacity   = errors.New("capacity exceeded")
	ErrContract   = errors.New("contract error")
)

// Numeric codes reported to RPC clients.
const (
	CodeOK                 = 0
	CodeInvalidTransaction = 1001
	CodeInvalidBlock       = 1002
	CodeConsensusFailure   = 1003
	CodeNetworkError       = 1004
	CodeValidationError    = 1005
	CodeContractError      = 1006
)

// ErrorCode maps err onto its numeric code.
func ErrorCode(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrStructural), errors.Is(err, ErrSignature):
		return CodeInvalidTransaction
	case errors.Is(err, ErrLink):
		return CodeInvalidBlock
	case errors.Is(err, ErrConsensus):
		return CodeConsensusFailure
	case errors.Is(err, ErrNetwork):
		return CodeNetworkError
	case errors.Is(err, ErrContract):
		return CodeContractError
	default:
		return CodeValidationError
	}
}

type ErrInsufficientBalance struct {
	Address string
	Balance uint64
	Amount  uint64
}

func (e ErrInsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient balance: %s has %d, needs %d", e.Address, e.Balance, e.Amount)
}

func (e ErrInsufficientBalance) Is(target error) bool {
	return target == ErrBalance
}

type ErrNotEnoughValidators struct {
	Pool string
	Have int
	Need int
}

func (e ErrNotEnoughValidators) Error() string {
	return fmt.Sprintf("not enough validators in %s pool: have %d, need %d", e.Pool, e.Have, e.Need)
}

func (e ErrNotEnoughValidators) Is(target error) bool {
	return target == ErrConsensus
}

type ErrThresholdNotMet struct {
	Approval  int
	Threshold int
}

func (e ErrThresholdNotMet) Error() string {
	return fmt.Sprintf("approval %d%% below threshold %d%%", e.Approval, e.Threshold)
}

func (e ErrThresholdNotMet) Is(target error) bool {
	return target == ErrConsensus
}

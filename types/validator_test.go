package types

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

var (
	highEnd = HardwareSpecs{CPUScore: 8000, MemoryMB: 16384, BandwidthMbps: 100}
	lowEnd  = HardwareSpecs{CPUScore: 2000, MemoryMB: 4096, BandwidthMbps: 20}
)

func TestVerifyHardwareCapabilities(t *testing.T) {
	testCases := []struct {
		typ      ValidatorType
		hw       HardwareSpecs
		expected bool
	}{
		{MessageValidator, lowEnd, true},
		{MessageValidator, HardwareSpecs{CPUScore: 1999, MemoryMB: 4096, BandwidthMbps: 20}, false},
		{FinancialValidator, highEnd, true},
		{FinancialValidator, lowEnd, false},
		{HybridValidator, highEnd, true},
		{HybridValidator, HardwareSpecs{CPUScore: 8000, MemoryMB: 16384, BandwidthMbps: 99}, false},
		{ValidatorType("BOGUS"), highEnd, false},
	}

	for i, tc := range testCases {
		v := NewValidator("Maddr", tc.typ, 10, tc.hw)
		assert.Equal(t, tc.expected, v.VerifyHardwareCapabilities(), "tc #%d", i)
	}
}

func TestUpdateReputation(t *testing.T) {
	v := NewValidator("Maddr", MessageValidator, 10, lowEnd)
	assert.Equal(t, 100, v.Reputation)

	v.UpdateReputation(true)
	assert.Equal(t, 100, v.Reputation, "capped at 100")

	v.UpdateReputation(false)
	assert.Equal(t, 95, v.Reputation)
	v.UpdateReputation(true)
	assert.Equal(t, 96, v.Reputation)

	for i := 0; i < 30; i++ {
		v.UpdateReputation(false)
	}
	assert.Equal(t, 0, v.Reputation, "floored at 0")
}

func TestValidatorPools(t *testing.T) {
	assert.Equal(t, []Pool{MessagePool}, MessageValidator.Pools())
	assert.Equal(t, []Pool{FinancialPool}, FinancialValidator.Pools())
	assert.Equal(t, []Pool{MessagePool, FinancialPool}, HybridValidator.Pools())
}

func TestValidatorValidateBasic(t *testing.T) {
	assert.NoError(t, NewValidator("Maddr", HybridValidator, 1, highEnd).ValidateBasic())
	assert.Error(t, NewValidator("Maddr", HybridValidator, 0, highEnd).ValidateBasic())
	assert.Error(t, NewValidator("", HybridValidator, 1, highEnd).ValidateBasic())
	assert.Error(t, NewValidator("Maddr", "X", 1, highEnd).ValidateBasic())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeOK, ErrorCode(nil))
	assert.Equal(t, CodeInvalidTransaction, ErrorCode(errors.Wrap(ErrSignature, "x")))
	assert.Equal(t, CodeInvalidBlock, ErrorCode(ErrLink))
	assert.Equal(t, CodeConsensusFailure, ErrorCode(ErrNotEnoughValidators{Have: 1, Need: 3}))
	assert.Equal(t, CodeValidationError, ErrorCode(ErrInsufficientBalance{Amount: 5}))
	assert.Equal(t, CodeContractError, ErrorCode(ErrContract))
}

package types

import (
	"errors"
	"fmt"
)

type ValidatorType string

const (
	MessageValidator   ValidatorType = "MESSAGE"
	FinancialValidator ValidatorType = "FINANCIAL"
	HybridValidator    ValidatorType = "HYBRID"
)

func (t ValidatorType) IsValid() bool {
	switch t {
	case MessageValidator, FinancialValidator, HybridValidator:
		return true
	}
	return false
}

// Pool identifies which validator pool votes on a block.
type Pool string

const (
	MessagePool   Pool = "message"
	FinancialPool Pool = "financial"
)

// Pools returns the pools a validator of type t is registered into.
func (t ValidatorType) Pools() []Pool {
	switch t {
	case MessageValidator:
		return []Pool{MessagePool}
	case FinancialValidator:
		return []Pool{FinancialPool}
	case HybridValidator:
		return []Pool{MessagePool, FinancialPool}
	}
	return nil
}

const (
	MaxReputation     = 100
	InitialReputation = MaxReputation
	ReputationReward  = 1
	ReputationPenalty = 5
)

type HardwareSpecs struct {
	CPUScore      uint32 `json:"cpu_score"`
	MemoryMB      uint32 `json:"memory_mb"`
	BandwidthMbps uint32 `json:"bandwidth_mbps"`
}

func (hw HardwareSpecs) Satisfies(min HardwareSpecs) bool {
	return hw.CPUScore >= min.CPUScore &&
		hw.MemoryMB >= min.MemoryMB &&
		hw.BandwidthMbps >= min.BandwidthMbps
}

var hardwareRequirements = map[ValidatorType]HardwareSpecs{
	MessageValidator:   {CPUScore: 2000, MemoryMB: 4096, BandwidthMbps: 20},
	FinancialValidator: {CPUScore: 8000, MemoryMB: 16384, BandwidthMbps: 100},
	HybridValidator:    {CPUScore: 8000, MemoryMB: 16384, BandwidthMbps: 100},
}

// HardwareRequirements returns the minimum specs for validator type t.
func HardwareRequirements(t ValidatorType) HardwareSpecs {
	return hardwareRequirements[t]
}

// Validator is a voting participant.
//
// PeerID binds the validator to a remote node; an empty PeerID means the
// validator is evaluated in-process.
type Validator struct {
	Address    string        `json:"address"`
	PubKey     []byte        `json:"pub_key,omitempty"`
	Type       ValidatorType `json:"type"`
	Stake      uint64        `json:"stake"`
	Reputation int           `json:"reputation"`
	Hardware   HardwareSpecs `json:"hardware"`
	PeerID     string        `json:"peer_id,omitempty"`
	Active     bool          `json:"active"`
}

func NewValidator(address string, t ValidatorType, stake uint64, hw HardwareSpecs) *Validator {
	return &Validator{
		Address:    address,
		Type:       t,
		Stake:      stake,
		Reputation: InitialReputation,
		Hardware:   hw,
		Active:     true,
	}
}

func (v *Validator) ValidateBasic() error {
	if v == nil {
		return errors.New("nil validator")
	}
	if v.Address == "" {
		return errors.New("validator without address")
	}
	if !v.Type.IsValid() {
		return fmt.Errorf("unknown validator type %q", v.Type)
	}
	if v.Stake == 0 {
		return errors.New("validator stake must be positive")
	}
	if v.Reputation < 0 || v.Reputation > MaxReputation {
		return fmt.Errorf("reputation %d out of range", v.Reputation)
	}
	return nil
}

// VerifyHardwareCapabilities checks the declared specs against the type's minimums.
func (v *Validator) VerifyHardwareCapabilities() bool {
	min, ok := hardwareRequirements[v.Type]
	if !ok {
		return false
	}
	return v.Hardware.Satisfies(min)
}

// UpdateReputation rewards a vote that matched the round outcome and penalizes one that did not.
func (v *Validator) UpdateReputation(matched bool) {
	if matched {
		v.Reputation += ReputationReward
		if v.Reputation > MaxReputation {
			v.Reputation = MaxReputation
		}
		return
	}
	v.Reputation -= ReputationPenalty
	if v.Reputation < 0 {
		v.Reputation = 0
	}
}

func (v *Validator) Copy() *Validator {
	vCopy := *v
	if v.PubKey != nil {
		vCopy.PubKey = append([]byte(nil), v.PubKey...)
	}
	return &vCopy
}

func (v *Validator) String() string {
	if v == nil {
		return "nil-Validator"
	}
	return fmt.Sprintf("Validator{%s %s stake:%d rep:%d}", v.Address, v.Type, v.Stake, v.Reputation)
}

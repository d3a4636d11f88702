package consensus

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"segchain/types"
)

// ValidatorPool owns every registered validator, indexed by address. A
// validator belongs to the message pool, the financial pool or both,
// according to its type. Callers only ever see copies.
type ValidatorPool struct {
	mtx sync.RWMutex

	validators map[string]*types.Validator
	// registration order per pool
	pools map[types.Pool][]string
}

func NewValidatorPool() *ValidatorPool {
	return &ValidatorPool{
		validators: make(map[string]*types.Validator),
		pools: map[types.Pool][]string{
			types.MessagePool:   {},
			types.FinancialPool: {},
		},
	}
}

// Register admits v after its basic fields and hardware gate are checked.
func (vp *ValidatorPool) Register(v *types.Validator) error {
	if err := v.ValidateBasic(); err != nil {
		return errors.Wrap(types.ErrConsensus, err.Error())
	}
	if !v.VerifyHardwareCapabilities() {
		return ErrHardwareRequirements{
			Address:  v.Address,
			Type:     v.Type,
			Have:     v.Hardware,
			Required: types.HardwareRequirements(v.Type),
		}
	}

	vp.mtx.Lock()
	defer vp.mtx.Unlock()

	if _, ok := vp.validators[v.Address]; ok {
		return errors.Wrap(ErrValidatorExists, v.Address)
	}
	vp.validators[v.Address] = v.Copy()
	for _, pool := range v.Type.Pools() {
		vp.pools[pool] = append(vp.pools[pool], v.Address)
	}
	return nil
}

// Deregister removes the validator from the registry and every pool.
func (vp *ValidatorPool) Deregister(address string) error {
	vp.mtx.Lock()
	defer vp.mtx.Unlock()

	v, ok := vp.validators[address]
	if !ok {
		return errors.Wrap(ErrValidatorNotFound, address)
	}
	delete(vp.validators, address)
	for _, pool := range v.Type.Pools() {
		addrs := vp.pools[pool]
		for i, a := range addrs {
			if a == address {
				vp.pools[pool] = append(addrs[:i:i], addrs[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (vp *ValidatorPool) Get(address string) (*types.Validator, bool) {
	vp.mtx.RLock()
	defer vp.mtx.RUnlock()
	v, ok := vp.validators[address]
	if !ok {
		return nil, false
	}
	return v.Copy(), true
}

// SetActive toggles whether the validator takes part in rounds.
func (vp *ValidatorPool) SetActive(address string, active bool) error {
	vp.mtx.Lock()
	defer vp.mtx.Unlock()
	v, ok := vp.validators[address]
	if !ok {
		return errors.Wrap(ErrValidatorNotFound, address)
	}
	v.Active = active
	return nil
}

// AddStake increases the validator's stake.
func (vp *ValidatorPool) AddStake(address string, amount uint64) error {
	if amount == 0 {
		return errors.New("stake amount must be positive")
	}
	vp.mtx.Lock()
	defer vp.mtx.Unlock()
	v, ok := vp.validators[address]
	if !ok {
		return errors.Wrap(ErrValidatorNotFound, address)
	}
	v.Stake += amount
	return nil
}

// Active returns copies of the active validators in pool, in registration order.
func (vp *ValidatorPool) Active(pool types.Pool) []*types.Validator {
	vp.mtx.RLock()
	defer vp.mtx.RUnlock()

	vals := make([]*types.Validator, 0, len(vp.pools[pool]))
	for _, addr := range vp.pools[pool] {
		if v := vp.validators[addr]; v.Active {
			vals = append(vals, v.Copy())
		}
	}
	return vals
}

// Size is the number of active validators in pool.
func (vp *ValidatorPool) Size(pool types.Pool) int {
	vp.mtx.RLock()
	defer vp.mtx.RUnlock()
	n := 0
	for _, addr := range vp.pools[pool] {
		if vp.validators[addr].Active {
			n++
		}
	}
	return n
}

// Validators returns copies of every registered validator sorted by address.
func (vp *ValidatorPool) Validators() []*types.Validator {
	vp.mtx.RLock()
	defer vp.mtx.RUnlock()
	vals := make([]*types.Validator, 0, len(vp.validators))
	for _, v := range vp.validators {
		vals = append(vals, v.Copy())
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i].Address < vals[j].Address })
	return vals
}

// UpdateReputation applies the round outcome to one validator.
func (vp *ValidatorPool) UpdateReputation(address string, matched bool) {
	vp.mtx.Lock()
	defer vp.mtx.Unlock()
	if v, ok := vp.validators[address]; ok {
		v.UpdateReputation(matched)
	}
}

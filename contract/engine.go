package contract

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"

	"segchain/crypto"
	"segchain/types"
)

const constructorToken = "CONSTRUCTOR"

var opcodes = map[string]struct{}{
	"PUSH": {}, "POP": {}, "ADD": {}, "SUB": {}, "MUL": {},
	"DIV": {}, "STORE": {}, "LOAD": {}, "CALL": {}, "RETURN": {},
}

// Contract is a deployed contract and its key-value storage.
type Contract struct {
	Address    string            `json:"address"`
	Owner      string            `json:"owner"`
	Bytecode   string            `json:"bytecode"`
	Active     bool              `json:"active"`
	DeployedAt time.Time         `json:"deployed_at"`
	Storage    map[string]string `json:"storage"`
}

type method struct {
	arity int
	exec  func(c *Contract, params []string, caller string) error
}

// Engine holds deployed contracts. Bytecode is validated on deploy but never
// interpreted, only the standard token methods have behaviour.
type Engine struct {
	mtx       sync.RWMutex
	contracts map[string]*Contract
	methods   map[string]method

	hasher crypto.Hasher
	logger log.Logger
}

func NewEngine(h crypto.Hasher) *Engine {
	return &Engine{
		contracts: make(map[string]*Contract),
		methods: map[string]method{
			"transfer":  {arity: 3, exec: transfer},
			"balanceOf": {arity: 1, exec: balanceOf},
			"approve":   {arity: 3, exec: approve},
		},
		hasher: h,
		logger: log.NewNopLogger(),
	}
}

func (e *Engine) SetLogger(logger log.Logger) {
	e.logger = logger
}

// Address returns the address a contract deployed by owner with bytecode gets.
func (e *Engine) Address(bytecode, owner string) string {
	return crypto.AddressPrefix + e.hasher.Hash([]byte(bytecode + owner))[:30]
}

// Deploy validates bytecode and registers the contract.
func (e *Engine) Deploy(bytecode, owner string) (string, error) {
	if err := ValidateBytecode(bytecode); err != nil {
		return "", err
	}
	addr := e.Address(bytecode, owner)

	e.mtx.Lock()
	defer e.mtx.Unlock()
	if _, ok := e.contracts[addr]; ok {
		return "", errors.Wrap(ErrContractExists, addr)
	}
	e.contracts[addr] = &Contract{
		Address:    addr,
		Owner:      owner,
		Bytecode:   bytecode,
		Active:     true,
		DeployedAt: time.Now(),
		Storage:    make(map[string]string),
	}
	e.logger.Info("deployed contract", "address", addr, "owner", owner)
	return addr, nil
}

// Execute runs method on the contract at address.
func (e *Engine) Execute(address, name string, params []string, caller string) error {
	m, ok := e.methods[name]
	if !ok {
		return errors.Wrap(ErrUnknownMethod, name)
	}
	if len(params) != m.arity {
		return ErrBadArity{Method: name, Want: m.arity, Got: len(params)}
	}

	e.mtx.Lock()
	defer e.mtx.Unlock()
	c, err := e.activeLocked(address)
	if err != nil {
		return err
	}
	if err := m.exec(c, params, caller); err != nil {
		return errors.Wrapf(err, "%s on %s", name, address)
	}
	e.logger.Debug("executed contract method", "address", address, "method", name, "caller", caller)
	return nil
}

// ExecuteTx applies a CONTRACT transaction.
func (e *Engine) ExecuteTx(tx *types.Tx) error {
	if tx.Type != types.TxContract {
		return errors.Wrapf(types.ErrStructural, "tx %s is not a contract call", tx.Hash)
	}
	return e.Execute(tx.ContractAddress, tx.Method, tx.Params, tx.Sender)
}

// Deactivate stops the contract from accepting calls. Only the owner may do it.
func (e *Engine) Deactivate(address, caller string) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	c, err := e.activeLocked(address)
	if err != nil {
		return err
	}
	if c.Owner != caller {
		return errors.Wrapf(types.ErrContract, "%s does not own %s", caller, address)
	}
	c.Active = false
	return nil
}

func (e *Engine) State(address, key string) (string, error) {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	c, err := e.activeLocked(address)
	if err != nil {
		return "", err
	}
	v, ok := c.Storage[key]
	if !ok {
		return "", errors.Wrap(ErrStateNotFound, key)
	}
	return v, nil
}

func (e *Engine) SetState(address, key, value string) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	c, err := e.activeLocked(address)
	if err != nil {
		return err
	}
	c.Storage[key] = value
	return nil
}

// Contracts returns the deployed contract addresses in order.
func (e *Engine) Contracts() []string {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	addrs := make([]string, 0, len(e.contracts))
	for addr := range e.contracts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

func (e *Engine) activeLocked(address string) (*Contract, error) {
	c, ok := e.contracts[address]
	if !ok || !c.Active {
		return nil, errors.Wrap(ErrUnknownContract, address)
	}
	return c, nil
}

// ValidateBytecode requires a CONSTRUCTOR token and known opcodes elsewhere.
// PUSH takes the following token as its operand.
func ValidateBytecode(bytecode string) error {
	tokens := strings.Fields(bytecode)
	if len(tokens) == 0 {
		return errors.Wrap(ErrInvalidBytecode, "empty")
	}
	hasConstructor := false
	for i := 0; i < len(tokens); i++ {
		op := tokens[i]
		if op == constructorToken {
			hasConstructor = true
			continue
		}
		if _, ok := opcodes[op]; !ok {
			return errors.Wrapf(ErrInvalidBytecode, "unknown opcode %q", op)
		}
		if op == "PUSH" {
			if i+1 == len(tokens) {
				return errors.Wrap(ErrInvalidBytecode, "PUSH without operand")
			}
			i++
		}
	}
	if !hasConstructor {
		return errors.Wrap(ErrInvalidBytecode, "missing CONSTRUCTOR")
	}
	return nil
}

//-----------------------------------------------------------------------------
// standard methods

func balanceKey(addr string) string             { return "balance:" + addr }
func allowanceKey(owner, spender string) string { return "allowance:" + owner + ":" + spender }

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(types.ErrContract, "bad amount %q", s)
	}
	return v, nil
}

func readAmount(c *Contract, key string) uint64 {
	v, _ := strconv.ParseUint(c.Storage[key], 10, 64)
	return v
}

// transfer(from, to, amount) moves token balance. A caller other than from
// spends from its allowance.
func transfer(c *Contract, params []string, caller string) error {
	from, to := params[0], params[1]
	amount, err := parseAmount(params[2])
	if err != nil {
		return err
	}
	balance := readAmount(c, balanceKey(from))
	if balance < amount {
		return errors.Wrapf(types.ErrBalance, "%s holds %d tokens, needs %d", from, balance, amount)
	}
	if caller != from {
		allowed := readAmount(c, allowanceKey(from, caller))
		if allowed < amount {
			return errors.Wrapf(types.ErrContract, "%s may spend %d of %s, needs %d", caller, allowed, from, amount)
		}
		c.Storage[allowanceKey(from, caller)] = strconv.FormatUint(allowed-amount, 10)
	}
	c.Storage[balanceKey(from)] = strconv.FormatUint(balance-amount, 10)
	c.Storage[balanceKey(to)] = strconv.FormatUint(readAmount(c, balanceKey(to))+amount, 10)
	return nil
}

func balanceOf(c *Contract, params []string, _ string) error {
	if !crypto.IsAddress(params[0]) {
		return errors.Wrapf(types.ErrContract, "bad address %q", params[0])
	}
	return nil
}

// approve(owner, spender, amount); only the owner may approve.
func approve(c *Contract, params []string, caller string) error {
	owner, spender := params[0], params[1]
	if caller != owner {
		return errors.Wrapf(types.ErrContract, "%s can't approve for %s", caller, owner)
	}
	amount, err := parseAmount(params[2])
	if err != nil {
		return err
	}
	c.Storage[allowanceKey(owner, spender)] = strconv.FormatUint(amount, 10)
	return nil
}

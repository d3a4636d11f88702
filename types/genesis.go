package types

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	tmjson "github.com/tendermint/tendermint/libs/json"
	"github.com/tendermint/tendermint/libs/tempfile"
	tmtime "github.com/tendermint/tendermint/types/time"

	"segchain/crypto"
)

type GenesisAllocation struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

type GenesisValidator struct {
	Address  string        `json:"address"`
	PubKey   []byte        `json:"pub_key,omitempty"`
	Type     ValidatorType `json:"type"`
	Stake    uint64        `json:"stake"`
	Hardware HardwareSpecs `json:"hardware"`
	PeerID   string        `json:"peer_id,omitempty"`
}

// GenesisDoc defines the initial conditions of a chain.
type GenesisDoc struct {
	ChainID     string              `json:"chain_id"`
	GenesisTime time.Time           `json:"genesis_time"`
	Allocations []GenesisAllocation `json:"allocations"`
	Validators  []GenesisValidator  `json:"validators"`
}

// SaveAs is a utility method for saving GenesisDoc as a JSON file.
func (genDoc *GenesisDoc) SaveAs(file string) error {
	genDocBytes, err := tmjson.MarshalIndent(genDoc, "", "  ")
	if err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(file, genDocBytes, 0644)
}

// ValidateAndComplete checks that all necessary fields are present and fills defaults.
func (genDoc *GenesisDoc) ValidateAndComplete() error {
	if genDoc.ChainID == "" {
		return errors.New("genesis doc must include non-empty chain_id")
	}
	seen := make(map[string]struct{}, len(genDoc.Allocations))
	for i, a := range genDoc.Allocations {
		if !crypto.IsAddress(a.Address) {
			return fmt.Errorf("allocation #%d has malformed address %q", i, a.Address)
		}
		if _, ok := seen[a.Address]; ok {
			return fmt.Errorf("duplicate allocation for %s", a.Address)
		}
		seen[a.Address] = struct{}{}
	}
	for i, v := range genDoc.Validators {
		if err := v.Validator().ValidateBasic(); err != nil {
			return fmt.Errorf("genesis validator #%d: %w", i, err)
		}
	}
	if genDoc.GenesisTime.IsZero() {
		genDoc.GenesisTime = tmtime.Now()
	}
	return nil
}

// Balances returns the initial balance map.
func (genDoc *GenesisDoc) Balances() map[string]uint64 {
	balances := make(map[string]uint64, len(genDoc.Allocations))
	for _, a := range genDoc.Allocations {
		balances[a.Address] += a.Amount
	}
	return balances
}

func (gv GenesisValidator) Validator() *Validator {
	v := NewValidator(gv.Address, gv.Type, gv.Stake, gv.Hardware)
	v.PubKey = gv.PubKey
	v.PeerID = gv.PeerID
	return v
}

// GenesisDocFromJSON unmarshalls JSON data into a GenesisDoc.
func GenesisDocFromJSON(jsonBlob []byte) (*GenesisDoc, error) {
	genDoc := GenesisDoc{}
	if err := tmjson.Unmarshal(jsonBlob, &genDoc); err != nil {
		return nil, err
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, err
	}
	return &genDoc, nil
}

// GenesisDocFromFile reads JSON data from a file and unmarshalls it into a GenesisDoc.
func GenesisDocFromFile(genDocFile string) (*GenesisDoc, error) {
	jsonBlob, err := ioutil.ReadFile(genDocFile)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't read GenesisDoc file")
	}
	genDoc, err := GenesisDocFromJSON(jsonBlob)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading GenesisDoc at %s", genDocFile)
	}
	return genDoc, nil
}

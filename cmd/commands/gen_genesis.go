package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"segchain/crypto"
	"segchain/types"
)

var (
	validatorPeerID string
	cpuScore        uint32
	memoryMB        uint32
	bandwidthMbps   uint32
)

// AddGenesisAccountCmd funds an address in the genesis file.
var AddGenesisAccountCmd = &cobra.Command{
	Use:     "add-genesis-account [address] [amount]",
	Aliases: []string{"add_genesis_account"},
	Short:   "Add a funded account to genesis.json",
	Args:    cobra.ExactArgs(2),
	PreRun:  deprecateSnakeCase,
	RunE:    addGenesisAccount,
}

// AddGenesisValidatorCmd registers a validator in the genesis file.
var AddGenesisValidatorCmd = &cobra.Command{
	Use:     "add-genesis-validator [address] [type]",
	Aliases: []string{"add_genesis_validator"},
	Short:   "Add a validator to genesis.json",
	Args:    cobra.ExactArgs(2),
	PreRun:  deprecateSnakeCase,
	RunE:    addGenesisValidator,
}

func init() {
	AddGenesisValidatorCmd.Flags().Uint64Var(&stake, "stake", 1000, "validator stake")
	AddGenesisValidatorCmd.Flags().StringVar(&validatorPeerID, "peer-id", "",
		"address of the node hosting the validator; defaults to the validator address")
	AddGenesisValidatorCmd.Flags().Uint32Var(&cpuScore, "cpu", 0, "declared CPU score; the type minimum when 0")
	AddGenesisValidatorCmd.Flags().Uint32Var(&memoryMB, "memory", 0, "declared memory in MB; the type minimum when 0")
	AddGenesisValidatorCmd.Flags().Uint32Var(&bandwidthMbps, "bandwidth", 0, "declared bandwidth in Mbps; the type minimum when 0")
}

func addGenesisAccount(cmd *cobra.Command, args []string) error {
	address := args[0]
	if !crypto.IsAddress(address) {
		return fmt.Errorf("malformed address %q", address)
	}
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[1], err)
	}

	return updateGenesis(func(genDoc *types.GenesisDoc) error {
		for i, a := range genDoc.Allocations {
			if a.Address == address {
				genDoc.Allocations[i].Amount += amount
				return nil
			}
		}
		genDoc.Allocations = append(genDoc.Allocations, types.GenesisAllocation{Address: address, Amount: amount})
		return nil
	})
}

func addGenesisValidator(cmd *cobra.Command, args []string) error {
	vt := types.ValidatorType(args[1])
	hw := types.HardwareRequirements(vt)
	if cpuScore > 0 {
		hw.CPUScore = cpuScore
	}
	if memoryMB > 0 {
		hw.MemoryMB = memoryMB
	}
	if bandwidthMbps > 0 {
		hw.BandwidthMbps = bandwidthMbps
	}
	gv := types.GenesisValidator{
		Address:  args[0],
		Type:     vt,
		Stake:    stake,
		Hardware: hw,
		PeerID:   validatorPeerID,
	}
	if gv.PeerID == "" {
		gv.PeerID = gv.Address
	}

	return updateGenesis(func(genDoc *types.GenesisDoc) error {
		for _, v := range genDoc.Validators {
			if v.Address == gv.Address {
				return fmt.Errorf("validator %s already in genesis", gv.Address)
			}
		}
		genDoc.Validators = append(genDoc.Validators, gv)
		return nil
	})
}

func updateGenesis(update func(*types.GenesisDoc) error) error {
	genFile := config.GenesisFile()
	genDoc, err := types.GenesisDocFromFile(genFile)
	if err != nil {
		return err
	}
	if err := update(genDoc); err != nil {
		return err
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return err
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Updated genesis file", "path", genFile)
	return nil
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmrand "github.com/tendermint/tendermint/libs/rand"
	tmtime "github.com/tendermint/tendermint/types/time"

	cfg "segchain/config"
	"segchain/crypto"
	"segchain/privval"
	"segchain/types"
)

var (
	chainID       string
	initialFunds  uint64
	validatorType string
	stake         uint64
)

// InitFilesCmd initialises a fresh segchain node.
var InitFilesCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a segchain node",
	RunE:  initFiles,
}

func init() {
	InitFilesCmd.Flags().StringVar(&chainID, "chain-id", "", "chain id of a new genesis file; random when empty")
	InitFilesCmd.Flags().Uint64Var(&initialFunds, "funds", 1000, "genesis balance of this node's address")
	InitFilesCmd.Flags().StringVar(&validatorType, "validator-type", string(types.HybridValidator),
		"type this node validates as in a new genesis file (MESSAGE|FINANCIAL|HYBRID)")
	InitFilesCmd.Flags().Uint64Var(&stake, "stake", 1000, "stake of this node's validator")
}

func initFiles(cmd *cobra.Command, args []string) error {
	return initFilesWithConfig(config)
}

func initFilesWithConfig(config *cfg.Config) error {
	provider := crypto.NewKyberProvider()

	// private validator
	privValKeyFile := config.PrivValidatorKeyFile()
	var (
		pv  *privval.FilePV
		err error
	)
	if tmos.FileExists(privValKeyFile) {
		if pv, err = privval.LoadFilePV(provider, privValKeyFile); err != nil {
			return err
		}
		logger.Info("Found private validator", "keyFile", privValKeyFile)
	} else {
		if pv, err = privval.GenFilePV(provider, privValKeyFile); err != nil {
			return err
		}
		pv.Save()
		logger.Info("Generated private validator", "keyFile", privValKeyFile)
	}

	// genesis file
	genFile := config.GenesisFile()
	if tmos.FileExists(genFile) {
		logger.Info("Found genesis file", "path", genFile)
		return nil
	}

	vt := types.ValidatorType(validatorType)
	if !vt.IsValid() {
		return fmt.Errorf("unknown validator type %q", validatorType)
	}
	if chainID == "" {
		chainID = fmt.Sprintf("segchain-%v", tmrand.Str(6))
	}
	genDoc := types.GenesisDoc{
		ChainID:     chainID,
		GenesisTime: tmtime.Now(),
		Validators: []types.GenesisValidator{{
			Address:  pv.GetAddress(),
			PubKey:   pv.GetPubKey(),
			Type:     vt,
			Stake:    stake,
			Hardware: types.HardwareRequirements(vt),
			PeerID:   pv.GetAddress(),
		}},
	}
	if initialFunds > 0 {
		genDoc.Allocations = []types.GenesisAllocation{{Address: pv.GetAddress(), Amount: initialFunds}}
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return err
	}
	if err := genDoc.SaveAs(genFile); err != nil {
		return err
	}
	logger.Info("Generated genesis file", "path", genFile, "chain_id", chainID)
	return nil
}

package main

import (
	"os"
	"path/filepath"

	"github.com/tendermint/tendermint/libs/cli"

	cmd "segchain/cmd/commands"
	cfg "segchain/config"
	nm "segchain/node"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.GenValidatorCmd,
		cmd.ShowAddressCmd,
		cmd.AddGenesisAccountCmd,
		cmd.AddGenesisValidatorCmd,
		cmd.InspectDBCmd,
		cmd.SendTxCmd,
		cmd.BalanceCmd,
		cmd.VersionCmd,
		cli.NewCompletionCmd(rootCmd, true),
	)

	// A custom genesis source, key store or database can be plugged in by
	// passing another provider here.
	nodeFunc := nm.DefaultNewNode

	rootCmd.AddCommand(cmd.NewRunNodeCmd(nodeFunc))

	cmd := cli.PrepareBaseCmd(rootCmd, "SEG", os.ExpandEnv(filepath.Join("$HOME", cfg.DefaultSegchainDir)))
	if err := cmd.Execute(); err != nil {
		panic(err)
	}
}

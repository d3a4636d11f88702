package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmos "github.com/tendermint/tendermint/libs/os"

	nm "segchain/node"
)

// AddNodeFlags exposes some common configuration options on the command-line.
// These are exposed for convenience of commands embedding a segchain node.
func AddNodeFlags(cmd *cobra.Command) {
	cmd.Flags().String("moniker", config.Moniker, "node name")

	// node flags
	cmd.Flags().Bool("node.validating", config.Node.Validating, "author blocks from the mempool")
	cmd.Flags().Int("node.min_txs_per_block", config.Node.MinTxsPerBlock, "staged txs needed before a block is authored")
	cmd.Flags().Duration("node.validation_interval", config.Node.ValidationInterval, "time between validation cycles")

	// rpc flags
	cmd.Flags().String("rpc.laddr", config.RPC.ListenAddress, "RPC listen address. Port required")

	// p2p flags
	cmd.Flags().String("p2p.laddr", config.P2P.ListenAddress, "node listen address")
	cmd.Flags().String("p2p.persistent_peers", config.P2P.PersistentPeers, "comma-delimited ws://host:port peers")
	cmd.Flags().Int("p2p.min_peers", config.P2P.MinPeers, "connected peers below which block authoring stops")

	// consensus flags
	cmd.Flags().Int("consensus.threshold", config.Consensus.Threshold, "percentage of approving votes needed")

	// db flags
	cmd.Flags().String("db_backend", config.DBBackend, "database backend: goleveldb | memdb")
	cmd.Flags().String("db_dir", config.DBPath, "database directory")
}

// NewRunNodeCmd returns the command that allows the CLI to start a node.
// nodeProvider builds the node from the parsed config.
func NewRunNodeCmd(nodeProvider nm.Provider) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the segchain node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nodeProvider(config, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}

			logger.Info("Started node", "address", n.Address(), "chain_id", n.GenesisDoc().ChainID)

			// Stop upon receiving SIGTERM or CTRL-C.
			tmos.TrapSignal(logger, func() {
				if n.IsRunning() {
					if err := n.Stop(); err != nil {
						logger.Error("unable to stop the node", "error", err)
					}
				}
			})

			// Run forever.
			select {}
		},
	}

	AddNodeFlags(cmd)
	return cmd
}

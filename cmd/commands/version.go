package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	cfg "segchain/config"
)

// Version is set at build time.
var Version = "0.1.0"

// VersionCmd prints the node and protocol versions.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("segchain %s (protocol %d)\n", Version, cfg.DefaultProtocolVersion)
	},
}

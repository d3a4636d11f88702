package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"segchain/store"
)

var fromHeight int64

// InspectDBCmd prints the chain persisted in the block store.
var InspectDBCmd = &cobra.Command{
	Use:     "inspect-db",
	Aliases: []string{"inspect_db", "inspectdb"},
	Short:   "Print the blocks in the local block store",
	PreRun:  deprecateSnakeCase,
	RunE:    inspectDB,
}

func init() {
	InspectDBCmd.Flags().Int64Var(&fromHeight, "from", 0, "first height to print")
}

func inspectDB(cmd *cobra.Command, args []string) error {
	bs, err := store.NewBlockStore("blockstore", config.DBBackend, config.DBDir(), logger)
	if err != nil {
		return err
	}
	defer bs.Close()

	height := bs.Height()
	fmt.Printf("height %d\n", height)
	for i := fromHeight; i <= height; i++ {
		meta, err := bs.LoadBlockMeta(i)
		if err != nil {
			return err
		}
		bz, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		fmt.Println(string(bz))
	}
	return nil
}

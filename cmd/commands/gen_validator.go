package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	tmjson "github.com/tendermint/tendermint/libs/json"

	"segchain/crypto"
	"segchain/privval"
)

// GenValidatorCmd generates a key pair and prints it without saving it.
var GenValidatorCmd = &cobra.Command{
	Use:     "gen-validator",
	Aliases: []string{"gen_validator"},
	Short:   "Generate new validator keypair",
	PreRun:  deprecateSnakeCase,
	RunE:    genValidator,
}

func genValidator(cmd *cobra.Command, args []string) error {
	pv, err := privval.GenFilePV(crypto.NewKyberProvider(), "")
	if err != nil {
		return err
	}
	jsbz, err := tmjson.Marshal(pv.Key)
	if err != nil {
		return err
	}
	fmt.Printf(`%v
`, string(jsbz))
	return nil
}

// ShowAddressCmd prints this node's address, which is also its peer id.
var ShowAddressCmd = &cobra.Command{
	Use:     "show-address",
	Aliases: []string{"show_address", "show-node-id"},
	Short:   "Show this node's address",
	PreRun:  deprecateSnakeCase,
	RunE: func(cmd *cobra.Command, args []string) error {
		pv, err := privval.LoadFilePV(crypto.NewKyberProvider(), config.PrivValidatorKeyFile())
		if err != nil {
			return err
		}
		fmt.Println(pv.GetAddress())
		return nil
	},
}

package commands

import (
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"segchain/crypto"
	"segchain/privval"
	"segchain/wallet"
)

var (
	remote   string
	priority int
)

// SendTxCmd signs a transfer with this node's key and broadcasts it.
var SendTxCmd = &cobra.Command{
	Use:     "send-tx [recipient] [amount]",
	Aliases: []string{"send_tx"},
	Short:   "Send funds from this node's address",
	Args:    cobra.ExactArgs(2),
	PreRun:  deprecateSnakeCase,
	RunE:    sendTx,
}

// BalanceCmd queries the balance of an address.
var BalanceCmd = &cobra.Command{
	Use:   "balance [address]",
	Short: "Query an address's balance; this node's address when omitted",
	Args:  cobra.MaximumNArgs(1),
	RunE:  queryBalance,
}

func init() {
	for _, cmd := range []*cobra.Command{SendTxCmd, BalanceCmd} {
		cmd.Flags().StringVar(&remote, "remote", "http://127.0.0.1:8334", "RPC address of the node")
	}
	SendTxCmd.Flags().IntVar(&priority, "priority", 0, "mempool priority; the configured default when 0")
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      int               `json:"id"`
	Method  string            `json:"method"`
	Params  map[string]string `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

type rpcResponse struct {
	Result jsoniter.RawMessage `json:"result"`
	Error  *rpcError           `json:"error"`
}

// call posts a JSON-RPC request to the node and decodes its result into out.
func call(method string, params map[string]string, out interface{}) error {
	var raw rpcResponse
	resp, err := resty.New().R().
		SetHeader("Content-Type", "application/json").
		SetBody(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}).
		Post(remote)
	if err != nil {
		return errors.Wrapf(err, "call %s", method)
	}
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return errors.Wrapf(err, "decode %s response", method)
	}
	if raw.Error != nil {
		return fmt.Errorf("%s: %s %s", method, raw.Error.Message, raw.Error.Data)
	}
	return json.Unmarshal(raw.Result, out)
}

func localWallet() (*wallet.Wallet, error) {
	p := crypto.NewKyberProvider()
	pv, err := privval.LoadFilePV(p, config.PrivValidatorKeyFile())
	if err != nil {
		return nil, err
	}
	return wallet.NewWalletFromKey(p, pv.Key.PrivKey)
}

func fetchBalance(address string) (uint64, error) {
	// amounts come back as strings
	var res struct {
		Address string `json:"address"`
		Balance string `json:"balance"`
	}
	if err := call("balance", map[string]string{"address": address}, &res); err != nil {
		return 0, err
	}
	return strconv.ParseUint(res.Balance, 10, 64)
}

func queryBalance(cmd *cobra.Command, args []string) error {
	var address string
	if len(args) == 1 {
		address = args[0]
	} else {
		w, err := localWallet()
		if err != nil {
			return err
		}
		address = w.Address()
	}
	balance, err := fetchBalance(address)
	if err != nil {
		return err
	}
	fmt.Printf("%s %d\n", address, balance)
	return nil
}

func sendTx(cmd *cobra.Command, args []string) error {
	amount, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", args[1], err)
	}
	w, err := localWallet()
	if err != nil {
		return err
	}
	balance, err := fetchBalance(w.Address())
	if err != nil {
		return err
	}
	tx, err := w.CreateTransaction(args[0], amount, balance)
	if err != nil {
		return err
	}
	txJSON, err := json.MarshalToString(tx)
	if err != nil {
		return err
	}

	var res struct {
		Hash string `json:"hash"`
		Code string `json:"code"`
		Log  string `json:"log"`
	}
	err = call("broadcast_tx", map[string]string{"tx": txJSON, "priority": strconv.Itoa(priority)}, &res)
	if err != nil {
		return err
	}
	if res.Code != "0" {
		return fmt.Errorf("tx %s rejected (code %s): %s", res.Hash, res.Code, res.Log)
	}
	fmt.Println(res.Hash)
	return nil
}

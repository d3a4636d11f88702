package main

import (
	"fmt"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/tendermint/tendermint/libs/log"
	tmos "github.com/tendermint/tendermint/libs/os"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	duration    int
	rate        int
	connections int
	accounts    int
	priority    int
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "seg-bench [host:port]",
	Short: "Load a segchain node with signed MESSAGE transactions over websocket RPC",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func init() {
	rootCmd.Flags().IntVarP(&duration, "time", "T", 10, "exit after the specified amount of time in seconds")
	rootCmd.Flags().IntVarP(&rate, "rate", "r", 100, "txs per second to send in a connection")
	rootCmd.Flags().IntVarP(&connections, "connections", "c", 1, "connections to open to the node")
	rootCmd.Flags().IntVarP(&accounts, "accounts", "a", 16, "wallets to send messages between")
	rootCmd.Flags().IntVar(&priority, "priority", 0, "mempool priority of every tx; the node default when 0")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every second of sending")
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.NewTMLogger(log.NewSyncWriter(os.Stdout))
	if verbose {
		logger = log.NewFilter(logger, log.AllowDebug())
	} else {
		logger = log.NewFilter(logger, log.AllowError())
	}

	t := newTransacter(args[0], connections, rate, accounts, priority)
	t.SetLogger(logger)
	if err := t.Start(); err != nil {
		return err
	}

	// TrapSignal exits the process once its callback returns
	var once sync.Once
	finish := func() {
		once.Do(func() {
			t.Stop()
			printReport(t.Report())
		})
	}
	tmos.TrapSignal(logger, finish)

	time.Sleep(time.Duration(duration) * time.Second)
	finish()
	return nil
}

func printReport(r Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "accepted\trejected\tunanswered\n")
	fmt.Fprintf(w, "%d\t%d\t%d\n\n", r.Accepted, r.Rejected, r.Pending)
	if r.Accepted+r.Rejected > 0 {
		fmt.Fprintf(w, "latency\tmin\tmedian\tp99\tmax\tavg\n")
		fmt.Fprintf(w, "\t%v\t%v\t%v\t%v\t%v\n", r.Min, r.Median, r.P99, r.Max, r.Avg)
	}
	w.Flush()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

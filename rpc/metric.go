package rpc

import (
	"fmt"

	rpctypes "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

// JSONMetrics returns the JSON snapshot of one metric item, or of all of
// them when label is empty.
func (env *Environment) JSONMetrics(ctx *rpctypes.Context, label string) (*ResultMetrics, error) {
	if label != "" && !env.MetricSet.HasMetrics(label) {
		return nil, fmt.Errorf("unknown metric label %q", label)
	}
	var labels []string
	if label != "" {
		labels = []string{label}
	}
	return &ResultMetrics{Metrics: env.MetricSet.Snapshot(labels...)}, nil
}

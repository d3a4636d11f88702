package consensus

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"segchain/crypto"
	"segchain/types"
)

var (
	messageHW   = types.HardwareSpecs{CPUScore: 2000, MemoryMB: 4096, BandwidthMbps: 20}
	financialHW = types.HardwareSpecs{CPUScore: 8000, MemoryMB: 16384, BandwidthMbps: 100}
)

func hardwareFor(t types.ValidatorType) types.HardwareSpecs {
	if t == types.MessageValidator {
		return messageHW
	}
	return financialHW
}

func newValidators(t *testing.T, vp *ValidatorPool, vt types.ValidatorType, n int) []string {
	addrs := make([]string, n)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("%s-val-%d", vt, i)
		require.NoError(t, vp.Register(types.NewValidator(addrs[i], vt, 10, hardwareFor(vt))))
	}
	return addrs
}

func financialBlock(t *testing.T, p crypto.Provider) *types.Block {
	priv, pub, err := p.GenKeyPair()
	require.NoError(t, err)
	_, rpub, err := p.GenKeyPair()
	require.NoError(t, err)

	tx := types.NewFinancialTx(p.DeriveAddress(pub), pub, p.DeriveAddress(rpub), 5)
	require.NoError(t, tx.Sign(p, priv))
	return types.MakeBlock(1, "prev", types.Txs{tx}, p)
}

func messageBlock(t *testing.T, p crypto.Provider) *types.Block {
	priv, pub, err := p.GenKeyPair()
	require.NoError(t, err)
	_, rpub, err := p.GenKeyPair()
	require.NoError(t, err)

	ct, err := p.Encrypt(rpub, []byte("hello"))
	require.NoError(t, err)
	tx := types.NewMessageTx(p.DeriveAddress(pub), pub, p.DeriveAddress(rpub), rpub, ct)
	require.NoError(t, tx.Sign(p, priv))
	return types.MakeBlock(1, "prev", types.Txs{tx}, p)
}

// scriptedVoter approves for addresses in approve, rejects the rest and
// blocks until the round closes for addresses in stall.
func scriptedVoter(approve, stall map[string]bool) Voter {
	return VoterFunc(func(ctx context.Context, val *types.Validator, block *types.Block) (bool, error) {
		if stall[val.Address] {
			<-ctx.Done()
			return false, ctx.Err()
		}
		if approve[val.Address] {
			return true, nil
		}
		return false, fmt.Errorf("%s says no", val.Address)
	})
}

func set(addrs ...string) map[string]bool {
	m := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		m[a] = true
	}
	return m
}

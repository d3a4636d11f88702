package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segchain/crypto"
)

type testAccount struct {
	priv, pub []byte
	addr      string
}

func newTestAccount(t *testing.T, p crypto.Provider) testAccount {
	priv, pub, err := p.GenKeyPair()
	require.NoError(t, err)
	return testAccount{priv: priv, pub: pub, addr: p.DeriveAddress(pub)}
}

func signedTransfer(t *testing.T, p crypto.Provider, from, to testAccount, amount uint64) *Tx {
	tx := NewFinancialTx(from.addr, from.pub, to.addr, amount)
	require.NoError(t, tx.Sign(p, from.priv))
	return tx
}

func TestTxSignAndCheck(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b := newTestAccount(t, p), newTestAccount(t, p)

	tx := signedTransfer(t, p, a, b, 50)
	assert.NoError(t, tx.Check(p))
	assert.Equal(t, tx.ComputeHash(p), tx.Hash)
}

func TestTxCheckFailures(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b := newTestAccount(t, p), newTestAccount(t, p)

	testCases := []struct {
		name    string
		mutate  func(tx *Tx)
		errKind error
	}{
		{"amount changed after signing", func(tx *Tx) { tx.Amount = 500 }, ErrStructural},
		{"unknown type", func(tx *Tx) { tx.Type = "BOGUS" }, ErrStructural},
		{"zero amount", func(tx *Tx) { tx.Amount = 0; tx.Hash = tx.ComputeHash(p) }, ErrStructural},
		{"self transfer", func(tx *Tx) { tx.Recipient = tx.Sender; tx.Hash = tx.ComputeHash(p) }, ErrStructural},
		{"recipient not an address", func(tx *Tx) { tx.Recipient = "bob"; tx.Hash = tx.ComputeHash(p) }, ErrStructural},
		{"bad signature", func(tx *Tx) { tx.Signature = []byte("forged") }, ErrSignature},
		{"foreign sender", func(tx *Tx) { tx.Sender = b.addr; tx.Recipient = a.addr; tx.Hash = tx.ComputeHash(p) }, ErrSignature},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tx := signedTransfer(t, p, a, b, 10)
			tc.mutate(tx)
			err := tx.Check(p)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.errKind), "got %v", err)
		})
	}
}

func TestRewardTx(t *testing.T) {
	p := crypto.NewKyberProvider()
	a := newTestAccount(t, p)

	tx := NewRewardTx(a.addr, 100, p)
	assert.NoError(t, tx.Check(p))
	assert.Empty(t, tx.Signature)
}

func TestMessageAndContractTx(t *testing.T) {
	p := crypto.NewKyberProvider()
	a, b := newTestAccount(t, p), newTestAccount(t, p)

	ct, err := p.Encrypt(b.pub, []byte("hi"))
	require.NoError(t, err)
	msg := NewMessageTx(a.addr, a.pub, b.addr, b.pub, ct)
	require.NoError(t, msg.Sign(p, a.priv))
	assert.NoError(t, msg.Check(p))

	call := NewContractTx(a.addr, a.pub, "Mcontract", "transfer", []string{a.addr, b.addr, "5"})
	require.NoError(t, call.Sign(p, a.priv))
	assert.NoError(t, call.Check(p))

	call.Params[2] = "6"
	assert.True(t, errors.Is(call.Check(p), ErrStructural))
}

func TestTxsHasType(t *testing.T) {
	txs := Txs{{Type: TxMessage}, {Type: TxContract}}
	assert.False(t, txs.HasType(TxFinancial))
	txs = append(txs, &Tx{Type: TxFinancial})
	assert.True(t, txs.HasType(TxFinancial))
}

package wallet

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"segchain/crypto"
	"segchain/types"
)

// ErrInsufficientFunds is returned when a transfer exceeds the balance the
// caller supplied.
type ErrInsufficientFunds struct {
	Balance uint64
	Amount  uint64
}

func (e ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: have %d, want to send %d", e.Balance, e.Amount)
}

func (e ErrInsufficientFunds) Is(target error) bool {
	return target == types.ErrBalance
}

// Message is a decrypted MESSAGE transaction.
type Message struct {
	From     string    `json:"from"`
	Text     string    `json:"text"`
	TxHash   string    `json:"tx_hash"`
	Received time.Time `json:"received"`
}

// Wallet holds one key pair and signs transactions with it.
type Wallet struct {
	crypto  crypto.Provider
	privKey []byte
	pubKey  []byte
	address string

	mtx      sync.Mutex
	messages []Message
}

// NewWallet generates a fresh key pair.
func NewWallet(p crypto.Provider) (*Wallet, error) {
	priv, _, err := p.GenKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "generate wallet key")
	}
	return NewWalletFromKey(p, priv)
}

// NewWalletFromKey wraps an existing private key.
func NewWalletFromKey(p crypto.Provider, privKey []byte) (*Wallet, error) {
	pubKey, err := p.PubKey(privKey)
	if err != nil {
		return nil, errors.Wrap(err, "derive wallet public key")
	}
	return &Wallet{
		crypto:  p,
		privKey: privKey,
		pubKey:  pubKey,
		address: p.DeriveAddress(pubKey),
	}, nil
}

func (w *Wallet) Address() string { return w.address }
func (w *Wallet) PubKey() []byte  { return w.pubKey }

// CreateTransaction signs a transfer of amount to recipient. balance is the
// sender's current ledger balance.
func (w *Wallet) CreateTransaction(recipient string, amount, balance uint64) (*types.Tx, error) {
	if balance < amount {
		return nil, ErrInsufficientFunds{Balance: balance, Amount: amount}
	}
	tx := types.NewFinancialTx(w.address, w.pubKey, recipient, amount)
	if err := w.sign(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// CreateMessage encrypts text to recipientPub and signs the MESSAGE transaction.
func (w *Wallet) CreateMessage(recipient string, recipientPub []byte, text string) (*types.Tx, error) {
	if w.crypto.DeriveAddress(recipientPub) != recipient {
		return nil, errors.Errorf("public key does not belong to %s", recipient)
	}
	ciphertext, err := w.crypto.Encrypt(recipientPub, []byte(text))
	if err != nil {
		return nil, errors.Wrap(err, "encrypt message")
	}
	tx := types.NewMessageTx(w.address, w.pubKey, recipient, recipientPub, ciphertext)
	if err := w.sign(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// CallContract signs a CONTRACT transaction invoking method on contract.
func (w *Wallet) CallContract(contract, method string, params []string) (*types.Tx, error) {
	tx := types.NewContractTx(w.address, w.pubKey, contract, method, params)
	if err := w.sign(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// ReceiveMessage verifies a MESSAGE transaction addressed to this wallet,
// decrypts it and keeps it.
func (w *Wallet) ReceiveMessage(tx *types.Tx) (Message, error) {
	if tx.Type != types.TxMessage {
		return Message{}, errors.Wrapf(types.ErrStructural, "tx %s is not a message", tx.Hash)
	}
	if tx.Recipient != w.address {
		return Message{}, errors.Errorf("message %s is addressed to %s", tx.Hash, tx.Recipient)
	}
	if err := tx.Check(w.crypto); err != nil {
		return Message{}, err
	}
	plain, err := w.crypto.Decrypt(w.privKey, tx.EncryptedMessage)
	if err != nil {
		return Message{}, errors.Wrap(err, "decrypt message")
	}

	msg := Message{From: tx.Sender, Text: string(plain), TxHash: tx.Hash, Received: time.Now()}
	w.mtx.Lock()
	w.messages = append(w.messages, msg)
	w.mtx.Unlock()
	return msg, nil
}

// Messages returns the received messages, oldest first.
func (w *Wallet) Messages() []Message {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	msgs := make([]Message, len(w.messages))
	copy(msgs, w.messages)
	return msgs
}

func (w *Wallet) sign(tx *types.Tx) error {
	return tx.Sign(w.crypto, w.privKey)
}

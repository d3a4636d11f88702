package types

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"segchain/crypto"
)

type TxType string

const (
	TxFinancial TxType = "FINANCIAL"
	TxMessage   TxType = "MESSAGE"
	TxContract  TxType = "CONTRACT"
	TxReward    TxType = "REWARD"
)

func (t TxType) IsValid() bool {
	switch t {
	case TxFinancial, TxMessage, TxContract, TxReward:
		return true
	}
	return false
}

// Tx is a signed transaction. Only FINANCIAL and REWARD transactions move balances.
type Tx struct {
	Type         TxType `json:"type"`
	Sender       string `json:"sender,omitempty"`
	SenderPubKey []byte `json:"sender_pub_key,omitempty"`
	Recipient    string `json:"recipient,omitempty"`
	Amount       uint64 `json:"amount,omitempty"`
	Timestamp    int64  `json:"timestamp"`

	// MESSAGE: ciphertext readable only by the holder of MessageRecipientKey
	EncryptedMessage    []byte `json:"encrypted_message,omitempty"`
	MessageRecipientKey []byte `json:"message_recipient_key,omitempty"`

	// CONTRACT
	ContractAddress string   `json:"contract_address,omitempty"`
	Method          string   `json:"method,omitempty"`
	Params          []string `json:"params,omitempty"`

	Hash      string `json:"hash"`
	Signature []byte `json:"signature,omitempty"`
}

func NewFinancialTx(sender string, senderPub []byte, recipient string, amount uint64) *Tx {
	return &Tx{
		Type:         TxFinancial,
		Sender:       sender,
		SenderPubKey: senderPub,
		Recipient:    recipient,
		Amount:       amount,
		Timestamp:    time.Now().UnixNano(),
	}
}

func NewMessageTx(sender string, senderPub []byte, recipient string, recipientPub, ciphertext []byte) *Tx {
	return &Tx{
		Type:                TxMessage,
		Sender:              sender,
		SenderPubKey:        senderPub,
		Recipient:           recipient,
		EncryptedMessage:    ciphertext,
		MessageRecipientKey: recipientPub,
		Timestamp:           time.Now().UnixNano(),
	}
}

func NewContractTx(sender string, senderPub []byte, contract, method string, params []string) *Tx {
	return &Tx{
		Type:            TxContract,
		Sender:          sender,
		SenderPubKey:    senderPub,
		ContractAddress: contract,
		Method:          method,
		Params:          params,
		Timestamp:       time.Now().UnixNano(),
	}
}

// NewRewardTx mints amount to recipient. Reward txs are unsigned.
func NewRewardTx(recipient string, amount uint64, h crypto.Hasher) *Tx {
	tx := &Tx{
		Type:      TxReward,
		Recipient: recipient,
		Amount:    amount,
		Timestamp: time.Now().UnixNano(),
	}
	tx.Hash = tx.ComputeHash(h)
	return tx
}

// SignBytes is the canonical encoding covered by Hash.
func (tx *Tx) SignBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(string(tx.Type))
	buf.WriteByte('|')
	buf.WriteString(tx.Sender)
	fmt.Fprintf(&buf, "|%x|", tx.SenderPubKey)
	buf.WriteString(tx.Recipient)
	buf.WriteByte('|')
	buf.WriteString(strconv.FormatUint(tx.Amount, 10))
	buf.WriteByte('|')
	buf.WriteString(strconv.FormatInt(tx.Timestamp, 10))
	if len(tx.EncryptedMessage) > 0 {
		fmt.Fprintf(&buf, "|%x|%x", tx.EncryptedMessage, tx.MessageRecipientKey)
	}
	if tx.ContractAddress != "" {
		buf.WriteByte('|')
		buf.WriteString(tx.ContractAddress)
		buf.WriteByte('|')
		buf.WriteString(tx.Method)
		for _, p := range tx.Params {
			fmt.Fprintf(&buf, "|%d:%s", len(p), p)
		}
	}
	return buf.Bytes()
}

func (tx *Tx) ComputeHash(h crypto.Hasher) string {
	return h.DoubleHash(tx.SignBytes())
}

// Sign fills Hash and signs it with priv.
func (tx *Tx) Sign(p crypto.Provider, priv []byte) error {
	tx.Hash = tx.ComputeHash(p)
	sig, err := p.Sign(priv, []byte(tx.Hash))
	if err != nil {
		return errors.Wrap(err, "sign tx")
	}
	tx.Signature = sig
	return nil
}

// ValidateBasic performs the structural checks that need no signature verification.
func (tx *Tx) ValidateBasic(h crypto.Hasher) error {
	if tx == nil {
		return errors.Wrap(ErrStructural, "nil tx")
	}
	if !tx.Type.IsValid() {
		return errors.Wrapf(ErrStructural, "unknown tx type %q", tx.Type)
	}
	if tx.Hash == "" || tx.Hash != tx.ComputeHash(h) {
		return errors.Wrapf(ErrStructural, "tx hash mismatch %s", tx.Hash)
	}

	switch tx.Type {
	case TxFinancial:
		if tx.Recipient == "" || tx.Amount == 0 {
			return errors.Wrap(ErrStructural, "financial tx needs a recipient and a positive amount")
		}
		if !crypto.IsAddress(tx.Sender) || !crypto.IsAddress(tx.Recipient) {
			return errors.Wrap(ErrStructural, "financial tx has a malformed address")
		}
		if tx.Recipient == tx.Sender {
			return errors.Wrap(ErrStructural, "financial tx sends to itself")
		}
	case TxMessage:
		if tx.Recipient == "" || len(tx.EncryptedMessage) == 0 {
			return errors.Wrap(ErrStructural, "message tx needs a recipient and a payload")
		}
	case TxContract:
		if tx.ContractAddress == "" || tx.Method == "" {
			return errors.Wrap(ErrStructural, "contract tx needs an address and a method")
		}
	case TxReward:
		if tx.Recipient == "" || tx.Amount == 0 {
			return errors.Wrap(ErrStructural, "reward tx needs a recipient and a positive amount")
		}
		return nil
	}

	if tx.Sender == "" || len(tx.SenderPubKey) == 0 {
		return errors.Wrap(ErrStructural, "signed tx without sender")
	}
	return nil
}

// Verify checks that the signature is valid and that the sender address
// belongs to the embedded public key.
func (tx *Tx) Verify(p crypto.Provider) error {
	if tx.Type == TxReward {
		return nil
	}
	if p.DeriveAddress(tx.SenderPubKey) != tx.Sender {
		return errors.Wrapf(ErrSignature, "sender %s does not match public key", tx.Sender)
	}
	if !p.Verify(tx.SenderPubKey, []byte(tx.Hash), tx.Signature) {
		return errors.Wrapf(ErrSignature, "tx %s", tx.Hash)
	}
	return nil
}

// Check runs ValidateBasic followed by Verify.
func (tx *Tx) Check(p crypto.Provider) error {
	if err := tx.ValidateBasic(p); err != nil {
		return err
	}
	return tx.Verify(p)
}

func (tx *Tx) String() string {
	if tx == nil {
		return "nil-Tx"
	}
	return fmt.Sprintf("Tx{%s %s %s->%s %d}", shortHash(tx.Hash), tx.Type, tx.Sender, tx.Recipient, tx.Amount)
}

//-----------------------------------------------------------------------------

type Txs []*Tx

// HasType reports whether any tx in the list is of type t.
func (txs Txs) HasType(t TxType) bool {
	for _, tx := range txs {
		if tx.Type == t {
			return true
		}
	}
	return false
}

func (txs Txs) Hashes() []string {
	hashes := make([]string, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash
	}
	return hashes
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

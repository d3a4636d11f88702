package p2p

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"segchain/crypto"
	"segchain/types"
)

type MessageType string

const (
	MsgHandshake          MessageType = "HANDSHAKE"
	MsgBlockRequest       MessageType = "BLOCK_REQUEST"
	MsgBlockResponse      MessageType = "BLOCK_RESPONSE"
	MsgTransaction        MessageType = "TRANSACTION_BROADCAST"
	MsgPeerDiscovery      MessageType = "PEER_DISCOVERY"
	MsgValidationRequest  MessageType = "VALIDATION_REQUEST"
	MsgValidationResponse MessageType = "VALIDATION_RESPONSE"
	MsgSyncRequest        MessageType = "SYNC_REQUEST"
	MsgSyncResponse       MessageType = "SYNC_RESPONSE"
	MsgContractDeployment MessageType = "CONTRACT_DEPLOYMENT"
	MsgContractExecution  MessageType = "CONTRACT_EXECUTION"
)

func (t MessageType) IsValid() bool {
	switch t {
	case MsgHandshake, MsgBlockRequest, MsgBlockResponse, MsgTransaction, MsgPeerDiscovery,
		MsgValidationRequest, MsgValidationResponse, MsgSyncRequest, MsgSyncResponse,
		MsgContractDeployment, MsgContractExecution:
		return true
	}
	return false
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message is the signed envelope every node exchanges. Payload is the JSON
// encoding of the type-specific payload struct.
type Message struct {
	Type      MessageType `json:"type"`
	Sender    string      `json:"sender"`
	Payload   string      `json:"payload"`
	Timestamp int64       `json:"timestamp"`
	Signature string      `json:"signature"`
}

// NewMessage encodes payload and stamps the message with the current time.
// The message still has to be signed.
func NewMessage(t MessageType, sender string, payload interface{}) (*Message, error) {
	bz, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s payload", t)
	}
	return &Message{
		Type:      t,
		Sender:    sender,
		Payload:   string(bz),
		Timestamp: time.Now().UnixNano(),
	}, nil
}

// SignBytes covers type, sender, payload and timestamp.
func (m *Message) SignBytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(string(m.Type))
	buf.WriteByte('|')
	buf.WriteString(m.Sender)
	buf.WriteByte('|')
	buf.WriteString(m.Payload)
	buf.WriteByte('|')
	buf.WriteString(strconv.FormatInt(m.Timestamp, 10))
	return buf.Bytes()
}

func (m *Message) Sign(p crypto.Provider, priv []byte) error {
	sig, err := p.Sign(priv, m.SignBytes())
	if err != nil {
		return errors.Wrap(err, "sign message")
	}
	m.Signature = hex.EncodeToString(sig)
	return nil
}

// Verify checks the signature against pub and that Sender is the address of pub.
func (m *Message) Verify(p crypto.Provider, pub []byte) bool {
	if p.DeriveAddress(pub) != m.Sender {
		return false
	}
	sig, err := hex.DecodeString(m.Signature)
	if err != nil {
		return false
	}
	return p.Verify(pub, m.SignBytes(), sig)
}

func (m *Message) ValidateBasic() error {
	if !m.Type.IsValid() {
		return errors.Wrapf(types.ErrNetwork, "unknown message type %q", m.Type)
	}
	if m.Sender == "" {
		return errors.Wrap(types.ErrNetwork, "message without sender")
	}
	if m.Signature == "" {
		return errors.Wrap(types.ErrNetwork, "unsigned message")
	}
	return nil
}

// DecodePayload unmarshals the payload into v.
func (m *Message) DecodePayload(v interface{}) error {
	if err := json.UnmarshalFromString(m.Payload, v); err != nil {
		return errors.Wrapf(types.ErrNetwork, "decode %s payload: %v", m.Type, err)
	}
	return nil
}

func (m *Message) String() string {
	return fmt.Sprintf("Message{%s from:%s size:%d}", m.Type, m.Sender, len(m.Payload))
}

//-----------------------------------------------------------------------------
// payloads

type Handshake struct {
	Version      int      `json:"version"`
	NodeID       string   `json:"node_id"`
	PubKey       []byte   `json:"pub_key"`
	ListenAddr   string   `json:"listen_addr"`
	Timestamp    int64    `json:"timestamp"`
	Capabilities []string `json:"capabilities,omitempty"`
	// Reply is set on the answer to a handshake so it isn't answered again.
	Reply bool `json:"reply,omitempty"`
}

type BlockRequest struct {
	// first block index wanted; the responder sends up to its head
	Height int64 `json:"height"`
}

type BlockResponse struct {
	Blocks []*types.Block `json:"blocks"`
}

type SyncRequest struct {
	Height   int64  `json:"height"`
	HeadHash string `json:"head_hash"`
}

type SyncResponse struct {
	Height   int64  `json:"height"`
	HeadHash string `json:"head_hash"`
}

type PeerDiscovery struct {
	Peers []string `json:"peers"`
	// Request asks the receiver to answer with its own peer list.
	Request bool `json:"request,omitempty"`
}

type ValidationRequest struct {
	RequestID string       `json:"request_id"`
	Validator string       `json:"validator"`
	Block     *types.Block `json:"block"`
}

type ValidationResponse struct {
	RequestID string `json:"request_id"`
	Validator string `json:"validator"`
	Approve   bool   `json:"approve"`
	Reason    string `json:"reason,omitempty"`
}

type ContractDeployment struct {
	Bytecode string `json:"bytecode"`
	Owner    string `json:"owner"`
}

type ContractExecution struct {
	Address string   `json:"address"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
	Caller  string   `json:"caller"`
}

package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segchain/crypto"
	"segchain/types"
)

func TestMessageCodecRoundTrip(t *testing.T) {
	p := crypto.NewKyberProvider()
	priv, pub, err := p.GenKeyPair()
	require.NoError(t, err)
	sender := p.DeriveAddress(pub)

	block := types.MakeBlock(1, "prev", nil, p)
	msg, err := NewMessage(MsgBlockResponse, sender, BlockResponse{Blocks: []*types.Block{block}})
	require.NoError(t, err)
	require.NoError(t, msg.Sign(p, priv))
	require.True(t, msg.Verify(p, pub))

	for _, name := range []string{"json", "msgpack"} {
		name := name
		t.Run(name, func(t *testing.T) {
			codec, err := NewCodec(name)
			require.NoError(t, err)

			bz, err := codec.Marshal(msg)
			require.NoError(t, err)
			got := new(Message)
			require.NoError(t, codec.Unmarshal(bz, got))

			assert.Equal(t, msg, got)
			assert.True(t, got.Verify(p, pub))

			var resp BlockResponse
			require.NoError(t, got.DecodePayload(&resp))
			require.Len(t, resp.Blocks, 1)
			assert.Equal(t, block.Hash, resp.Blocks[0].Hash)
		})
	}
}

func TestMessageVerify(t *testing.T) {
	p := crypto.NewKyberProvider()
	priv, pub, err := p.GenKeyPair()
	require.NoError(t, err)
	_, otherPub, err := p.GenKeyPair()
	require.NoError(t, err)

	newMsg := func() *Message {
		msg, err := NewMessage(MsgSyncRequest, p.DeriveAddress(pub), SyncRequest{Height: 3, HeadHash: "abc"})
		require.NoError(t, err)
		require.NoError(t, msg.Sign(p, priv))
		return msg
	}

	testCases := []struct {
		name   string
		tamper func(*Message)
		pub    []byte
		valid  bool
	}{
		{"untouched", func(*Message) {}, pub, true},
		{"payload changed", func(m *Message) { m.Payload = `{"height":4}` }, pub, false},
		{"timestamp changed", func(m *Message) { m.Timestamp++ }, pub, false},
		{"type changed", func(m *Message) { m.Type = MsgSyncResponse }, pub, false},
		{"wrong key", func(*Message) {}, otherPub, false},
		{"garbage signature", func(m *Message) { m.Signature = "zz" }, pub, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			msg := newMsg()
			tc.tamper(msg)
			assert.Equal(t, tc.valid, msg.Verify(p, tc.pub))
		})
	}
}

func TestMessageValidateBasic(t *testing.T) {
	assert.Error(t, (&Message{Type: "PING", Sender: "a", Signature: "00"}).ValidateBasic())
	assert.Error(t, (&Message{Type: MsgHandshake, Signature: "00"}).ValidateBasic())
	assert.Error(t, (&Message{Type: MsgHandshake, Sender: "a"}).ValidateBasic())
	assert.NoError(t, (&Message{Type: MsgHandshake, Sender: "a", Signature: "00"}).ValidateBasic())

	_, err := NewCodec("xml")
	assert.Error(t, err)
}

package p2p

import (
	"fmt"

	"github.com/ugorji/go/codec"
)

// Codec frames a Message for the transport.
type Codec interface {
	Name() string
	Marshal(msg *Message) ([]byte, error)
	Unmarshal(bz []byte, msg *Message) error
}

// NewCodec returns the codec registered under name ("json" or "msgpack").
func NewCodec(name string) (Codec, error) {
	switch name {
	case "json", "":
		return jsonCodec{}, nil
	case "msgpack":
		return newMsgpackCodec(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(bz []byte, msg *Message) error {
	return json.Unmarshal(bz, msg)
}

type msgpackCodec struct {
	handle *codec.MsgpackHandle
}

func newMsgpackCodec() msgpackCodec {
	mh := new(codec.MsgpackHandle)
	mh.WriteExt = true
	return msgpackCodec{handle: mh}
}

func (msgpackCodec) Name() string { return "msgpack" }

func (mc msgpackCodec) Marshal(msg *Message) ([]byte, error) {
	var bz []byte
	enc := codec.NewEncoderBytes(&bz, mc.handle)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return bz, nil
}

func (mc msgpackCodec) Unmarshal(bz []byte, msg *Message) error {
	dec := codec.NewDecoderBytes(bz, mc.handle)
	return dec.Decode(msg)
}

package transportgrpc

import (
	"github.com/ugorji/go/codec"
)

// msgpackCodec implements google.golang.org/grpc/encoding.Codec on top of
// ugorji/go/codec, the same msgpack library filelog uses for its segment.
// The service methods in grpc.go are wired by hand against
// grpc.ServiceDesc rather than generated from a .proto file, and this
// codec carries the bytes instead of proto.Marshal/Unmarshal (see
// DESIGN.md for why protobuf itself was dropped).
type msgpackCodec struct {
	mh *codec.MsgpackHandle
}

func newMsgpackCodec() *msgpackCodec {
	return &msgpackCodec{mh: &codec.MsgpackHandle{}}
}

func (c *msgpackCodec) Marshal(v any) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, c.mh)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *msgpackCodec) Unmarshal(data []byte, v any) error {
	dec := codec.NewDecoderBytes(data, c.mh)
	return dec.Decode(v)
}

func (c *msgpackCodec) Name() string { return "msgpack" }

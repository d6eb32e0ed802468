package mq

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes event payloads on the wire. RPC request/reply framing is
// always JSON (see client.go/server.go); the codec only governs the bodies
// of published events.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type JSONCodec struct{}

func (JSONCodec) ContentType() string              { return "application/json" }
func (JSONCodec) Marshal(v any) ([]byte, error)    { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type MsgpackCodec struct{}

func (MsgpackCodec) ContentType() string              { return "application/msgpack" }
func (MsgpackCodec) Marshal(v any) ([]byte, error)    { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

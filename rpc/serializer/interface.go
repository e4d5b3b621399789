package serializer

import "github.com/ValentinKolb/dMem/rpc/common"

// IRPCSerializer turns a common.Message into the bytes carried by a transport frame and back.
// Client and server must agree on the implementation; nothing on the wire identifies it.
type IRPCSerializer interface {
	// Serialize encodes msg. Zero valued fields may be omitted by the encoding.
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg. Truncated or corrupt input returns an error
	// and leaves msg in an undefined state.
	Deserialize(b []byte, msg *common.Message) error
}

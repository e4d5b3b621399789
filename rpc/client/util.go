package client

import (
	"fmt"

	"github.com/ValentinKolb/dMem/rpc/common"
	"github.com/ValentinKolb/dMem/rpc/serializer"
	"github.com/ValentinKolb/dMem/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc/client")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	channel    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// invokeRPCRequest sends a request on the given channel and decodes the response.
//
// Error responses and responses of an unexpected type return a nil message. A response of the expected type
// that carries an error text is returned together with the error, so callers can inspect its fields.
func invokeRPCRequest(channel uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := transport.Send(channel, reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err = serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("RPC MemoryAdapter - Error: %s", err)
	}

	if resp.MsgType == common.MsgTError {
		return nil, fmt.Errorf("RPC MemoryAdapter - Error: %s", resp.Err)
	}

	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC MemoryAdapter - Unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	if resp.Err != "" {
		return resp, fmt.Errorf("RPC MemoryAdapter - Error: %s", resp.Err)
	}

	return resp, nil
}

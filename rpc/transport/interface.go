package transport

import (
	"github.com/ValentinKolb/dMem/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc answers one serialized request received on the given channel.
// The transport may call it from many goroutines at once.
type ServerHandleFunc func(channel uint64, req []byte) (resp []byte)

// IRPCServerTransport accepts connections and hands every request frame to the registered handler
type IRPCServerTransport interface {
	// RegisterHandler sets the handler, it must be called before Listen
	RegisterHandler(handler ServerHandleFunc)
	// Listen blocks serving requests until Close is called.
	// It returns nil after Close and an error if the listener could not be opened.
	Listen(config common.ServerConfig) error
	// Close stops the listener and closes all open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport sends request frames to one or more servers
type IRPCClientTransport interface {
	// Connect opens the connections described by config, a second call replaces them
	Connect(config common.ClientConfig) error
	// Send delivers req on channel and waits for the matching response.
	// Failed attempts are retried up to the configured retry count.
	Send(channel uint64, req []byte) (resp []byte, err error)
	// Close closes all connections, pending and later calls to Send fail
	Close() error
}

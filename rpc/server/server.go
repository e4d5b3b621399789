package server

import (
	"fmt"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/ValentinKolb/dMem/lib/node"
	"github.com/ValentinKolb/dMem/lib/registry"
	"github.com/ValentinKolb/dMem/rpc/common"
	"github.com/ValentinKolb/dMem/rpc/serializer"
	"github.com/ValentinKolb/dMem/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server serving the accounting calls of the given node.
// The node is started and shut down by the caller.
//
// Usage:
//
//	n, _ := node.New(node.DefaultConfig(), reclaim.DefaultAllocator())
//	n.Start()
//	defer n.Shutdown()
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(0, 4),
//		serializer.NewBinarySerializer(),
//		n,
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
	n *node.Node,
) *rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if config.Channel == 0 {
		config.Channel = common.DefaultChannel
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof("%s", config.String())

	return &rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		node:       n,
		adapter:    NewMemoryServerAdapter(n),
		stopCh:     make(chan struct{}),
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	node       *node.Node
	adapter    *memoryServerAdapter

	stopCh    chan struct{}
	closeOnce sync.Once
	drainer   sync.WaitGroup
}

// Handle decodes a request of the given channel, lets the adapter handle it and encodes the response
func (s *rpcServer) Handle(channel uint64, req []byte) []byte {
	var msg common.Message
	var respMsg *common.Message

	if channel != s.config.Channel {
		respMsg = common.NewErrorResponse(fmt.Sprintf("unknown channel %d", channel))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		respMsg = s.adapter.Handle(&msg)
	}

	val, err := s.serializer.Serialize(*respMsg)
	if err != nil {
		Logger.Errorf("failed to serialize response: %v", err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return val
}

// drainEvictions drops the sessions of evicted trackers until the server is closed
// or the registry stops publishing evictions
func (s *rpcServer) drainEvictions(events <-chan *registry.Eviction) {
	defer s.drainer.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if dropped := s.adapter.dropEvicted(ev.LogID); dropped > 0 {
				Logger.Infof("dropped %d sessions of evicted log_id:%d", dropped, ev.LogID)
			}
		}
	}
}

// Serve registers the handler and serves requests until Close is called
func (s *rpcServer) Serve() error {
	s.transport.RegisterHandler(s.Handle)

	if events := s.node.Registry().Evictions(); events != nil {
		s.drainer.Add(1)
		go s.drainEvictions(events)
	} else {
		Logger.Warningf("registry does not publish evictions, sessions of evicted trackers are kept until detached")
	}

	Logger.Infof("dMem RPC server serving channel %d", s.config.Channel)
	return s.transport.Listen(s.config)
}

// Close stops the transport and the eviction drain. Only the first call has an effect.
func (s *rpcServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.transport.Close()
		close(s.stopCh)
		s.drainer.Wait()
		Logger.Infof("RPC server closed with %d open sessions", s.adapter.Sessions())
	})
	return err
}

package server

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dMem/lib/guard"
	"github.com/ValentinKolb/dMem/lib/node"
	"github.com/ValentinKolb/dMem/lib/reclaim"
	"github.com/ValentinKolb/dMem/rpc/client"
	"github.com/ValentinKolb/dMem/rpc/common"
	"github.com/ValentinKolb/dMem/rpc/serializer"
	"github.com/ValentinKolb/dMem/rpc/transport"
	"github.com/ValentinKolb/dMem/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --------------------------------------------------------------------------
// In-process transports
// --------------------------------------------------------------------------

// blockingServerTransport serves nothing, Listen blocks until Close
type blockingServerTransport struct {
	closed chan struct{}
	once   sync.Once
}

func (b *blockingServerTransport) RegisterHandler(transport.ServerHandleFunc) {}

func (b *blockingServerTransport) Listen(common.ServerConfig) error {
	<-b.closed
	return nil
}

func (b *blockingServerTransport) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

// loopbackTransport hands requests directly to the server
type loopbackTransport struct {
	server *rpcServer
}

func (l *loopbackTransport) Connect(common.ClientConfig) error { return nil }

func (l *loopbackTransport) Send(channel uint64, req []byte) ([]byte, error) {
	return l.server.Handle(channel, req), nil
}

func (l *loopbackTransport) Close() error { return nil }

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func testNodeConfig() node.Config {
	cfg := node.DefaultConfig()
	cfg.TrackerBytesLimit = 1000
	cfg.PublishEvictions = true
	return cfg
}

// startServer starts a node and a server on an in-process transport. Both are stopped on cleanup.
func startServer(t *testing.T, cfg node.Config) (*rpcServer, *client.Accountant) {
	t.Helper()

	n, err := node.New(cfg, reclaim.NopAllocator{})
	require.NoError(t, err)
	n.Start()

	s := NewRPCServer(common.ServerConfig{Node: cfg}, &blockingServerTransport{closed: make(chan struct{})},
		serializer.NewBinarySerializer(), n)

	served := make(chan error, 1)
	go func() { served <- s.Serve() }()

	acc, err := client.NewRPCAccountant(common.DefaultChannel, common.ClientConfig{}, &loopbackTransport{server: s},
		serializer.NewBinarySerializer())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, s.Close())
		require.NoError(t, <-served)
		n.Shutdown()
	})
	return s, acc
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestRemoteChargeAndBreach(t *testing.T) {
	_, acc := startServer(t, testNodeConfig())

	require.NoError(t, acc.Charge(1, 10, 600))

	err := acc.Charge(1, 11, 600)
	require.Error(t, err)
	assert.True(t, errors.Is(err, guard.ErrMemoryLimitExceeded))

	var exceeded *guard.MemoryLimitExceeded
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, uint64(1), exceeded.LogID)
	assert.Equal(t, int64(1000), exceeded.Limit)
	assert.Equal(t, int64(1200), exceeded.Consumed)
	assert.Equal(t, int64(600), exceeded.Local)

	// the breaching charge was not rolled back
	info, err := acc.Info(1)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.True(t, info.Breached)
	assert.Equal(t, int64(1200), info.Consumed)
	assert.Equal(t, int64(1200), info.Peak)
	assert.Equal(t, 2, info.Sessions)
}

func TestRemoteUnchargeAndDetach(t *testing.T) {
	s, acc := startServer(t, testNodeConfig())

	require.NoError(t, acc.Charge(7, 1, 500))
	require.NoError(t, acc.Charge(7, 2, 300))

	local, err := acc.Uncharge(7, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(400), local)

	// over-release is clamped
	local, err = acc.Uncharge(7, 1, 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(0), local)

	// unknown sessions hold nothing
	local, err = acc.Uncharge(7, 99, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), local)

	released, err := acc.Detach(7, 2, true)
	require.NoError(t, err)
	assert.Equal(t, int64(300), released)
	assert.Equal(t, 1, s.adapter.Sessions())

	released, err = acc.Detach(7, 1, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), released)
	assert.Equal(t, 0, s.adapter.Sessions())

	info, err := acc.Info(7)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Consumed)
	assert.Equal(t, 0, info.Sessions)
}

func TestRemoteRequestErrors(t *testing.T) {
	s, acc := startServer(t, testNodeConfig())

	require.NoError(t, acc.Charge(1, 5, 10))

	// a session stays bound to its first log id
	err := acc.Charge(2, 5, 10)
	require.Error(t, err)
	assert.False(t, errors.Is(err, guard.ErrMemoryLimitExceeded))
	assert.Contains(t, err.Error(), "bound to log_id:1")

	err = acc.Charge(1, 6, -1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, guard.ErrMemoryLimitExceeded))

	// unknown tracker
	info, err := acc.Info(42)
	require.NoError(t, err)
	assert.False(t, info.Exists)

	// wrong channel
	other, err := client.NewRPCAccountant(common.DefaultChannel+1, common.ClientConfig{}, &loopbackTransport{server: s},
		serializer.NewBinarySerializer())
	require.NoError(t, err)
	err = other.Charge(1, 5, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel")

	// unsupported message type
	ser := serializer.NewBinarySerializer()
	req, err := ser.Serialize(*common.NewCustomRequest([]byte("x")))
	require.NoError(t, err)
	var resp common.Message
	require.NoError(t, ser.Deserialize(s.Handle(common.DefaultChannel, req), &resp))
	assert.Equal(t, common.MsgTError, resp.MsgType)

	// garbage
	require.NoError(t, ser.Deserialize(s.Handle(common.DefaultChannel, []byte{}), &resp))
	assert.Equal(t, common.MsgTError, resp.MsgType)
	assert.Contains(t, resp.Err, "deserialize")
}

func TestRemoteAllocator(t *testing.T) {
	_, acc := startServer(t, testNodeConfig())
	require.NoError(t, acc.Charge(3, 1, 100))

	info, err := acc.AllocatorInfo()
	require.NoError(t, err)
	assert.True(t, info.Enabled)
	assert.Equal(t, "nop", info.Name)
	assert.Equal(t, 1, info.Trackers)
	assert.Equal(t, int64(100), info.Consumed)
	assert.Equal(t, 1, info.Sessions)

	text, err := acc.Allocator()
	require.NoError(t, err)
	assert.Contains(t, text, `"name": "nop"`)

	cfg := testNodeConfig()
	cfg.DisableReclaim = true
	_, disabled := startServer(t, cfg)
	info, err = disabled.AllocatorInfo()
	require.NoError(t, err)
	assert.False(t, info.Enabled)
	assert.Empty(t, info.Name)
}

func TestSessionsOfEvictedTrackersAreDropped(t *testing.T) {
	cfg := testNodeConfig()
	cfg.TrackerGCInterval = 20 * time.Millisecond
	cfg.TrackerEvictionInterval = 10 * time.Millisecond

	s, acc := startServer(t, cfg)

	require.NoError(t, acc.Charge(9, 1, 100))
	require.NoError(t, acc.Charge(9, 2, 100))
	require.Equal(t, 2, s.adapter.Sessions())

	require.Eventually(t, func() bool { return s.adapter.Sessions() == 0 }, 2*time.Second, 5*time.Millisecond)

	info, err := acc.Info(9)
	require.NoError(t, err)
	assert.False(t, info.Exists)

	// the id can be used again with a fresh tracker
	require.NoError(t, acc.Charge(9, 1, 100))
	info, err = acc.Info(9)
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Consumed)
}

func TestUnboundSessionSurvivesEvictionDrain(t *testing.T) {
	n, err := node.New(testNodeConfig(), reclaim.NopAllocator{})
	require.NoError(t, err)
	defer n.Shutdown()
	a := NewMemoryServerAdapter(n)

	// the session exists but its guard has not resolved a tracker yet
	s := a.bind(1, 9)
	assert.Equal(t, 0, a.dropEvicted(9))
	assert.Equal(t, 1, a.Sessions())

	require.NoError(t, s.guard.Charge(300))
	resp := a.uncharge(common.NewUnchargeRequest(9, 1, 300))
	require.Empty(t, resp.Err)
	assert.Equal(t, int64(0), resp.Local)

	tr, ok := n.Registry().Get(9)
	require.True(t, ok)
	assert.Equal(t, int64(0), tr.BytesConsumed())

	// once its tracker is gone the session is dropped
	n.Registry().Erase(9)
	assert.Equal(t, 1, a.dropEvicted(9))
	assert.Equal(t, 0, a.Sessions())
}

func TestServerOverUnixSocket(t *testing.T) {
	cfg := testNodeConfig()
	n, err := node.New(cfg, reclaim.NopAllocator{})
	require.NoError(t, err)
	n.Start()
	defer n.Shutdown()

	socket := filepath.Join(t.TempDir(), "dmem.sock")
	serverConfig := common.ServerConfig{
		Node:          cfg,
		TimeoutSecond: 5,
		Transport:     common.TransportConfig{Endpoint: socket, WorkersPerConn: 4},
	}

	s := NewRPCServer(serverConfig, unix.NewUnixServerTransport(0, 4), serializer.NewJSONSerializer(), n)
	served := make(chan error, 1)
	go func() { served <- s.Serve() }()

	clientConfig := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.TransportConfig{
			Endpoints:              []string{socket},
			ConnectionsPerEndpoint: 2,
			RetryCount:             2,
		},
	}

	var acc *client.Accountant
	require.Eventually(t, func() bool {
		acc, err = client.NewRPCAccountant(common.DefaultChannel, clientConfig, unix.NewUnixClientTransport(),
			serializer.NewJSONSerializer())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	var wg sync.WaitGroup
	for session := uint64(1); session <= 8; session++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, acc.Charge(5, session, 1))
			}
		}()
	}
	wg.Wait()

	info, err := acc.Info(5)
	require.NoError(t, err)
	assert.Equal(t, int64(400), info.Consumed)
	assert.Equal(t, 8, info.Sessions)

	err = acc.Charge(5, 1, 1000)
	assert.True(t, errors.Is(err, guard.ErrMemoryLimitExceeded))

	require.NoError(t, acc.Close())
	require.NoError(t, s.Close())
	require.NoError(t, <-served)
}

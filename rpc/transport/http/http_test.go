package http

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dMem/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestHttpRoundTrip(t *testing.T) {
	addr := freeAddress(t)

	srv := NewHttpServerTransport()
	srv.RegisterHandler(func(channel uint64, req []byte) []byte {
		return []byte(fmt.Sprintf("%d:%s", channel, req))
	})

	listening := make(chan error, 1)
	go func() {
		listening <- srv.Listen(common.ServerConfig{TimeoutSecond: 5, Transport: common.TransportConfig{Endpoint: addr}})
	}()

	cli := NewHttpClientTransport()
	require.NoError(t, cli.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.TransportConfig{Endpoints: []string{addr}, RetryCount: 1},
	}))

	var resp []byte
	require.Eventually(t, func() bool {
		var err error
		resp, err = cli.Send(3, []byte("hello"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "3:hello", string(resp))

	require.NoError(t, srv.Close())
	require.NoError(t, <-listening)

	_, err := cli.Send(3, []byte("hello"))
	assert.Error(t, err)
	require.NoError(t, cli.Close())

	_, err = cli.Send(3, []byte("hello"))
	assert.Error(t, err, "closed transport")
}

func TestHttpConnectValidation(t *testing.T) {
	cli := NewHttpClientTransport()
	assert.Error(t, cli.Connect(common.ClientConfig{}))
	assert.NoError(t, cli.Connect(common.ClientConfig{Transport: common.TransportConfig{Endpoints: []string{"http://localhost:1"}}}))
	require.NoError(t, cli.Close())

	// Close before Listen makes Listen return at once
	srv := NewHttpServerTransport()
	srv.RegisterHandler(func(uint64, []byte) []byte { return nil })
	require.NoError(t, srv.Close())
	assert.NoError(t, srv.Listen(common.ServerConfig{Transport: common.TransportConfig{Endpoint: freeAddress(t)}}))
}

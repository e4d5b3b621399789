package client

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/dMem/lib/guard"
	"github.com/ValentinKolb/dMem/rpc/common"
	"github.com/ValentinKolb/dMem/rpc/serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport answers every request with the response built by reply
type scriptedTransport struct {
	ser      serializer.IRPCSerializer
	reply    func(req common.Message) common.Message
	channels []uint64
	sendErr  error
	closed   bool
}

func (s *scriptedTransport) Connect(common.ClientConfig) error { return nil }

func (s *scriptedTransport) Send(channel uint64, req []byte) ([]byte, error) {
	s.channels = append(s.channels, channel)
	if s.sendErr != nil {
		return nil, s.sendErr
	}

	var msg common.Message
	if err := s.ser.Deserialize(req, &msg); err != nil {
		return nil, err
	}
	return s.ser.Serialize(s.reply(msg))
}

func (s *scriptedTransport) Close() error {
	s.closed = true
	return nil
}

func newTestAccountant(t *testing.T, reply func(req common.Message) common.Message) (*Accountant, *scriptedTransport) {
	t.Helper()
	ser := serializer.NewBinarySerializer()
	tr := &scriptedTransport{ser: ser, reply: reply}
	acc, err := NewRPCAccountant(7, common.ClientConfig{}, tr, ser)
	require.NoError(t, err)
	return acc, tr
}

func TestChargeRebuildsLimitError(t *testing.T) {
	acc, tr := newTestAccountant(t, func(req common.Message) common.Message {
		assert.Equal(t, common.MsgTMemCharge, req.MsgType)
		assert.Equal(t, uint64(3), req.LogID)
		assert.Equal(t, uint64(4), req.Session)
		return *common.NewChargeResponse(false, 100, 150, 150, errors.New("memory limit exceeded"))
	})

	err := acc.Charge(3, 4, 150)
	require.Error(t, err)
	assert.True(t, errors.Is(err, guard.ErrMemoryLimitExceeded))

	var exceeded *guard.MemoryLimitExceeded
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, guard.MemoryLimitExceeded{LogID: 3, Limit: 100, Consumed: 150, Local: 150}, *exceeded)
	assert.Equal(t, []uint64{7}, tr.channels)
}

func TestChargeOtherErrors(t *testing.T) {
	acc, _ := newTestAccountant(t, func(common.Message) common.Message {
		return *common.NewChargeResponse(false, 0, 0, 0, errors.New("session 4 is bound to log_id:1"))
	})
	err := acc.Charge(3, 4, 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, guard.ErrMemoryLimitExceeded))
	assert.Contains(t, err.Error(), "bound to")

	acc, _ = newTestAccountant(t, func(common.Message) common.Message {
		return *common.NewErrorResponse("unknown channel 7")
	})
	err = acc.Charge(3, 4, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown channel")

	// a response of the wrong type is rejected
	acc, _ = newTestAccountant(t, func(common.Message) common.Message {
		return *common.NewInfoResponse(true, 0, 0, nil, nil)
	})
	err = acc.Charge(3, 4, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unexpected message type")

	acc, tr := newTestAccountant(t, nil)
	tr.sendErr = errors.New("connection refused")
	assert.ErrorIs(t, acc.Charge(3, 4, 1), tr.sendErr)
}

func TestUnchargeDetachInfoAllocator(t *testing.T) {
	acc, tr := newTestAccountant(t, func(req common.Message) common.Message {
		switch req.MsgType {
		case common.MsgTMemUncharge:
			return *common.NewUnchargeResponse(90, nil)
		case common.MsgTMemDetach:
			assert.True(t, req.Ok, "release flag")
			return *common.NewDetachResponse(90, nil)
		case common.MsgTMemInfo:
			return *common.NewInfoResponse(true, 100, 10, []byte(`{"log_id":3,"exists":true,"limit":100,"consumed":10,"sessions":2}`), nil)
		case common.MsgTMemAllocator:
			return *common.NewAllocatorResponse([]byte(`{"enabled":true,"name":"runtime","used_bytes":2048}`), nil)
		default:
			return *common.NewErrorResponse("unexpected")
		}
	})

	local, err := acc.Uncharge(3, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(90), local)

	released, err := acc.Detach(3, 4, true)
	require.NoError(t, err)
	assert.Equal(t, int64(90), released)

	info, err := acc.Info(3)
	require.NoError(t, err)
	assert.Equal(t, common.TrackerInfo{LogID: 3, Exists: true, Limit: 100, Consumed: 10, Sessions: 2}, info)

	alloc, err := acc.AllocatorInfo()
	require.NoError(t, err)
	assert.Equal(t, "runtime", alloc.Name)
	assert.Equal(t, uint64(2048), alloc.UsedBytes)

	text, err := acc.Allocator()
	require.NoError(t, err)
	assert.Contains(t, text, `"used_bytes": 2048`)

	require.NoError(t, acc.Close())
	assert.True(t, tr.closed)
}

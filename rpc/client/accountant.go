package client

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dMem/lib/guard"
	"github.com/ValentinKolb/dMem/rpc/common"
	"github.com/ValentinKolb/dMem/rpc/serializer"
	"github.com/ValentinKolb/dMem/rpc/transport"
)

// NewRPCAccountant creates a client for the accounting service on the given channel and connects its transport
func NewRPCAccountant(
	channel uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Accountant, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &Accountant{
		rpcClientAdapter{
			channel:    channel,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

// Accountant charges and uncharges memory of remote execution contexts (sessions).
//
// Thread-safety: All methods are safe for concurrent use.
type Accountant struct {
	rpcClientAdapter
}

// Charge charges bytes for the session working on logID. If the tracker of logID is over its limit
// afterward, the returned error is a *guard.MemoryLimitExceeded. The charge is not rolled back.
func (a *Accountant) Charge(logID, session uint64, bytes int64) error {
	req := common.NewChargeRequest(logID, session, bytes)
	resp, err := invokeRPCRequest(a.channel, req, a.transport, a.serializer)
	if err == nil {
		return nil
	}

	// breaches are answered with the tracker state at breach time
	if resp != nil && !resp.Ok && resp.Consumed > resp.Limit {
		return &guard.MemoryLimitExceeded{
			LogID:    logID,
			Limit:    resp.Limit,
			Consumed: resp.Consumed,
			Local:    resp.Local,
		}
	}
	return err
}

// Uncharge releases bytes of the session and returns the bytes the session still holds
func (a *Accountant) Uncharge(logID, session uint64, bytes int64) (int64, error) {
	req := common.NewUnchargeRequest(logID, session, bytes)
	resp, err := invokeRPCRequest(a.channel, req, a.transport, a.serializer)
	if err != nil {
		return 0, err
	}
	return resp.Local, nil
}

// Detach drops the session. With release set, everything the session still holds is uncharged first and
// the released amount is returned.
func (a *Accountant) Detach(logID, session uint64, release bool) (int64, error) {
	req := common.NewDetachRequest(logID, session, release)
	resp, err := invokeRPCRequest(a.channel, req, a.transport, a.serializer)
	if err != nil {
		return 0, err
	}
	return resp.Bytes, nil
}

// Info returns the state of the tracker of logID. TrackerInfo.Exists is false if there is none.
func (a *Accountant) Info(logID uint64) (common.TrackerInfo, error) {
	var info common.TrackerInfo

	req := common.NewInfoRequest(logID)
	resp, err := invokeRPCRequest(a.channel, req, a.transport, a.serializer)
	if err != nil {
		return info, err
	}

	if err := json.Unmarshal(resp.Value, &info); err != nil {
		return info, fmt.Errorf("failed to decode tracker info: %w", err)
	}
	return info, nil
}

// Allocator returns the allocator report of the server as indented json
func (a *Accountant) Allocator() (string, error) {
	info, err := a.AllocatorInfo()
	if err != nil {
		return "", err
	}

	out, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// AllocatorInfo returns the decoded allocator report of the server
func (a *Accountant) AllocatorInfo() (common.AllocatorInfo, error) {
	var info common.AllocatorInfo

	req := common.NewAllocatorRequest()
	resp, err := invokeRPCRequest(a.channel, req, a.transport, a.serializer)
	if err != nil {
		return info, err
	}

	if err := json.Unmarshal(resp.Value, &info); err != nil {
		return info, fmt.Errorf("failed to decode allocator info: %w", err)
	}
	return info, nil
}

// Close closes the underlying transport
func (a *Accountant) Close() error {
	return a.transport.Close()
}

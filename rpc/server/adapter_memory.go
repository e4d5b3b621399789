package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dMem/lib/guard"
	"github.com/ValentinKolb/dMem/lib/node"
	"github.com/ValentinKolb/dMem/lib/tracker"
	"github.com/ValentinKolb/dMem/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// session is a remote execution context. It owns the guard charging the tracker of its logical request.
type session struct {
	logID uint64
	guard *guard.Guard
}

// NewMemoryServerAdapter creates the adapter serving the accounting calls of remote execution contexts
func NewMemoryServerAdapter(n *node.Node) *memoryServerAdapter {
	return &memoryServerAdapter{
		node:     n,
		sessions: xsync.NewMapOf[uint64, *session](),
	}
}

type memoryServerAdapter struct {
	node     *node.Node
	sessions *xsync.MapOf[uint64, *session]
}

func (a *memoryServerAdapter) Handle(req *common.Message) (resp *common.Message) {
	switch req.MsgType {
	case common.MsgTMemCharge:
		return a.charge(req)
	case common.MsgTMemUncharge:
		return a.uncharge(req)
	case common.MsgTMemDetach:
		return a.detach(req)
	case common.MsgTMemInfo:
		return a.info(req)
	case common.MsgTMemAllocator:
		return a.allocator()
	default:
		return common.NewErrorResponse(fmt.Sprintf("RPC MemoryAdapter - Unsupported message type: %s", req.MsgType))
	}
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (a *memoryServerAdapter) charge(req *common.Message) *common.Message {
	if req.Bytes < 0 {
		return common.NewChargeResponse(false, 0, 0, 0, fmt.Errorf("invalid charge of %d bytes", req.Bytes))
	}

	s := a.bind(req.Session, req.LogID)
	if s.logID != req.LogID {
		return common.NewChargeResponse(false, 0, 0, 0,
			fmt.Errorf("session %d is bound to log_id:%d, not log_id:%d", req.Session, s.logID, req.LogID))
	}

	err := s.guard.Charge(req.Bytes)

	var exceeded *guard.MemoryLimitExceeded
	if errors.As(err, &exceeded) {
		return common.NewChargeResponse(false, exceeded.Limit, exceeded.Consumed, exceeded.Local, err)
	}

	t := s.guard.Tracker()
	return common.NewChargeResponse(true, t.BytesLimit(), t.BytesConsumed(), s.guard.LocalBytes(), nil)
}

func (a *memoryServerAdapter) uncharge(req *common.Message) *common.Message {
	if req.Bytes < 0 {
		return common.NewUnchargeResponse(0, fmt.Errorf("invalid uncharge of %d bytes", req.Bytes))
	}

	// an unknown session has nothing charged
	s, ok := a.sessions.Load(req.Session)
	if !ok {
		return common.NewUnchargeResponse(0, nil)
	}
	if s.logID != req.LogID {
		return common.NewUnchargeResponse(s.guard.LocalBytes(),
			fmt.Errorf("session %d is bound to log_id:%d, not log_id:%d", req.Session, s.logID, req.LogID))
	}

	s.guard.Uncharge(req.Bytes)
	return common.NewUnchargeResponse(s.guard.LocalBytes(), nil)
}

func (a *memoryServerAdapter) detach(req *common.Message) *common.Message {
	s, ok := a.sessions.LoadAndDelete(req.Session)
	if !ok {
		return common.NewDetachResponse(0, nil)
	}

	var released int64
	if req.Ok {
		released = s.guard.ReleaseAll()
	}
	return common.NewDetachResponse(released, nil)
}

func (a *memoryServerAdapter) info(req *common.Message) *common.Message {
	info := common.TrackerInfo{
		LogID:    req.LogID,
		Sessions: a.sessionsOf(req.LogID),
	}

	t, ok := a.node.Registry().Get(req.LogID)
	if ok {
		now := tracker.MonotonicClock()
		info.Exists = true
		info.Limit = t.BytesLimit()
		info.Consumed = t.BytesConsumed()
		info.Peak = t.PeakBytes()
		info.IdleMillis = t.IdleFor(now).Milliseconds()
		info.AgeMillis = max(now-t.CreatedTime(), 0) / 1e6
		info.Breached = t.CheckBytesLimit()
	}

	value, err := json.Marshal(info)
	return common.NewInfoResponse(ok, info.Limit, info.Consumed, value, err)
}

func (a *memoryServerAdapter) allocator() *common.Message {
	daemon := a.node.Reclaimer()
	stats := a.node.Registry().Stats()

	info := common.AllocatorInfo{
		Enabled:  daemon.Enabled(),
		Trackers: stats.Trackers,
		Consumed: stats.TotalConsumed,
		Evicted:  stats.Evicted,
		Sessions: a.sessions.Size(),
	}

	if daemon.Enabled() {
		alloc := daemon.Allocator()
		info.Name = alloc.Name()
		info.Dump = alloc.DumpStats(daemon.Options().StatsMaxLen)

		allocStats, err := alloc.Stats()
		if err != nil {
			return common.NewAllocatorResponse(nil, fmt.Errorf("failed to read allocator stats: %w", err))
		}
		info.UsedBytes = allocStats.UsedBytes
		info.FreeBytes = allocStats.FreeBytes
	}

	value, err := json.Marshal(info)
	return common.NewAllocatorResponse(value, err)
}

// --------------------------------------------------------------------------
// Sessions
// --------------------------------------------------------------------------

// bind returns the session with the given id, creating it for logID if it does not exist
func (a *memoryServerAdapter) bind(sessionID, logID uint64) *session {
	s, _ := a.sessions.LoadOrCompute(sessionID, func() *session {
		return &session{
			logID: logID,
			guard: a.node.NewGuard(logID),
		}
	})
	return s
}

// sessionsOf counts the sessions bound to logID
func (a *memoryServerAdapter) sessionsOf(logID uint64) int {
	n := 0
	a.sessions.Range(func(_ uint64, s *session) bool {
		if s.logID == logID {
			n++
		}
		return true
	})
	return n
}

// dropEvicted removes the sessions of logID that still charge a tracker no longer held by the registry
// and returns how many were removed. Sessions already bound to a newer tracker of the same id are kept,
// and so are sessions whose guard has not resolved a tracker yet: their first charge resolves the
// current one.
func (a *memoryServerAdapter) dropEvicted(logID uint64) int {
	current, _ := a.node.Registry().Get(logID)

	charges := func(s *session) bool {
		t := s.guard.Tracker()
		return s.logID != logID || t == nil || t == current
	}

	dropped := 0
	a.sessions.Range(func(id uint64, s *session) bool {
		if charges(s) {
			return true
		}
		a.sessions.Compute(id, func(old *session, loaded bool) (*session, bool) {
			if loaded && old == s && !charges(old) {
				dropped++
				return nil, true
			}
			return old, !loaded
		})
		return true
	})
	return dropped
}

// Sessions returns the number of open sessions
func (a *memoryServerAdapter) Sessions() int {
	return a.sessions.Size()
}

// Package client implements the RPC client of the memory accounting service.
//
// An Accountant lets execution contexts running in another process charge the trackers of a memory node.
// Each remote execution context picks a session id that is unique per server and uses it for all of its
// calls. Limit breaches are returned as *guard.MemoryLimitExceeded, so remote callers can match them with
// errors.Is(err, guard.ErrMemoryLimitExceeded) like local ones.
//
// Usage Example:
//
//	config := common.ClientConfig{
//		TimeoutSecond: 5,
//		Transport: common.TransportConfig{
//			Endpoints:              []string{"localhost:8080"},
//			RetryCount:             3,
//			ConnectionsPerEndpoint: 1,
//		},
//	}
//
//	acc, _ := client.NewRPCAccountant(common.DefaultChannel, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	defer acc.Close()
//
//	if err := acc.Charge(logID, session, 64<<20); errors.Is(err, guard.ErrMemoryLimitExceeded) {
//		// abort the query
//	}
//	_, _ = acc.Detach(logID, session, true)
//
// Thread Safety:
//
//	The Accountant is safe for concurrent use from multiple goroutines.
package client

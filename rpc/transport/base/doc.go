// Package base provides the socket transport of the memory accounting RPC system independent of the
// network protocol (TCP, Unix sockets). Protocol packages only add connectors.
//
// Frames have the layout:
//
//	channel (8 bytes) | requestID (8 bytes) | length (4 bytes) | payload
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     (dial or listen, and socket options of new connections).
//
//   - clientTransport: Manages multiple connections per endpoint with round-robin selection.
//     Responses are correlated to their requests by requestID, failed requests are retried
//     with exponential backoff. A broken connection fails its pending requests and is
//     reconnected, a closed transport never reconnects.
//
//   - serverTransport: Accepts connections and hands requests to the registered handler. Each
//     connection serves up to WorkersPerConn requests concurrently. Close stops accepting,
//     closes all connections and lets Listen return once in-flight requests are answered.
//
// Performance Optimizations:
//
//   - Buffer Pooling: The server reuses read buffers through a sync.Pool.
//
//   - Frame Batching: Header and payload are written with a single net.Buffers write.
//
// Thread Safety:
//
//	All public methods are thread-safe.
package base

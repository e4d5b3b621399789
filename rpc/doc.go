// Package rpc carries the accounting calls of remote execution contexts to a memory node.
// Only the accounting protocol lives here, the query protocol is handled elsewhere.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures used across the RPC system, including the Message
//     protocol, configuration structures, and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB).
//
//   - client: The Accountant, a client that charges and uncharges memory on a remote node.
//
//   - server: The RPC server exposing a node's registry and reclaim daemon.
package rpc

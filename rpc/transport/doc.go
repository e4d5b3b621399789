// Package transport defines the interfaces for RPC communication of the memory accounting service.
// It provides a common contract that all transport implementations must fulfill, enabling
// protocol-agnostic communication.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to the handler.
//
//   - ServerHandleFunc: Function type for request handling callbacks. Every request carries
//     a channel id, the server answers requests for unknown channels with an error message.
package transport

// Package common provides the data structures shared by the RPC server, the RPC client and the transports
// of the memory accounting service.
//
// Key Components:
//
//   - Message: the single request/response structure of all RPC calls. Which fields are used depends on
//     the MessageType (charge, uncharge, detach, info, allocator, custom, error). Factory functions create
//     well-formed requests and responses.
//
//   - ServerConfig / ClientConfig / TransportConfig: configuration of the server (including the memory
//     node settings), the client and the socket transports.
//
//   - Logger: a dragonboat logger.ILogger implementation with a compact "LEVEL | name | message" format,
//     installed for all named loggers by InitLoggers.
package common

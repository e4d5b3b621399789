// Package unix implements the Unix domain socket transport of the memory accounting
// RPC system. It is meant for accountants running on the same machine as the server.
//
// The package only provides the unix specific connectors, all framing, pooling and
// routing is inherited from the base package.
//
// Key Components:
//
//   - clientConnector: dials the socket path
//
//   - serverConnector: removes a stale socket file and listens on the socket path
//
// The default server buffer size is 64 KB.
package unix

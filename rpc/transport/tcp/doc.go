// Package tcp implements the TCP socket transport of the memory accounting RPC system.
// It provides the tcp specific connectors for the base package, which handles framing,
// connection pooling and request routing.
//
// Key Components:
//
//   - clientConnector: dials the server and applies the socket options of the client config
//
//   - serverConnector: creates the listener and applies the socket options to accepted connections
//
// The default server buffer size is 512 KB.
package tcp

// Package http implements an HTTP based transport for the memory accounting RPC system.
// Each request is a POST to /{channel} carrying the serialized message as body.
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport. Requests are spread round
//     robin over the configured endpoints and retried on the next endpoint on failure.
//
//   - httpServerTransport: Implements IRPCServerTransport on top of an http.Server.
//     Close shuts the server down gracefully and lets Listen return.
//
// Thread Safety:
//
//	The client transport can be used concurrently once Connect returned. Connect and
//	Close must not be called concurrently with Send.
package http

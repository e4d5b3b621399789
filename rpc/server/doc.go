// Package server exposes the memory accounting of a node over the RPC transports.
//
// Remote execution contexts are represented as sessions. A session is created by its first charge and is
// bound to one logical request (log id) for its lifetime. Each session owns a guard, so several sessions
// of the same request share the request's tracker exactly like local execution contexts do.
//
// Supported calls:
//
//   - charge: charges bytes to the session's guard. A limit breach is answered with Ok=false, the error
//     text and the limit and consumption at breach time. The charge is not rolled back.
//   - uncharge: releases bytes of a session. Unknown sessions are ignored.
//   - detach: drops a session, optionally releasing everything it still holds.
//   - info: reports the tracker of a log id.
//   - allocator: reports allocator stats and a bounded stats dump.
//
// If the node's registry publishes evictions, sessions of evicted trackers are dropped in the background.
package server

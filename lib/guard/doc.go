// Package guard binds one query-execution context to the memory tracker of its logical request.
//
// A Guard resolves its tracker lazily on the first charge and keeps the bytes charged by its own context
// (the local total) next to the shared tracker total. The first resolution takes a mutex, every later call
// only does an atomic load.
package guard

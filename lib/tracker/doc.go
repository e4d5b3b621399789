// Package tracker implements the per logical-request memory counter.
//
// A Tracker counts the bytes charged by every execution context working on the same logical request
// against a single byte limit. All operations are lock-free; the counter never drops below zero and
// concurrent updates are never lost.
//
// A limit breach is only reported (see CheckBytesLimit), a Tracker never rejects a charge. Deciding
// what to do about a breach is up to the caller.
package tracker

// Package node composes the memory accounting of one process: the tracker registry with its eviction loop
// and the allocator reclaim daemon, configured from a single Config.
//
// A process creates one Node, starts it once and shuts it down once. Shutdown stops both background loops,
// each within one of its polling intervals.
package node

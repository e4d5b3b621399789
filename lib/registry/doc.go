/*
Package registry maps logical-request ids to their shared memory trackers.

Every execution context working on the same logical request resolves the same *tracker.Tracker from the
registry, so all of them are counted against one limit. The registry creates trackers lazily on first use
and removes trackers that have been idle for longer than the configured threshold.

# Concurrency

The map is an xsync.MapOf: lookups are lock-free, inserts of distinct ids proceed in parallel and
concurrent GetOrCreate calls for the same id always return the same instance.

# Eviction

A background loop (Start / Shutdown) runs an eviction cycle every EvictionInterval. A cycle has two phases:

 1. scan: collect all trackers whose idle time exceeds IdleThreshold
 2. recheck: for every candidate, atomically (inside the map's Compute for that id) verify that the entry
    is still the same instance and still idle, and only then delete it

A tracker that becomes active between the two phases is therefore never evicted. Eviction only removes the
mapping, handles that were resolved before stay valid.
*/
package registry

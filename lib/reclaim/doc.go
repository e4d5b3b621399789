/*
Package reclaim returns memory the process no longer uses back to the operating system.

The Daemon periodically polls an Allocator for the bytes in use and the bytes retained but unused. When the
process holds more than MinMemoryUseSize in total and more than MinMemoryFreeSizeToRelease of it is unused,
the excess above MinMemoryFreeSizeToRelease is released in ReleaseChunkSize pieces. A remainder smaller than
one chunk is left for a later cycle, which bounds the work done by a single cycle. On a longer interval the
daemon also logs the allocator's statistics dump, split into lines of at most StatsChunkSize bytes.

Reclamation is a best-effort mitigation of memory pressure. Without an allocator (nil) the daemon does no
work at all. Build with `-tags noreclaim` to make DefaultAllocator return nil.

Available allocators:
  - RuntimeAllocator: the Go runtime heap (runtime/metrics + debug.FreeOSMemory)
  - NopAllocator: reports nothing and releases nothing
*/
package reclaim

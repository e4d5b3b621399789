package reclaim

// AllocatorStats are the numeric allocator properties the daemon needs. Both values are approximate.
type AllocatorStats struct {
	UsedBytes uint64 `json:"used_bytes"` // bytes in active use
	FreeBytes uint64 `json:"free_bytes"` // bytes held by the allocator but unused, eligible for release
}

// Allocated returns used + free
func (s AllocatorStats) Allocated() uint64 {
	return s.UsedBytes + s.FreeBytes
}

// Allocator is the memory allocator the daemon reclaims memory from
type Allocator interface {
	// Name identifies the allocator in logs
	Name() string

	// Stats returns the current used and free bytes
	Stats() (AllocatorStats, error)

	// DumpStats returns a diagnostic text of at most maxLen bytes
	DumpStats(maxLen int) string

	// ReleaseToSystem asks the allocator to return bytes of unused memory to the OS (best effort)
	ReleaseToSystem(bytes uint64)
}

// NopAllocator reports zero usage and never releases anything
type NopAllocator struct{}

func (NopAllocator) Name() string                   { return "nop" }
func (NopAllocator) Stats() (AllocatorStats, error) { return AllocatorStats{}, nil }
func (NopAllocator) DumpStats(int) string           { return "" }
func (NopAllocator) ReleaseToSystem(uint64)         {}

// truncate cuts s to at most maxLen bytes (maxLen <= 0 means no limit)
func truncate(s string, maxLen int) string {
	if maxLen > 0 && len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}

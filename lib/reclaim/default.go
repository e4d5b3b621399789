//go:build !noreclaim

package reclaim

// DefaultAllocator returns the allocator of this build: the Go runtime heap
func DefaultAllocator() Allocator {
	return NewRuntimeAllocator(DefaultMinReleaseGap)
}

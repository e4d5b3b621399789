//go:build noreclaim

package reclaim

// DefaultAllocator returns nil, reclamation is compiled out of this build
func DefaultAllocator() Allocator {
	return nil
}

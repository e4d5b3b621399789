//go:build !noreclaim

package reclaim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAllocatorAvailable(t *testing.T) {
	alloc := DefaultAllocator()
	if assert.NotNil(t, alloc) {
		assert.Equal(t, "go-runtime", alloc.Name())
	}
}

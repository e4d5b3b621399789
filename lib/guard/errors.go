package guard

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// ErrMemoryLimitExceeded is matched by every *MemoryLimitExceeded via errors.Is
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// MemoryLimitExceeded is returned by Charge when the shared tracker of the logical request is over its
// limit after the charge. The charge itself is not rolled back.
type MemoryLimitExceeded struct {
	LogID    uint64 // logical request the tracker belongs to
	Limit    int64  // limit of the tracker
	Consumed int64  // bytes consumed by all contexts of the request at breach time
	Local    int64  // bytes charged by the reporting context
}

func (e *MemoryLimitExceeded) Error() string {
	return fmt.Sprintf("memory limit exceeded for log_id:%d: limit %s, consumed %s, used by this context %s",
		e.LogID, formatBytes(e.Limit), formatBytes(e.Consumed), formatBytes(e.Local))
}

// Is makes errors.Is(err, ErrMemoryLimitExceeded) work for wrapped breaches
func (e *MemoryLimitExceeded) Is(target error) bool {
	return target == ErrMemoryLimitExceeded
}

func formatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

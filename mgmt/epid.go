package mgmt

import (
	"sync"

	"github.com/ettus-go/rfnoc-chdr/chdrerr"
)

// EPID reserved values: 0 is unassigned, 0xFFFF is reserved (broadcast-like
// sentinel), matching section 3's EPID field description.
const (
	EPIDUnassigned uint16 = 0x0000
	epidMax        uint16 = 0xFFFF
)

// EPIDAllocator hands out sequential 16-bit endpoint IDs from a configured
// base. It is global per session and never recycles a released ID, so a
// released stream's EPID can never reappear within the same session —
// only a fresh allocator (new session) resets the counter.
type EPIDAllocator struct {
	mu   sync.Mutex
	next uint32
}

// NewEPIDAllocator constructs an allocator starting at base. base must not
// be 0 or 0xFFFF.
func NewEPIDAllocator(base uint16) (*EPIDAllocator, error) {
	if base == EPIDUnassigned || base == epidMax {
		return nil, chdrerr.New(chdrerr.Config, "MGMT_BAD_EPID_BASE", "EPID base cannot be a reserved value")
	}
	return &EPIDAllocator{next: uint32(base)}, nil
}

// Allocate returns the next EPID, skipping the reserved values. Exhaustion
// of the 16-bit space surfaces as a resource error.
func (a *EPIDAllocator) Allocate() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.next <= uint32(epidMax) {
		candidate := uint16(a.next)
		a.next++
		if candidate == EPIDUnassigned || candidate == epidMax {
			continue
		}
		return candidate, nil
	}
	return 0, chdrerr.New(chdrerr.Resource, "MGMT_EPID_EXHAUSTED", "no EPIDs remain in the 16-bit space")
}

package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/ettus-go/rfnoc-chdr/chdrerr"
)

// Pool is a fixed-capacity collection of equally sized buffers. The hot
// path (Acquire) never allocates; all buffers are preallocated at
// construction, mirroring a DMA-suitable (huge-page backed, in a real
// driver) allocation discipline. The free list is a buffered channel: a
// single Pool is meant to back one link, so it behaves as an SPSC/MPSC-safe
// free list without extra locking.
type Pool struct {
	log  *zap.Logger
	free chan *FrameBuffer
	size int
}

// NewPool allocates size buffers, each bufSize bytes with headerOffset
// reserved bytes at the front (for links that prepend an L2/L3/L4 header
// in-place).
func NewPool(size, bufSize, headerOffset int, log *zap.Logger) (*Pool, error) {
	if size <= 0 || bufSize <= 0 || headerOffset < 0 || headerOffset >= bufSize {
		return nil, chdrerr.New(chdrerr.Config, "POOL_BAD_PARAMS", "invalid frame buffer pool dimensions")
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{log: log.With(zap.String("component", "frame_pool")), size: size}
	p.free = make(chan *FrameBuffer, size)
	for i := 0; i < size; i++ {
		p.free <- &FrameBuffer{data: make([]byte, bufSize), headerOffset: headerOffset}
	}
	return p, nil
}

// Size is the pool's total buffer count.
func (p *Pool) Size() int { return p.size }

// Free returns the number of buffers currently available to acquire.
func (p *Pool) Free() int { return len(p.free) }

// Acquire returns an available buffer without blocking. It fails with
// chdrerr.CodePoolEmpty when none is available, matching the hot-path
// contract in section 4.1: acquisition failures are sentinel returns, not
// propagated faults.
func (p *Pool) Acquire() (*FrameBuffer, error) {
	select {
	case b := <-p.free:
		return b, nil
	default:
		return nil, chdrerr.New(chdrerr.Resource, chdrerr.CodePoolEmpty, "frame buffer pool exhausted")
	}
}

// AcquireWait is Acquire generalized with the section 5 timeout contract:
// timeout < 0 waits indefinitely, timeout == 0 tries once (equivalent to
// Acquire), timeout > 0 waits up to that duration.
func (p *Pool) AcquireWait(timeout time.Duration) (*FrameBuffer, error) {
	if timeout == 0 {
		return p.Acquire()
	}
	if timeout < 0 {
		b := <-p.free
		return b, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b := <-p.free:
		return b, nil
	case <-timer.C:
		return nil, chdrerr.New(chdrerr.Resource, chdrerr.CodePoolEmpty, "frame buffer pool exhausted before timeout")
	}
}

// Release returns ownership of b to the pool, clearing any prior packet
// metadata so a future Acquire never observes stale content.
func (p *Pool) Release(b *FrameBuffer) error {
	if b == nil {
		return chdrerr.New(chdrerr.Config, "POOL_NIL_BUFFER", "cannot release a nil buffer")
	}
	b.reset()
	select {
	case p.free <- b:
		return nil
	default:
		// A release beyond the pool's original size indicates a buffer
		// that didn't belong to this pool (a double release or foreign
		// buffer); surfaced as a resource error rather than silently
		// dropped or panicking.
		return chdrerr.New(chdrerr.Resource, "POOL_OVERRELEASE", "released more buffers than the pool holds")
	}
}

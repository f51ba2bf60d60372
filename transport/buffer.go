// Package transport implements the frame-buffer pool (C1) and the Link
// capability set (C2): the fixed-size, DMA-suitable buffers and the
// send/recv primitives that carry raw framed bytes over one physical
// transport. Higher layers (ioservice, ctrl, mgmt, xport) never allocate
// per-packet memory on the hot path; they only acquire and release buffers
// from a Pool.
package transport

import "github.com/ettus-go/rfnoc-chdr/chdrerr"

// FrameBuffer is a borrowed handle to one region of a Pool. Exactly one
// owner holds it at a time; ownership moves pool -> consumer/producer ->
// link -> pool.
type FrameBuffer struct {
	data         []byte
	headerOffset int
	packetSize   int
}

// Data returns the active region: header offset through header+packetSize.
// Callers read the CHDR frame here; it is empty until SetPacketSize, so a
// producer writes into Data()[:cap(Data())] and then calls SetPacketSize.
func (b *FrameBuffer) Data() []byte {
	return b.data[b.headerOffset : b.headerOffset+b.packetSize]
}

// Raw returns the full underlying buffer, including any reserved header
// offset a link prepends (e.g. Ethernet/IP/UDP encapsulation on the DMA
// fast path).
func (b *FrameBuffer) Raw() []byte { return b.data }

// Capacity is the total usable size of the buffer from HeaderOffset to the
// end, i.e. the maximum packetSize this buffer can hold.
func (b *FrameBuffer) Capacity() int { return len(b.data) - b.headerOffset }

// HeaderOffset is the byte offset within the underlying allocation where
// the CHDR frame begins (non-zero on links that prepend an L2/L3/L4 header
// in-place, such as the DPDK fast path).
func (b *FrameBuffer) HeaderOffset() int { return b.headerOffset }

// PacketSize is the size in bytes of the currently valid frame in Data().
func (b *FrameBuffer) PacketSize() int { return b.packetSize }

// SetPacketSize records how many bytes of Data() are valid. It is used by a
// link's receive path (to report how much was actually read) and by a
// producer before a send.
func (b *FrameBuffer) SetPacketSize(n int) error {
	if n < 0 || n > b.Capacity() {
		return chdrerr.New(chdrerr.Config, "BUFFER_SIZE", "packet size out of range for buffer capacity")
	}
	b.packetSize = n
	return nil
}

func (b *FrameBuffer) reset() {
	for i := range b.data {
		b.data[i] = 0
	}
	b.packetSize = 0
}

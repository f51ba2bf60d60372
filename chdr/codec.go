package chdr

import (
	"encoding/binary"

	"github.com/ettus-go/rfnoc-chdr/chdrerr"
)

// Codec encodes and decodes CHDR packets for a fixed (width, endianness)
// pair. It is stateless, so a single instance may be shared across an
// arbitrary number of packets and goroutines, as long as every packet
// belongs to the same link (cross-width packets must never mix on one
// link, per the width-parameterization design note).
type Codec struct {
	W Width
	E Endianness
}

// NewCodec validates w and returns a ready-to-use Codec.
func NewCodec(w Width, e Endianness) (Codec, error) {
	if !w.Valid() {
		return Codec{}, chdrerr.New(chdrerr.Config, "CHDR_BAD_WIDTH", "unsupported CHDR width")
	}
	return Codec{W: w, E: e}, nil
}

func (c Codec) order() binary.ByteOrder {
	if c.E == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// HeaderSize is W/8 bytes, the size of the CHDR header word.
func (c Codec) HeaderSize() int { return c.W.Bytes() }

// DecodeHeader reads the header word from the front of buf, applying the
// link's byte order, and validates its invariants against len(buf).
func (c Codec) DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < c.HeaderSize() {
		return Header{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodeBadLength,
			"buffer shorter than one CHDR header word")
	}
	val := c.order().Uint64(buf[:8])
	h := DecodeHeader(val)
	if err := h.Validate(c.W); err != nil {
		return Header{}, err
	}
	if int(h.Length) > len(buf) {
		return Header{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodeBadLength,
			"declared length exceeds received frame size")
	}
	return h, nil
}

// EncodeHeader writes h into the front of buf using the link's byte order.
// buf must be at least HeaderSize() bytes.
func (c Codec) EncodeHeader(h Header, buf []byte) error {
	if len(buf) < c.HeaderSize() {
		return chdrerr.New(chdrerr.Config, chdrerr.CodeBadLength, "buffer too small for header")
	}
	c.order().PutUint64(buf[:8], h.Encode())
	return nil
}

// DecodeTimestamp reads the 64-bit timestamp word that immediately follows
// the header on DATA_WITH_TS packets.
func (c Codec) DecodeTimestamp(buf []byte) (uint64, error) {
	hs := c.HeaderSize()
	if len(buf) < hs+8 {
		return 0, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated,
			"buffer too short for timestamp word")
	}
	return c.order().Uint64(buf[hs : hs+8]), nil
}

// EncodeTimestamp writes ts into the word immediately following the header.
func (c Codec) EncodeTimestamp(ts uint64, buf []byte) error {
	hs := c.HeaderSize()
	if len(buf) < hs+8 {
		return chdrerr.New(chdrerr.Config, chdrerr.CodeBadLength, "buffer too short for timestamp word")
	}
	c.order().PutUint64(buf[hs:hs+8], ts)
	return nil
}

// PayloadOffset computes the payload start offset from the header alone,
// without parsing the payload (enables zero-copy bridging of packets whose
// payload need not be inspected).
func (c Codec) PayloadOffset(h Header) int { return h.PayloadOffset(c.W) }

// MetadataOffset computes the metadata start offset from the header alone.
func (c Codec) MetadataOffset(h Header) int { return h.MetadataOffset(c.W) }

// Payload returns the payload sub-slice of buf given a decoded header,
// validated against Length. Returns CHDR_PAYLOAD_TRUNCATED if the declared
// length does not leave room for the payload offset computed from the
// header (e.g. a corrupted NumMData).
func (c Codec) Payload(h Header, buf []byte) ([]byte, error) {
	off := c.PayloadOffset(h)
	if off > int(h.Length) {
		return nil, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated,
			"payload offset runs past declared packet length")
	}
	if off > len(buf) {
		return nil, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated,
			"payload offset runs past buffer")
	}
	end := int(h.Length)
	if end > len(buf) {
		end = len(buf)
	}
	return buf[off:end], nil
}

// Metadata returns the metadata sub-slice of buf given a decoded header.
func (c Codec) Metadata(h Header, buf []byte) ([]byte, error) {
	off := c.MetadataOffset(h)
	end := off + int(h.NumMData)*c.W.Bytes()
	if end > len(buf) {
		return nil, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated,
			"metadata runs past buffer")
	}
	return buf[off:end], nil
}

// read64/write64/read32/write32 expose the codec's byte order to payload
// encoders without each of them re-deriving binary.ByteOrder.
func (c Codec) read64(b []byte) uint64     { return c.order().Uint64(b) }
func (c Codec) write64(b []byte, v uint64) { c.order().PutUint64(b, v) }
func (c Codec) read32(b []byte) uint32     { return c.order().Uint32(b) }
func (c Codec) write32(b []byte, v uint32) { c.order().PutUint32(b, v) }
func (c Codec) read16(b []byte) uint16     { return c.order().Uint16(b) }
func (c Codec) write16(b []byte, v uint16) { c.order().PutUint16(b, v) }

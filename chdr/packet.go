package chdr

import "github.com/ettus-go/rfnoc-chdr/chdrerr"

// Packet is a fully decoded CHDR packet: header, optional timestamp, raw
// metadata words, and raw payload bytes. Higher layers (control, flow
// control, management) interpret Payload against their own payload schema.
type Packet struct {
	Header    Header
	Timestamp uint64 // valid iff Header.HasTimestamp()
	Metadata  []byte
	Payload   []byte
}

// Encode serializes p into a newly laid out buffer sized to p.Header.Length.
// It recomputes Length from the actual metadata/payload sizes rather than
// trusting a stale Header.Length, then writes that corrected length.
func (c Codec) Encode(p Packet) ([]byte, error) {
	h := p.Header
	h.NumMData = uint8(len(p.Metadata) / c.W.Bytes())
	if len(p.Metadata)%c.W.Bytes() != 0 {
		return nil, chdrerr.New(chdrerr.Config, "CHDR_BAD_MDATA", "metadata length is not a multiple of the CHDR word size")
	}
	payloadOff := h.PayloadOffset(c.W)
	total := payloadOff + len(p.Payload)
	// round total up to a multiple of the word size, per the Length invariant
	wb := c.W.Bytes()
	if rem := total % wb; rem != 0 {
		total += wb - rem
	}
	h.Length = uint16(total)

	buf := make([]byte, total)
	if err := c.EncodeHeader(h, buf); err != nil {
		return nil, err
	}
	if h.HasTimestamp() {
		if err := c.EncodeTimestamp(p.Timestamp, buf); err != nil {
			return nil, err
		}
	}
	mdOff := h.MetadataOffset(c.W)
	copy(buf[mdOff:mdOff+len(p.Metadata)], p.Metadata)
	copy(buf[payloadOff:payloadOff+len(p.Payload)], p.Payload)
	return buf, nil
}

// Decode parses a Packet out of a raw received frame.
func (c Codec) Decode(buf []byte) (Packet, error) {
	h, err := c.DecodeHeader(buf)
	if err != nil {
		return Packet{}, err
	}
	p := Packet{Header: h}
	if h.HasTimestamp() {
		ts, err := c.DecodeTimestamp(buf)
		if err != nil {
			return Packet{}, err
		}
		p.Timestamp = ts
	}
	md, err := c.Metadata(h, buf)
	if err != nil {
		return Packet{}, err
	}
	p.Metadata = append([]byte(nil), md...)
	payload, err := c.Payload(h, buf)
	if err != nil {
		return Packet{}, err
	}
	p.Payload = append([]byte(nil), payload...)
	return p, nil
}

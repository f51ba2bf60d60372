package chdr

import "github.com/ettus-go/rfnoc-chdr/chdrerr"

// ControlStatus is the 2-bit status field of a control response.
type ControlStatus uint8

const (
	ControlStatusOK ControlStatus = iota
	ControlStatusCmdErr
	ControlStatusTSErr
	ControlStatusWarning
)

// ControlOp is the 4-bit operation field of a control packet.
type ControlOp uint8

const (
	ControlOpSleep ControlOp = iota
	ControlOpWrite
	ControlOpRead
	ControlOpReadWrite
)

// ControlPayload is the CHDR control packet payload (peek/poke register
// transactions). Request and response share this schema; a response is
// distinguished by IsAck.
//
// Wire layout (word 0): DstPort[9:0] SrcPort[19:10] NumData[23:20] Seq[29:24]
// HasTime[30] IsAck[31] SrcEPID[47:32]. Word 1 (optional): Timestamp.
// Word 2: Address[19:0] ByteEnable[23:20] Op[27:24] Status[29:28]. Followed
// by NumData+1 32-bit data words.
type ControlPayload struct {
	DstPort   uint16 // 10 bits
	SrcPort   uint16 // 10 bits
	Seq       uint8  // 6 bits
	HasTime   bool
	IsAck     bool
	SrcEPID   uint16
	Timestamp uint64

	Address    uint32 // 20 bits
	ByteEnable uint8  // 4 bits
	Op         ControlOp
	Status     ControlStatus
	Data       []uint32
}

const (
	ctrlShiftDstPort = 0
	ctrlShiftSrcPort = 10
	ctrlShiftNumData = 20
	ctrlShiftSeq     = 24
	ctrlShiftHasTime = 30
	ctrlShiftIsAck   = 31
	ctrlShiftSrcEPID = 32

	ctrlMaskPort    = 0x3FF
	ctrlMaskNumData = 0xF
	ctrlMaskSeq     = 0x3F

	ctrl2ShiftAddress = 0
	ctrl2ShiftByteEn  = 20
	ctrl2ShiftOp      = 24
	ctrl2ShiftStatus  = 28

	ctrl2MaskAddress = 0xFFFFF
	ctrl2MaskByteEn  = 0xF
	ctrl2MaskOp      = 0xF
	ctrl2MaskStatus  = 0x3
)

// EncodedSize returns the number of bytes this payload occupies on the wire.
func (p ControlPayload) EncodedSize() int {
	size := 8 // control header word
	if p.HasTime {
		size += 8
	}
	size += 8 // address/op word
	size += 4 * len(p.Data)
	return size
}

// Encode writes the control payload into buf using codec c's byte order.
func (p ControlPayload) Encode(c Codec, buf []byte) (int, error) {
	need := p.EncodedSize()
	if len(buf) < need {
		return 0, chdrerr.New(chdrerr.Config, chdrerr.CodeBadLength, "buffer too small for control payload")
	}
	numData := len(p.Data)
	if numData == 0 || numData > 16 {
		return 0, chdrerr.New(chdrerr.Config, "CTRL_BAD_NUM_DATA", "control payload must carry 1-16 data words")
	}

	var w0 uint64
	w0 |= uint64(p.DstPort&ctrlMaskPort) << ctrlShiftDstPort
	w0 |= uint64(p.SrcPort&ctrlMaskPort) << ctrlShiftSrcPort
	w0 |= uint64(uint8(numData-1)&ctrlMaskNumData) << ctrlShiftNumData
	w0 |= uint64(p.Seq&ctrlMaskSeq) << ctrlShiftSeq
	if p.HasTime {
		w0 |= 1 << ctrlShiftHasTime
	}
	if p.IsAck {
		w0 |= 1 << ctrlShiftIsAck
	}
	w0 |= uint64(p.SrcEPID) << ctrlShiftSrcEPID
	c.write64(buf[0:8], w0)

	off := 8
	if p.HasTime {
		c.write64(buf[off:off+8], p.Timestamp)
		off += 8
	}

	var w2 uint64
	w2 |= uint64(p.Address&ctrl2MaskAddress) << ctrl2ShiftAddress
	w2 |= uint64(p.ByteEnable&ctrl2MaskByteEn) << ctrl2ShiftByteEn
	w2 |= uint64(uint8(p.Op)&ctrl2MaskOp) << ctrl2ShiftOp
	w2 |= uint64(uint8(p.Status)&ctrl2MaskStatus) << ctrl2ShiftStatus
	c.write64(buf[off:off+8], w2)
	off += 8

	for _, d := range p.Data {
		c.write32(buf[off:off+4], d)
		off += 4
	}
	return off, nil
}

// DecodeControlPayload parses a control payload from buf.
func DecodeControlPayload(c Codec, buf []byte) (ControlPayload, error) {
	if len(buf) < 16 {
		return ControlPayload{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated,
			"control payload shorter than fixed header")
	}
	w0 := c.read64(buf[0:8])
	p := ControlPayload{
		DstPort: uint16((w0 >> ctrlShiftDstPort) & ctrlMaskPort),
		SrcPort: uint16((w0 >> ctrlShiftSrcPort) & ctrlMaskPort),
		Seq:     uint8((w0 >> ctrlShiftSeq) & ctrlMaskSeq),
		HasTime: (w0>>ctrlShiftHasTime)&0x1 != 0,
		IsAck:   (w0>>ctrlShiftIsAck)&0x1 != 0,
		SrcEPID: uint16(w0 >> ctrlShiftSrcEPID),
	}
	numData := int((w0>>ctrlShiftNumData)&ctrlMaskNumData) + 1

	off := 8
	if p.HasTime {
		if len(buf) < off+8 {
			return ControlPayload{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated, "truncated control timestamp")
		}
		p.Timestamp = c.read64(buf[off : off+8])
		off += 8
	}
	if len(buf) < off+8 {
		return ControlPayload{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated, "truncated control address word")
	}
	w2 := c.read64(buf[off : off+8])
	p.Address = uint32((w2 >> ctrl2ShiftAddress) & ctrl2MaskAddress)
	p.ByteEnable = uint8((w2 >> ctrl2ShiftByteEn) & ctrl2MaskByteEn)
	p.Op = ControlOp((w2 >> ctrl2ShiftOp) & ctrl2MaskOp)
	p.Status = ControlStatus((w2 >> ctrl2ShiftStatus) & ctrl2MaskStatus)
	off += 8

	if len(buf) < off+4*numData {
		return ControlPayload{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated, "truncated control data words")
	}
	p.Data = make([]uint32, numData)
	for i := 0; i < numData; i++ {
		p.Data[i] = c.read32(buf[off : off+4])
		off += 4
	}
	return p, nil
}

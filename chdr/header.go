package chdr

import "github.com/ettus-go/rfnoc-chdr/chdrerr"

// PacketType is the 3-bit PktType field of a CHDR header.
type PacketType uint8

const (
	PacketTypeManagement   PacketType = 0x0
	PacketTypeStreamStatus PacketType = 0x1
	PacketTypeStreamCmd    PacketType = 0x2
	packetTypeReserved0    PacketType = 0x3
	PacketTypeControl      PacketType = 0x4
	packetTypeReserved1    PacketType = 0x5
	PacketTypeDataNoTS     PacketType = 0x6
	PacketTypeDataWithTS   PacketType = 0x7
)

// IsReserved reports whether pt is one of the packet type codes the format
// reserves for future use; such packets must be rejected by the codec.
func (pt PacketType) IsReserved() bool {
	return pt == packetTypeReserved0 || pt == packetTypeReserved1
}

func (pt PacketType) String() string {
	switch pt {
	case PacketTypeManagement:
		return "MANAGEMENT"
	case PacketTypeStreamStatus:
		return "STREAM_STATUS"
	case PacketTypeStreamCmd:
		return "STREAM_CMD"
	case PacketTypeControl:
		return "CONTROL"
	case PacketTypeDataNoTS:
		return "DATA_NO_TS"
	case PacketTypeDataWithTS:
		return "DATA_WITH_TS"
	default:
		return "RESERVED"
	}
}

// Header is the 64-bit CHDR header, decoded into host-native fields. Bit
// layout on the wire (LSB first): DstEPID[15:0] Length[31:16] SeqNum[47:32]
// NumMData[52:48] PktType[55:53] EOV[56] EOB[57] VC[63:58].
type Header struct {
	VC       uint8 // 6 bits
	EOB      bool  // end-of-burst marker on data packets
	EOV      bool  // end-of-vector
	PktType  PacketType
	NumMData uint8 // 5 bits: metadata words, each W/8 bytes
	SeqNum   uint16
	Length   uint16 // total packet length in bytes
	DstEPID  uint16
}

const (
	shiftDstEPID  = 0
	shiftLength   = 16
	shiftSeqNum   = 32
	shiftNumMData = 48
	shiftPktType  = 53
	shiftEOV      = 56
	shiftEOB      = 57
	shiftVC       = 58

	maskDstEPID  = 0xFFFF
	maskLength   = 0xFFFF
	maskSeqNum   = 0xFFFF
	maskNumMData = 0x1F
	maskPktType  = 0x7
	maskVC       = 0x3F
)

// DecodeHeader parses the 64-bit header value. val must already be in host
// byte order (the codec performs the endianness swap before calling this).
func DecodeHeader(val uint64) Header {
	return Header{
		DstEPID:  uint16((val >> shiftDstEPID) & maskDstEPID),
		Length:   uint16((val >> shiftLength) & maskLength),
		SeqNum:   uint16((val >> shiftSeqNum) & maskSeqNum),
		NumMData: uint8((val >> shiftNumMData) & maskNumMData),
		PktType:  PacketType((val >> shiftPktType) & maskPktType),
		EOV:      (val>>shiftEOV)&0x1 != 0,
		EOB:      (val>>shiftEOB)&0x1 != 0,
		VC:       uint8((val >> shiftVC) & maskVC),
	}
}

// Encode packs the header back into its 64-bit wire value (host byte order;
// the codec swaps before writing to a buffer).
func (h Header) Encode() uint64 {
	var val uint64
	val |= uint64(h.DstEPID&maskDstEPID) << shiftDstEPID
	val |= uint64(h.Length&maskLength) << shiftLength
	val |= uint64(h.SeqNum&maskSeqNum) << shiftSeqNum
	val |= uint64(h.NumMData&maskNumMData) << shiftNumMData
	val |= uint64(uint8(h.PktType)&maskPktType) << shiftPktType
	if h.EOV {
		val |= 1 << shiftEOV
	}
	if h.EOB {
		val |= 1 << shiftEOB
	}
	val |= uint64(h.VC&maskVC) << shiftVC
	return val
}

// HasTimestamp reports whether this header's packet type carries a 64-bit
// timestamp word immediately after the header.
func (h Header) HasTimestamp() bool {
	return h.PktType == PacketTypeDataWithTS
}

// MetadataOffset returns the byte offset of the first metadata word, given
// this header and the CHDR width. It is a pure function of the header,
// which is what lets a bridge inspect or forward a packet without ever
// parsing its payload.
func (h Header) MetadataOffset(w Width) int {
	off := w.Bytes()
	if h.HasTimestamp() {
		off += 8 // the timestamp word is always exactly 8 bytes, W>=64
	}
	return off
}

// PayloadOffset returns the byte offset of the first payload byte.
func (h Header) PayloadOffset(w Width) int {
	return h.MetadataOffset(w) + int(h.NumMData)*w.Bytes()
}

// Validate enforces the header invariants from the wire-format spec: Length
// is a multiple of W/8, and the declared metadata plus header (plus
// timestamp, if present) does not exceed Length.
func (h Header) Validate(w Width) error {
	wb := w.Bytes()
	if int(h.Length)%wb != 0 {
		return chdrerr.New(chdrerr.Protocol, chdrerr.CodeBadLength,
			"packet length is not a multiple of the CHDR word size")
	}
	if h.PktType.IsReserved() {
		return chdrerr.New(chdrerr.Protocol, chdrerr.CodeBadPktType,
			"reserved packet type code")
	}
	minLen := h.PayloadOffset(w)
	if int(h.Length) < minLen {
		return chdrerr.New(chdrerr.Protocol, chdrerr.CodeBadLength,
			"declared length too small for header, timestamp, and metadata")
	}
	return nil
}

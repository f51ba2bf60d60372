package chdr

import "github.com/ettus-go/rfnoc-chdr/chdrerr"

// ManagementOpCode identifies a single operation within a management hop.
// The set beyond RETURN may be extended per device family: an unknown op
// code is treated as NOP when it appears in a non-terminal hop, and as a
// PROTOCOL error when the host itself is the terminal hop (section 9 open
// question resolution).
type ManagementOpCode uint8

const (
	ManagementOpNop ManagementOpCode = iota
	ManagementOpAdvertise
	ManagementOpSelDest
	ManagementOpReturn
	ManagementOpInfoReq
	ManagementOpInfoResp
	ManagementOpCfgRdReq
	ManagementOpCfgRdResp
	ManagementOpCfgWrReq
)

func (op ManagementOpCode) known() bool {
	return op <= ManagementOpCfgWrReq
}

// ManagementOp is one 64-bit op word: OpCode[7:0] OpPayload[55:8]
// OpsPending[63:56].
type ManagementOp struct {
	OpCode     ManagementOpCode
	OpPayload  uint64 // 48 bits
	OpsPending uint8
}

func (op ManagementOp) encode() uint64 {
	return uint64(op.OpCode) | (op.OpPayload&0xFFFFFFFFFFFF)<<8 | uint64(op.OpsPending)<<56
}

func decodeManagementOp(val uint64) ManagementOp {
	return ManagementOp{
		OpCode:     ManagementOpCode(val & 0xFF),
		OpPayload:  (val >> 8) & 0xFFFFFFFFFFFF,
		OpsPending: uint8(val >> 56),
	}
}

// ManagementHop is a word-count header followed by that many op words.
type ManagementHop struct {
	Ops []ManagementOp
}

// ManagementPayload is a management transaction: a protocol header word
// followed by an ordered sequence of hops. The originating payload is sent
// toward a destination; each hop along the path consumes its own ops.
type ManagementPayload struct {
	ProtoVer  uint16
	ChdrWidth Width
	Hops      []ManagementHop
}

const managementProtoVerCurrent = 0x0100

// NewManagementPayload starts a fresh transaction for the given CHDR width.
func NewManagementPayload(w Width) ManagementPayload {
	return ManagementPayload{ProtoVer: managementProtoVerCurrent, ChdrWidth: w}
}

func (p ManagementPayload) EncodedSize() int {
	size := 8 // protocol header word
	for _, hop := range p.Hops {
		size += 8 // hop word-count word
		size += 8 * len(hop.Ops)
	}
	return size
}

// Encode writes the management payload into buf using codec c's byte order.
func (p ManagementPayload) Encode(c Codec, buf []byte) (int, error) {
	need := p.EncodedSize()
	if len(buf) < need {
		return 0, chdrerr.New(chdrerr.Config, chdrerr.CodeBadLength, "buffer too small for management payload")
	}
	protoHdr := uint64(p.ProtoVer) | uint64(p.ChdrWidth)<<16
	c.write64(buf[0:8], protoHdr)
	off := 8
	for _, hop := range p.Hops {
		c.write64(buf[off:off+8], uint64(len(hop.Ops)))
		off += 8
		for _, op := range hop.Ops {
			c.write64(buf[off:off+8], op.encode())
			off += 8
		}
	}
	return off, nil
}

// DecodeManagementPayload parses a management payload out of buf. numBytes
// bounds how much of buf belongs to this payload (the packet's payload
// length, derived from the CHDR header by the caller).
func DecodeManagementPayload(c Codec, buf []byte, numBytes int) (ManagementPayload, error) {
	if numBytes < 8 || len(buf) < 8 {
		return ManagementPayload{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated,
			"management payload shorter than protocol header")
	}
	protoHdr := c.read64(buf[0:8])
	p := ManagementPayload{
		ProtoVer:  uint16(protoHdr),
		ChdrWidth: Width(uint16(protoHdr >> 16)),
	}
	off := 8
	for off < numBytes {
		if off+8 > len(buf) {
			return ManagementPayload{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated,
				"truncated management hop count")
		}
		count := int(c.read64(buf[off : off+8]))
		off += 8
		hop := ManagementHop{Ops: make([]ManagementOp, 0, count)}
		for i := 0; i < count; i++ {
			if off+8 > len(buf) {
				return ManagementPayload{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated,
					"truncated management op word")
			}
			hop.Ops = append(hop.Ops, decodeManagementOp(c.read64(buf[off:off+8])))
			off += 8
		}
		p.Hops = append(p.Hops, hop)
	}
	return p, nil
}

// ExecuteHop runs the ops of hop in order, stopping at the first RETURN;
// each op's OpsPending field is not consulted. It returns the
// response ops appended by the executor (for INFO_REQ/CFG_RD_REQ) and
// whether a RETURN was encountered. The caller (management portal or a
// crossbar's op executor) supplies responder to answer INFO_REQ/CFG_RD_REQ;
// unknown op codes are treated as NOP unless isTerminalHop is true, in
// which case they are a PROTOCOL error.
type OpResponder func(op ManagementOp) (respPayload uint64, ok bool)

func ExecuteHop(hop ManagementHop, isTerminalHop bool, responder OpResponder) (respOps []ManagementOp, returned bool, err error) {
	for _, op := range hop.Ops {
		switch op.OpCode {
		case ManagementOpNop:
			// no-op
		case ManagementOpReturn:
			returned = true
			return respOps, returned, nil
		case ManagementOpAdvertise, ManagementOpSelDest, ManagementOpCfgWrReq:
			// handled by the caller's topology/routing logic; nothing to
			// append to the response here.
		case ManagementOpInfoReq, ManagementOpCfgRdReq:
			if responder == nil {
				return respOps, returned, chdrerr.New(chdrerr.Protocol, "MGMT_NO_RESPONDER",
					"no responder registered for info/config read request")
			}
			payload, ok := responder(op)
			if !ok {
				return respOps, returned, chdrerr.New(chdrerr.Protocol, "MGMT_RESP_FAILED",
					"responder could not answer management request")
			}
			respCode := ManagementOpInfoResp
			if op.OpCode == ManagementOpCfgRdReq {
				respCode = ManagementOpCfgRdResp
			}
			respOps = append(respOps, ManagementOp{OpCode: respCode, OpPayload: payload})
		default:
			if !op.OpCode.known() {
				if isTerminalHop {
					return respOps, returned, chdrerr.New(chdrerr.Protocol, chdrerr.CodeBadPktType,
						"unknown management op code targeted at terminal hop")
				}
				// non-terminal hop: treat unknown op as NOP
			}
		}
	}
	return respOps, returned, nil
}

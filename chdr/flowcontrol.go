package chdr

import "github.com/ettus-go/rfnoc-chdr/chdrerr"

// StreamStatusCode is the device-reported status carried in a stream_status
// payload.
type StreamStatusCode uint8

const (
	StreamStatusOK StreamStatusCode = iota
	StreamStatusCmdErr
	StreamStatusSeqErr
	StreamStatusDataErr
	StreamStatusRtErr
)

func (s StreamStatusCode) String() string {
	switch s {
	case StreamStatusOK:
		return "OK"
	case StreamStatusCmdErr:
		return "CMDERR"
	case StreamStatusSeqErr:
		return "SEQERR"
	case StreamStatusDataErr:
		return "DATAERR"
	case StreamStatusRtErr:
		return "RTERR"
	default:
		return "UNKNOWN"
	}
}

// StreamStatusPayload reports receiver state: credit consumed so far plus
// ingress buffer capacity, per section 4.3.3.
type StreamStatusPayload struct {
	SrcEPID        uint16
	Status         StreamStatusCode
	StatusInfo     uint64
	BuffInfo       uint64
	XferCountPkts  uint64
	XferCountBytes uint64
	CapacityPkts   uint64
	CapacityBytes  uint64
}

// EncodedSize is fixed: 6 64-bit words (48 bytes).
func (StreamStatusPayload) EncodedSize() int { return 48 }

func (p StreamStatusPayload) Encode(c Codec, buf []byte) (int, error) {
	if len(buf) < p.EncodedSize() {
		return 0, chdrerr.New(chdrerr.Config, chdrerr.CodeBadLength, "buffer too small for stream_status")
	}
	// word 0: src_epid[15:0] status[18:16] status_info[47:24]
	w0 := uint64(p.SrcEPID) | uint64(p.Status)<<16 | (p.StatusInfo&0xFFFFFF)<<24
	c.write64(buf[0:8], w0)
	c.write64(buf[8:16], p.BuffInfo)
	c.write64(buf[16:24], p.XferCountPkts)
	c.write64(buf[24:32], p.XferCountBytes)
	c.write64(buf[32:40], p.CapacityPkts)
	c.write64(buf[40:48], p.CapacityBytes)
	return 48, nil
}

func DecodeStreamStatusPayload(c Codec, buf []byte) (StreamStatusPayload, error) {
	if len(buf) < 48 {
		return StreamStatusPayload{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated,
			"stream_status payload truncated")
	}
	w0 := c.read64(buf[0:8])
	return StreamStatusPayload{
		SrcEPID:        uint16(w0),
		Status:         StreamStatusCode((w0 >> 16) & 0x7),
		StatusInfo:     (w0 >> 24) & 0xFFFFFF,
		BuffInfo:       c.read64(buf[8:16]),
		XferCountPkts:  c.read64(buf[16:24]),
		XferCountBytes: c.read64(buf[24:32]),
		CapacityPkts:   c.read64(buf[32:40]),
		CapacityBytes:  c.read64(buf[40:48]),
	}, nil
}

// StreamCmdOp is the operation carried in a stream_cmd payload.
type StreamCmdOp uint8

const (
	StreamCmdInit StreamCmdOp = iota
	StreamCmdResync
	StreamCmdFCAck
	StreamCmdPing
)

// StreamCmdPayload initiates or resynchronizes flow control.
type StreamCmdPayload struct {
	SrcEPID  uint16
	Op       StreamCmdOp
	NumBytes uint64
	NumPkts  uint64
}

func (StreamCmdPayload) EncodedSize() int { return 24 }

func (p StreamCmdPayload) Encode(c Codec, buf []byte) (int, error) {
	if len(buf) < p.EncodedSize() {
		return 0, chdrerr.New(chdrerr.Config, chdrerr.CodeBadLength, "buffer too small for stream_cmd")
	}
	w0 := uint64(p.SrcEPID) | uint64(p.Op)<<16
	c.write64(buf[0:8], w0)
	c.write64(buf[8:16], p.NumBytes)
	c.write64(buf[16:24], p.NumPkts)
	return 24, nil
}

func DecodeStreamCmdPayload(c Codec, buf []byte) (StreamCmdPayload, error) {
	if len(buf) < 24 {
		return StreamCmdPayload{}, chdrerr.New(chdrerr.Protocol, chdrerr.CodePayloadTruncated,
			"stream_cmd payload truncated")
	}
	w0 := c.read64(buf[0:8])
	return StreamCmdPayload{
		SrcEPID:  uint16(w0),
		Op:       StreamCmdOp((w0 >> 16) & 0x7),
		NumBytes: c.read64(buf[8:16]),
		NumPkts:  c.read64(buf[16:24]),
	}, nil
}

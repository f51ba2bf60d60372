package graph

import (
	"time"

	"github.com/ettus-go/rfnoc-chdr/chdr"
	"github.com/ettus-go/rfnoc-chdr/chdrerr"
	"github.com/ettus-go/rfnoc-chdr/mgmt"
	"github.com/ettus-go/rfnoc-chdr/transport"
)

// ManagementSender is the link-backed implementation of mgmt.Sender: it
// turns a source-routed path into a CHDR Management packet (a SEL_DEST op
// per hop, terminated by an INFO_REQ or CFG_WR_REQ), sends it over the
// link before any EPID has been assigned to the addressed node, and
// decodes the single response packet the terminal node's management
// execution unit sends back. The portal itself never touches the link or
// the wire payload directly; it only supplies paths and reads ProbeResult.
type ManagementSender struct {
	link    transport.Link
	codec   chdr.Codec
	width   chdr.Width
	timeout time.Duration
}

// NewManagementSender builds a Sender bound to link, using timeout as the
// per-transaction response deadline (discovery's own retry loop lives in
// the portal, not here).
func NewManagementSender(link transport.Link, codec chdr.Codec, width chdr.Width, timeout time.Duration) *ManagementSender {
	return &ManagementSender{link: link, codec: codec, width: width, timeout: timeout}
}

func selDestHops(path []int) []chdr.ManagementHop {
	hops := make([]chdr.ManagementHop, 0, len(path))
	for _, port := range path {
		hops = append(hops, chdr.ManagementHop{
			Ops: []chdr.ManagementOp{{OpCode: chdr.ManagementOpSelDest, OpPayload: uint64(port)}},
		})
	}
	return hops
}

func (s *ManagementSender) roundTrip(p chdr.ManagementPayload) (chdr.ManagementPayload, error) {
	buf := make([]byte, p.EncodedSize())
	n, err := p.Encode(s.codec, buf)
	if err != nil {
		return chdr.ManagementPayload{}, err
	}
	frame, err := s.codec.Encode(chdr.Packet{
		Header:  chdr.Header{PktType: chdr.PacketTypeManagement},
		Payload: buf[:n],
	})
	if err != nil {
		return chdr.ManagementPayload{}, err
	}

	sendBuf, err := s.link.GetSendBuff(0)
	if err != nil {
		return chdr.ManagementPayload{}, err
	}
	nn := copy(sendBuf.Data()[:cap(sendBuf.Data())], frame)
	if err := sendBuf.SetPacketSize(nn); err != nil {
		return chdr.ManagementPayload{}, err
	}
	if err := s.link.ReleaseSendBuff(sendBuf); err != nil {
		return chdr.ManagementPayload{}, err
	}

	raw, err := s.link.GetRecvBuff(s.timeout)
	if err != nil {
		return chdr.ManagementPayload{}, err
	}
	defer s.link.ReleaseRecvBuff(raw)
	resp, err := s.codec.Decode(raw.Data())
	if err != nil {
		return chdr.ManagementPayload{}, err
	}
	return chdr.DecodeManagementPayload(s.codec, resp.Payload, len(resp.Payload))
}

// Probe implements mgmt.Sender: source-route to path's terminal node and
// run an INFO_REQ, returning the node's self-reported address and type.
func (s *ManagementSender) Probe(path []int) (mgmt.ProbeResult, error) {
	hops := selDestHops(path)
	hops = append(hops, chdr.ManagementHop{Ops: []chdr.ManagementOp{
		{OpCode: chdr.ManagementOpInfoReq},
		{OpCode: chdr.ManagementOpReturn},
	}})
	resp, err := s.roundTrip(chdr.ManagementPayload{ChdrWidth: s.width, Hops: hops})
	if err != nil {
		return mgmt.ProbeResult{}, err
	}
	for _, hop := range resp.Hops {
		for _, op := range hop.Ops {
			if op.OpCode == chdr.ManagementOpInfoResp {
				return decodeInfoResp(op.OpPayload), nil
			}
		}
	}
	return mgmt.ProbeResult{}, chdrerr.New(chdrerr.Topology, chdrerr.CodeMgmtUnreachable,
		"management transaction returned no INFO_RESP")
}

// WriteConfig implements mgmt.Sender: a source-routed CFG_WR_REQ.
func (s *ManagementSender) WriteConfig(path []int, register, value uint32) error {
	hops := selDestHops(path)
	hops = append(hops, chdr.ManagementHop{Ops: []chdr.ManagementOp{
		{OpCode: chdr.ManagementOpCfgWrReq, OpPayload: uint64(register)<<24 | uint64(value)&0xFFFFFF},
		{OpCode: chdr.ManagementOpReturn},
	}})
	_, err := s.roundTrip(chdr.ManagementPayload{ChdrWidth: s.width, Hops: hops})
	return err
}

// decodeInfoResp unpacks the 48 bits an INFO_RESP op payload carries:
// device_id[23:0] instance[7:0] type[7:0] num_ports[7:0].
func decodeInfoResp(payload uint64) mgmt.ProbeResult {
	return mgmt.ProbeResult{
		Addr: mgmt.PhysAddr{
			DeviceID: uint32(payload & 0xFFFFFF),
			Instance: uint32((payload >> 24) & 0xFF),
		},
		Type:     mgmt.NodeType((payload >> 32) & 0xFF),
		NumPorts: int((payload >> 40) & 0xFF),
	}
}

package graph_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ettus-go/rfnoc-chdr/chdr"
	"github.com/ettus-go/rfnoc-chdr/graph"
	"github.com/ettus-go/rfnoc-chdr/mgmt"
	"github.com/ettus-go/rfnoc-chdr/transport"
)

// respondOnce stands in for the terminal node's management execution unit:
// it decodes one inbound management transaction and answers any INFO_REQ
// or CFG_WR_REQ hop with an INFO_RESP/no-op RETURN, mirroring the wire
// shape ManagementSender expects back.
func respondOnce(t *testing.T, link transport.Link, codec chdr.Codec, result mgmt.ProbeResult) {
	t.Helper()
	raw, err := link.GetRecvBuff(time.Second)
	require.NoError(t, err)
	defer link.ReleaseRecvBuff(raw)

	pkt, err := codec.Decode(raw.Data())
	require.NoError(t, err)
	req, err := chdr.DecodeManagementPayload(codec, pkt.Payload, len(pkt.Payload))
	require.NoError(t, err)

	var respOps []chdr.ManagementOp
	for _, hop := range req.Hops {
		for _, op := range hop.Ops {
			switch op.OpCode {
			case chdr.ManagementOpInfoReq:
				respOps = append(respOps, chdr.ManagementOp{
					OpCode:    chdr.ManagementOpInfoResp,
					OpPayload: encodeInfoRespForTest(result),
				})
			case chdr.ManagementOpCfgWrReq:
				// acknowledged implicitly by the RETURN below
			}
		}
	}
	respOps = append(respOps, chdr.ManagementOp{OpCode: chdr.ManagementOpReturn})

	resp := chdr.ManagementPayload{ChdrWidth: chdr.W64, Hops: []chdr.ManagementHop{{Ops: respOps}}}
	buf := make([]byte, resp.EncodedSize())
	n, err := resp.Encode(codec, buf)
	require.NoError(t, err)
	frame, err := codec.Encode(chdr.Packet{Header: chdr.Header{PktType: chdr.PacketTypeManagement}, Payload: buf[:n]})
	require.NoError(t, err)
	sendBuf, err := link.GetSendBuff(0)
	require.NoError(t, err)
	nn := copy(sendBuf.Data()[:cap(sendBuf.Data())], frame)
	require.NoError(t, sendBuf.SetPacketSize(nn))
	require.NoError(t, link.ReleaseSendBuff(sendBuf))
}

// encodeInfoRespForTest mirrors graph's own unexported packing so the test
// responder and ManagementSender.Probe agree on the wire shape without
// reaching into graph's internals.
func encodeInfoRespForTest(r mgmt.ProbeResult) uint64 {
	return uint64(r.Addr.DeviceID)&0xFFFFFF |
		(uint64(r.Addr.Instance)&0xFF)<<24 |
		(uint64(r.Type)&0xFF)<<32 |
		(uint64(r.NumPorts)&0xFF)<<40
}

func TestManagementSenderProbeDecodesInfoResp(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("a", "b", 4, 256, nil)
	require.NoError(t, err)

	codec, err := chdr.NewCodec(chdr.W64, chdr.BigEndian)
	require.NoError(t, err)

	sender := graph.NewManagementSender(a, codec, chdr.W64, time.Second)

	want := mgmt.ProbeResult{Addr: mgmt.PhysAddr{DeviceID: 7, Instance: 1}, Type: mgmt.NodeCrossbar, NumPorts: 4}
	done := make(chan struct{})
	go func() {
		respondOnce(t, b, codec, want)
		close(done)
	}()

	got, err := sender.Probe([]int{0})
	require.NoError(t, err)
	require.Equal(t, want, got)
	<-done
}

func TestManagementSenderWriteConfigSendsCfgWrReq(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("a", "b", 4, 256, nil)
	require.NoError(t, err)

	codec, err := chdr.NewCodec(chdr.W64, chdr.BigEndian)
	require.NoError(t, err)

	sender := graph.NewManagementSender(a, codec, chdr.W64, time.Second)

	done := make(chan struct{})
	go func() {
		respondOnce(t, b, codec, mgmt.ProbeResult{})
		close(done)
	}()

	err = sender.WriteConfig([]int{0, 1}, 0x1000, 42)
	require.NoError(t, err)
	<-done
}

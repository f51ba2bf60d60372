package graph_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ettus-go/rfnoc-chdr/chdr"
	"github.com/ettus-go/rfnoc-chdr/graph"
	"github.com/ettus-go/rfnoc-chdr/mgmt"
	"github.com/ettus-go/rfnoc-chdr/transport"
	"github.com/ettus-go/rfnoc-chdr/xport"
)

// singleSEPSender is a minimal mgmt.Sender fake exposing one stream
// endpoint directly adjacent to the host (path == nil), the simplest
// topology DiscoverTopology can terminate on.
type singleSEPSender struct {
	addr mgmt.PhysAddr
}

var errDeadEnd = errors.New("dead end")

func (f *singleSEPSender) Probe(path []int) (mgmt.ProbeResult, error) {
	if len(path) == 0 {
		return mgmt.ProbeResult{Addr: f.addr, Type: mgmt.NodeStreamEndpoint}, nil
	}
	return mgmt.ProbeResult{}, errDeadEnd
}

func (f *singleSEPSender) WriteConfig(path []int, register, value uint32) error { return nil }

func newTestPortal(t *testing.T, sep mgmt.PhysAddr) *mgmt.Portal {
	t.Helper()
	portal, err := mgmt.NewPortal(&singleSEPSender{addr: sep}, mgmt.PhysAddr{DeviceID: 0}, 200, nil)
	require.NoError(t, err)
	require.NoError(t, portal.DiscoverTopology())
	return portal
}

func TestManagerConnectHostToDeviceCachesConnection(t *testing.T) {
	link, _, err := transport.NewLoopbackLinkPair("host", "dev", 4, 256, nil)
	require.NoError(t, err)

	codec, err := chdr.NewCodec(chdr.W64, chdr.BigEndian)
	require.NoError(t, err)

	sep := mgmt.PhysAddr{DeviceID: 5, Instance: 0}
	portal := newTestPortal(t, sep)
	mgr := graph.NewManager(link, codec, portal, 50, 8, xport.DefaultFlowControl, nil)

	conn1, err := mgr.ConnectHostToDevice(sep)
	require.NoError(t, err)
	require.Equal(t, uint16(50), conn1.LocalEPID)
	require.NotZero(t, conn1.RemoteEPID)

	conn2, err := mgr.ConnectHostToDevice(sep)
	require.NoError(t, err)
	require.Equal(t, conn1, conn2)
}

func TestManagerConnectHostToDeviceRejectsUnknownSEP(t *testing.T) {
	link, _, err := transport.NewLoopbackLinkPair("host", "dev", 4, 256, nil)
	require.NoError(t, err)
	codec, err := chdr.NewCodec(chdr.W64, chdr.BigEndian)
	require.NoError(t, err)

	sep := mgmt.PhysAddr{DeviceID: 5, Instance: 0}
	portal := newTestPortal(t, sep)
	mgr := graph.NewManager(link, codec, portal, 50, 8, xport.DefaultFlowControl, nil)

	_, err = mgr.ConnectHostToDevice(mgmt.PhysAddr{DeviceID: 99})
	require.Error(t, err)
}

// respondToStreamSetup plays the device side of the TX stream setup
// handshake over a raw link: it decodes one stream_cmd and answers with a
// stream_status reporting capacityBytes/capacityPkts, twice (the two-phase
// handshake xport.TXStream.Open runs).
func respondToStreamSetup(t *testing.T, link transport.Link, codec chdr.Codec, srcEPID uint16, capacityBytes, capacityPkts uint64) {
	t.Helper()
	for i := 0; i < 2; i++ {
		raw, err := link.GetRecvBuff(2 * time.Second)
		require.NoError(t, err)
		pkt, err := codec.Decode(raw.Data())
		require.NoError(t, err)
		require.NoError(t, link.ReleaseRecvBuff(raw))
		require.Equal(t, chdr.PacketTypeStreamCmd, pkt.Header.PktType)

		status := chdr.StreamStatusPayload{
			SrcEPID: srcEPID, Status: chdr.StreamStatusOK,
			CapacityBytes: capacityBytes, CapacityPkts: capacityPkts,
		}
		buf := make([]byte, status.EncodedSize())
		n, err := status.Encode(codec, buf)
		require.NoError(t, err)
		frame, err := codec.Encode(chdr.Packet{
			Header:  chdr.Header{PktType: chdr.PacketTypeStreamStatus, DstEPID: pkt.Header.DstEPID},
			Payload: buf[:n],
		})
		require.NoError(t, err)
		sendBuf, err := link.GetSendBuff(0)
		require.NoError(t, err)
		nn := copy(sendBuf.Data()[:cap(sendBuf.Data())], frame)
		require.NoError(t, sendBuf.SetPacketSize(nn))
		require.NoError(t, link.ReleaseSendBuff(sendBuf))
	}
}

func TestManagerCreateHostToDeviceDataStreamOpensAndCaches(t *testing.T) {
	hostLink, devLink, err := transport.NewLoopbackLinkPair("host", "dev", 8, 512, nil)
	require.NoError(t, err)

	codec, err := chdr.NewCodec(chdr.W64, chdr.BigEndian)
	require.NoError(t, err)

	sep := mgmt.PhysAddr{DeviceID: 5, Instance: 0}
	portal := newTestPortal(t, sep)
	mgr := graph.NewManager(hostLink, codec, portal, 50, 8, xport.DefaultFlowControl, nil)

	done := make(chan struct{})
	go func() {
		respondToStreamSetup(t, devLink, codec, 100, 4096, 64)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tx1, err := mgr.CreateHostToDeviceDataStream(ctx, sep, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, tx1)
	<-done

	tx2, err := mgr.CreateHostToDeviceDataStream(ctx, sep, 2*time.Second)
	require.NoError(t, err)
	require.Same(t, tx1, tx2)
}

// Package graph implements the stream manager (C8): the composition root
// that wires a Link, a management portal, and a set of control/data
// transports together into host-to-device and device-to-device data
// streams, caching established connections per spec.md section 4.8.
package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ettus-go/rfnoc-chdr/chdr"
	"github.com/ettus-go/rfnoc-chdr/chdrerr"
	"github.com/ettus-go/rfnoc-chdr/ctrl"
	"github.com/ettus-go/rfnoc-chdr/mgmt"
	"github.com/ettus-go/rfnoc-chdr/transport"
	"github.com/ettus-go/rfnoc-chdr/xport"
)

// Connection is the result of connecting the host to a remote stream
// endpoint: the local EPID this manager allocated for itself and the
// remote SEP's EPID, as returned by ConnectHostToDevice.
type Connection struct {
	LocalEPID  uint16
	RemoteEPID uint16
}

// streamKey identifies a cached data stream by direction and remote EPID.
type streamKey struct {
	remoteEPID uint16
	toDevice   bool
}

// Manager is the stream manager: one per link, owning that link's
// management portal, one control endpoint per destination EPID it talks
// to, and the data streams established over it. Per spec.md section 5's concurrency model, the
// management portal is owned by exactly one manager.
type Manager struct {
	log *zap.Logger

	link           transport.Link
	codec          chdr.Codec
	portal         *mgmt.Portal
	hostEPID       uint16
	maxOutstanding int
	fcConfig       xport.FlowControlDefaults

	mu          sync.Mutex
	connections map[uint16]Connection
	dataStreams map[streamKey]interface{}
	ctrlEPs     map[uint16]*ctrl.Endpoint // one per destination EPID this manager has talked to
}

// Sender adapts one control endpoint's transactions into CHDR Control
// packets addressed to a single destination EPID, shared over the
// manager's link and codec. One Sender exists per remote node a manager's
// control endpoint set talks to, matching how Endpoint itself is scoped to
// one dstPort/dstEPID pair for the lifetime of a session.
type Sender struct {
	codec   chdr.Codec
	link    transport.Link
	dstEPID uint16
}

func (s *Sender) SendControl(p chdr.ControlPayload) error {
	buf, err := s.codec.Encode(chdr.Packet{
		Header:  chdr.Header{PktType: chdr.PacketTypeControl, DstEPID: s.dstEPID},
		Payload: mustEncodeControl(s.codec, p),
	})
	if err != nil {
		return err
	}
	sendBuf, err := s.link.GetSendBuff(0)
	if err != nil {
		return err
	}
	n := copy(sendBuf.Data()[:cap(sendBuf.Data())], buf)
	if err := sendBuf.SetPacketSize(n); err != nil {
		return err
	}
	return s.link.ReleaseSendBuff(sendBuf)
}

func mustEncodeControl(c chdr.Codec, p chdr.ControlPayload) []byte {
	buf := make([]byte, p.EncodedSize())
	n, err := p.Encode(c, buf)
	if err != nil {
		return nil
	}
	return buf[:n]
}

// NewManager constructs a stream manager around an already-open link and a
// freshly discovered management portal.
func NewManager(link transport.Link, codec chdr.Codec, portal *mgmt.Portal, hostEPID uint16, maxOutstanding int, fcConfig xport.FlowControlDefaults, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:  log.With(zap.String("component", "stream_manager")),
		link: link, codec: codec, portal: portal, hostEPID: hostEPID, maxOutstanding: maxOutstanding, fcConfig: fcConfig,
		connections: make(map[uint16]Connection),
		dataStreams: make(map[streamKey]interface{}),
		ctrlEPs:     make(map[uint16]*ctrl.Endpoint),
	}
}

// controlEndpointFor lazily builds (and caches) the control endpoint this
// manager uses to talk to dstEPID, on dstPort/srcPort.
func (m *Manager) controlEndpointFor(dstEPID, srcPort, dstPort uint16) *ctrl.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ep, ok := m.ctrlEPs[dstEPID]; ok {
		return ep
	}
	sender := &Sender{codec: m.codec, link: m.link, dstEPID: dstEPID}
	ep := ctrl.NewEndpoint(sender, m.hostEPID, srcPort, dstPort, m.maxOutstanding, m.log)
	m.ctrlEPs[dstEPID] = ep
	return ep
}

// Peek32 reads a 32-bit register at addr on the node holding dstEPID.
func (m *Manager) Peek32(ctx context.Context, dstEPID uint16, addr uint32, timeout time.Duration) (uint32, error) {
	return m.controlEndpointFor(dstEPID, 0, 0).Peek32(ctx, addr, timeout)
}

// Poke32 writes value to a 32-bit register at addr on the node holding
// dstEPID.
func (m *Manager) Poke32(ctx context.Context, dstEPID uint16, addr uint32, value uint32, timeout time.Duration) error {
	return m.controlEndpointFor(dstEPID, 0, 0).Poke32(ctx, addr, value, timeout)
}

// RunControlPump reads incoming control-plane packets off the link and
// dispatches acks to the control endpoint until ctx is cancelled. This is
// the single reader a deployment must run per link whenever Peek/Poke is
// in use concurrently with data streams; a production deployment would
// instead demux through the ioservice client-handle layer so the link's
// single recv queue fans out to every consumer, rather than each adapter
// reading the link directly as this composition root does.
func (m *Manager) RunControlPump(ctx context.Context, pollTimeout time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		raw, err := m.link.GetRecvBuff(pollTimeout)
		if err != nil || raw == nil {
			continue
		}
		pkt, err := m.codec.Decode(raw.Data())
		m.link.ReleaseRecvBuff(raw)
		if err != nil {
			m.log.Warn("failed to decode incoming packet", zap.Error(err))
			continue
		}
		if pkt.Header.PktType != chdr.PacketTypeControl {
			continue
		}
		cp, err := chdr.DecodeControlPayload(m.codec, pkt.Payload)
		if err != nil {
			m.log.Warn("failed to decode control payload", zap.Error(err))
			continue
		}
		// an ack's SrcEPID is the node that generated it, i.e. the dstEPID
		// this manager addressed it to; that is how the control endpoint
		// keyed by destination was cached.
		m.mu.Lock()
		ep, ok := m.ctrlEPs[cp.SrcEPID]
		m.mu.Unlock()
		if !ok {
			m.log.Debug("dropping control ack from unknown source", zap.Uint16("src_epid", cp.SrcEPID))
			continue
		}
		ep.HandleIncoming(cp)
	}
}

// DiscoverReachableSEPs runs topology discovery on this manager's portal,
// returning the number of stream endpoints found.
func (m *Manager) DiscoverReachableSEPs() (int, error) {
	if err := m.portal.DiscoverTopology(); err != nil {
		return 0, err
	}
	return m.portal.SEPCount(), nil
}

// ConnectHostToDevice establishes (or returns the cached) logical
// connection between the host and remoteSEP: the portal's EPID for that
// SEP, paired with this manager's own host EPID.
func (m *Manager) ConnectHostToDevice(remoteSEP mgmt.PhysAddr) (Connection, error) {
	remoteEPID, ok := m.portal.EPIDFor(remoteSEP)
	if !ok {
		return Connection{}, chdrerr.New(chdrerr.Topology, chdrerr.CodeMgmtUnreachable, "remote stream endpoint not found in discovered topology")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[remoteEPID]; ok {
		return conn, nil
	}
	if err := m.portal.ProgramRoute(m.hostEPID, remoteEPID); err != nil {
		return Connection{}, err
	}
	if err := m.portal.ProgramRoute(remoteEPID, m.hostEPID); err != nil {
		return Connection{}, err
	}
	conn := Connection{LocalEPID: m.hostEPID, RemoteEPID: remoteEPID}
	m.connections[remoteEPID] = conn
	return conn, nil
}

// ConnectDeviceToDevice programs the crossbar routes between two remote
// SEPs without involving the host as a data-plane participant; the host
// only issues the management-plane route-table writes.
func (m *Manager) ConnectDeviceToDevice(srcSEP, dstSEP mgmt.PhysAddr) error {
	srcEPID, ok := m.portal.EPIDFor(srcSEP)
	if !ok {
		return chdrerr.New(chdrerr.Topology, chdrerr.CodeMgmtUnreachable, "source stream endpoint not found in discovered topology")
	}
	dstEPID, ok := m.portal.EPIDFor(dstSEP)
	if !ok {
		return chdrerr.New(chdrerr.Topology, chdrerr.CodeMgmtUnreachable, "destination stream endpoint not found in discovered topology")
	}
	if err := m.portal.ProgramRoute(srcEPID, dstEPID); err != nil {
		return err
	}
	return m.portal.ProgramRoute(dstEPID, srcEPID)
}

// streamControlChannel adapts this manager's link and codec into the
// narrow ControlChannel xport needs, speaking stream_cmd/stream_status
// instead of peek/poke control transactions.
type streamControlChannel struct {
	link    transport.Link
	codec   chdr.Codec
	dstEPID uint16
}

func (c *streamControlChannel) SendStreamCmd(p chdr.StreamCmdPayload) error {
	buf, err := c.codec.Encode(chdr.Packet{
		Header:  chdr.Header{PktType: chdr.PacketTypeStreamCmd, DstEPID: c.dstEPID},
		Payload: mustEncodeStreamCmd(c.codec, p),
	})
	if err != nil {
		return err
	}
	sendBuf, err := c.link.GetSendBuff(0)
	if err != nil {
		return err
	}
	n := copy(sendBuf.Data()[:cap(sendBuf.Data())], buf)
	if err := sendBuf.SetPacketSize(n); err != nil {
		return err
	}
	return c.link.ReleaseSendBuff(sendBuf)
}

func mustEncodeStreamCmd(c chdr.Codec, p chdr.StreamCmdPayload) []byte {
	buf := make([]byte, p.EncodedSize())
	n, err := p.Encode(c, buf)
	if err != nil {
		return nil
	}
	return buf[:n]
}

func (c *streamControlChannel) RecvStreamStatus(timeout time.Duration) (*chdr.StreamStatusPayload, error) {
	raw, err := c.link.GetRecvBuff(timeout)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	defer c.link.ReleaseRecvBuff(raw)
	pkt, err := c.codec.Decode(raw.Data())
	if err != nil {
		return nil, err
	}
	status, err := chdr.DecodeStreamStatusPayload(c.codec, pkt.Payload)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// streamDataChannel adapts this manager's link into the narrow DataChannel
// xport needs.
type streamDataChannel struct {
	link  transport.Link
	codec chdr.Codec
}

func (c *streamDataChannel) SendData(p chdr.Packet) error {
	buf, err := c.codec.Encode(p)
	if err != nil {
		return err
	}
	sendBuf, err := c.link.GetSendBuff(0)
	if err != nil {
		return err
	}
	n := copy(sendBuf.Data()[:cap(sendBuf.Data())], buf)
	if err := sendBuf.SetPacketSize(n); err != nil {
		return err
	}
	return c.link.ReleaseSendBuff(sendBuf)
}

func (c *streamDataChannel) RecvData(timeout time.Duration) (*chdr.Packet, error) {
	raw, err := c.link.GetRecvBuff(timeout)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	defer c.link.ReleaseRecvBuff(raw)
	pkt, err := c.codec.Decode(raw.Data())
	if err != nil {
		return nil, err
	}
	return &pkt, nil
}

// CreateHostToDeviceDataStream opens a flow-controlled TX stream from the
// host to remoteSEP, caching it so a repeat call for the same SEP returns
// the already-open stream.
func (m *Manager) CreateHostToDeviceDataStream(ctx context.Context, remoteSEP mgmt.PhysAddr, setupTimeout time.Duration) (*xport.TXStream, error) {
	conn, err := m.ConnectHostToDevice(remoteSEP)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	key := streamKey{remoteEPID: conn.RemoteEPID, toDevice: true}
	if existing, ok := m.dataStreams[key]; ok {
		m.mu.Unlock()
		tx, ok := existing.(*xport.TXStream)
		if !ok {
			return nil, fmt.Errorf("cached stream for epid %d is not a TX stream", conn.RemoteEPID)
		}
		return tx, nil
	}
	m.mu.Unlock()

	ctrlCh := &streamControlChannel{link: m.link, codec: m.codec, dstEPID: conn.RemoteEPID}
	dataCh := &streamDataChannel{link: m.link, codec: m.codec}
	tx := xport.NewTXStream(ctrlCh, dataCh, conn.LocalEPID, conn.RemoteEPID, m.fcConfig, m.log)
	if err := tx.Open(ctx, setupTimeout); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.dataStreams[key] = tx
	m.mu.Unlock()
	return tx, nil
}

// CreateDeviceToHostDataStream opens a flow-controlled RX stream from
// remoteSEP to the host, caching it the same way as its TX counterpart.
func (m *Manager) CreateDeviceToHostDataStream(ctx context.Context, remoteSEP mgmt.PhysAddr, capacityBytes, capacityPkts uint64, setupTimeout time.Duration) (*xport.RXStream, error) {
	conn, err := m.ConnectHostToDevice(remoteSEP)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	key := streamKey{remoteEPID: conn.RemoteEPID, toDevice: false}
	if existing, ok := m.dataStreams[key]; ok {
		m.mu.Unlock()
		rx, ok := existing.(*xport.RXStream)
		if !ok {
			return nil, fmt.Errorf("cached stream for epid %d is not an RX stream", conn.RemoteEPID)
		}
		return rx, nil
	}
	m.mu.Unlock()

	ctrlCh := &streamControlChannel{link: m.link, codec: m.codec, dstEPID: conn.RemoteEPID}
	dataCh := &streamDataChannel{link: m.link, codec: m.codec}
	rx := xport.NewRXStream(ctrlCh, dataCh, conn.LocalEPID, conn.RemoteEPID, m.log)
	if err := rx.Open(ctx, capacityBytes, capacityPkts, setupTimeout); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.dataStreams[key] = rx
	m.mu.Unlock()
	return rx, nil
}

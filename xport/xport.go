// Package xport implements the flow-controlled data transport (C7): the TX
// half (host -> device) and RX half (device -> host) of a CHDR data
// stream, including the stream_cmd/stream_status setup handshake, credit
// accounting, and loss detection/resync.
package xport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ettus-go/rfnoc-chdr/chdr"
	"github.com/ettus-go/rfnoc-chdr/chdrerr"
)

// ControlChannel is the narrow interface xport needs to exchange
// stream_cmd/stream_status control-plane messages with the peer endpoint,
// independent of how those messages are actually framed and carried
// (a control endpoint, a loopback test double, or a real link).
type ControlChannel interface {
	SendStreamCmd(p chdr.StreamCmdPayload) error
	// RecvStreamStatus blocks (up to timeout) for the next stream_status
	// report. A nil, nil return means the timeout elapsed with nothing to
	// report.
	RecvStreamStatus(timeout time.Duration) (*chdr.StreamStatusPayload, error)
}

// DataChannel is the narrow interface xport needs to move framed CHDR data
// packets, independent of the underlying Link/codec plumbing.
type DataChannel interface {
	SendData(p chdr.Packet) error
	RecvData(timeout time.Duration) (*chdr.Packet, error)
}

// FlowControlDefaults are the configuration constants setup uses to derive
// its flow-control watermark from the peer's advertised capacity.
type FlowControlDefaults struct {
	FreqRatio     float64 // fraction of capacity that, less the headroom, sets the fc_freq ack interval
	HeadroomRatio float64 // fraction of capacity reserved as headroom, never advertised
}

// DefaultFlowControl matches the values this deployment resolved for the
// open question of freq_ratio/headroom_ratio: 1/16 of capacity is withheld
// as headroom so the device never sees the full nominal buffer as available
// credit, and the requested ack interval is 1/8 of capacity less that
// headroom.
var DefaultFlowControl = FlowControlDefaults{FreqRatio: 0.125, HeadroomRatio: 0.0625}

func ceilRatio(capacity uint64, ratio float64) uint64 {
	v := float64(capacity) * ratio
	c := uint64(v)
	if float64(c) < v {
		c++
	}
	return c
}

// credits tracks one direction's flow-control accounting: capacity from
// setup, monotonic transfer counts, and the peer's last-reported consumed
// counts. in_flight = xfer - consumed, per section 4.7.2.
type credits struct {
	mu sync.Mutex

	capacityBytes, capacityPkts uint64
	xferBytes, xferPkts         uint64
	consumedBytes, consumedPkts uint64

	cond *sync.Cond
}

func newCredits() *credits {
	c := &credits{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *credits) setCapacity(bytes, pkts uint64) {
	c.mu.Lock()
	c.capacityBytes, c.capacityPkts = bytes, pkts
	c.mu.Unlock()
}

func (c *credits) updateConsumed(bytes, pkts uint64) {
	c.mu.Lock()
	c.consumedBytes, c.consumedPkts = bytes, pkts
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *credits) inFlight() (uint64, uint64) {
	return c.xferBytes - c.consumedBytes, c.xferPkts - c.consumedPkts
}

// reserve blocks until a packet of size bytes fits within capacity, or
// until timeout elapses, in which case it returns TX_BACKPRESSURE.
func (c *credits) reserve(bytes uint64, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		inFlightBytes, inFlightPkts := c.xferBytes-c.consumedBytes, c.xferPkts-c.consumedPkts
		if inFlightBytes+bytes <= c.capacityBytes && inFlightPkts+1 <= c.capacityPkts {
			c.xferBytes += bytes
			c.xferPkts++
			return nil
		}
		if timeout == 0 {
			return chdrerr.New(chdrerr.Flow, chdrerr.CodeTxBackpressure, "no flow control credit available")
		}
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return chdrerr.New(chdrerr.Flow, chdrerr.CodeTxBackpressure, "timed out waiting for flow control credit")
			}
			timer := time.AfterFunc(remaining, func() {
				c.mu.Lock()
				c.cond.Broadcast()
				c.mu.Unlock()
			})
			c.cond.Wait()
			timer.Stop()
			continue
		}
		c.cond.Wait()
	}
}

// TXStream is the host-to-device half of a flow-controlled data transport.
type TXStream struct {
	log *zap.Logger

	ctrl ControlChannel
	data DataChannel
	fc   *credits

	srcEPID, dstEPID uint16
	seq              uint16
	fcDefaults       FlowControlDefaults
}

// NewTXStream constructs a TX stream; call Open before sending data.
func NewTXStream(ctrl ControlChannel, data DataChannel, srcEPID, dstEPID uint16, fcDefaults FlowControlDefaults, log *zap.Logger) *TXStream {
	if log == nil {
		log = zap.NewNop()
	}
	return &TXStream{
		log:  log.With(zap.String("component", "tx_stream")),
		ctrl: ctrl, data: data, fc: newCredits(),
		srcEPID: srcEPID, dstEPID: dstEPID, fcDefaults: fcDefaults,
	}
}

// Open runs the two-phase setup handshake from section 4.7.1: an initial
// stream_cmd(INIT) discovers the peer's ingress capacity, then a second
// stream_cmd(INIT) communicates this side's requested ack frequency.
func (s *TXStream) Open(ctx context.Context, setupTimeout time.Duration) error {
	if err := s.ctrl.SendStreamCmd(chdr.StreamCmdPayload{SrcEPID: s.srcEPID, Op: chdr.StreamCmdInit}); err != nil {
		return chdrerr.Wrap(chdrerr.Transport, chdrerr.CodeLinkTxFailed, err)
	}
	status, err := s.awaitStatus(ctx, setupTimeout)
	if err != nil {
		return err
	}
	headroomBytes := ceilRatio(status.CapacityBytes, s.fcDefaults.HeadroomRatio)
	headroomPkts := ceilRatio(status.CapacityPkts, s.fcDefaults.HeadroomRatio)
	usableBytes := status.CapacityBytes - headroomBytes
	usablePkts := status.CapacityPkts - headroomPkts
	s.fc.setCapacity(usableBytes, usablePkts)

	// fc_freq = ceil(capacity * FreqRatio) - headroom, floored at zero.
	var fcFreqBytes, fcFreqPkts uint64
	if f := ceilRatio(status.CapacityBytes, s.fcDefaults.FreqRatio); f > headroomBytes {
		fcFreqBytes = f - headroomBytes
	}
	if f := ceilRatio(status.CapacityPkts, s.fcDefaults.FreqRatio); f > headroomPkts {
		fcFreqPkts = f - headroomPkts
	}

	if err := s.ctrl.SendStreamCmd(chdr.StreamCmdPayload{SrcEPID: s.srcEPID, Op: chdr.StreamCmdInit, NumBytes: fcFreqBytes, NumPkts: fcFreqPkts}); err != nil {
		return chdrerr.Wrap(chdrerr.Transport, chdrerr.CodeLinkTxFailed, err)
	}
	if _, err := s.awaitStatus(ctx, setupTimeout); err != nil {
		return err
	}
	return nil
}

func (s *TXStream) awaitStatus(ctx context.Context, timeout time.Duration) (*chdr.StreamStatusPayload, error) {
	status, err := s.ctrl.RecvStreamStatus(timeout)
	if err != nil {
		return nil, chdrerr.Wrap(chdrerr.Timeout, chdrerr.CodeCtrlTimeout, err)
	}
	if status == nil {
		return nil, chdrerr.New(chdrerr.Timeout, chdrerr.CodeCtrlTimeout, "no stream_status within setup timeout")
	}
	if status.Status != chdr.StreamStatusOK {
		return nil, chdrerr.New(chdrerr.Protocol, chdrerr.CodeCtrlSeqErr, "stream_status reported a non-OK condition during setup")
	}
	return status, nil
}

// Send transmits payload as one data packet, blocking on
// flow control up to timeout. eob marks the packet as the end of a burst.
func (s *TXStream) Send(ctx context.Context, payload []byte, timestamp uint64, hasTimestamp, eob bool, timeout time.Duration) error {
	if err := s.fc.reserve(uint64(len(payload)), timeout); err != nil {
		return err
	}
	pktType := chdr.PacketTypeDataNoTS
	if hasTimestamp {
		pktType = chdr.PacketTypeDataWithTS
	}
	pkt := chdr.Packet{
		Header: chdr.Header{
			PktType: pktType,
			DstEPID: s.dstEPID,
			SeqNum:  s.seq,
			EOB:     eob,
		},
		Payload: payload,
	}
	if hasTimestamp {
		pkt.Timestamp = timestamp
	}
	s.seq++
	if err := s.data.SendData(pkt); err != nil {
		return chdrerr.Wrap(chdrerr.Transport, chdrerr.CodeLinkTxFailed, err)
	}
	return nil
}

// HandleStatus applies an asynchronous stream_status update (consumed
// counts) arriving on the control channel's callback path, unblocking any
// Send waiting on flow control credit.
func (s *TXStream) HandleStatus(p chdr.StreamStatusPayload) error {
	if p.Status == chdr.StreamStatusSeqErr {
		return chdrerr.New(chdrerr.Sequence, chdrerr.CodeCtrlSeqErr, "peer reported a sequence error on the TX stream")
	}
	s.fc.updateConsumed(p.XferCountBytes, p.XferCountPkts)
	return nil
}

// RXStream is the device-to-host half of a flow-controlled data transport.
type RXStream struct {
	log *zap.Logger

	ctrl ControlChannel
	data DataChannel

	srcEPID, dstEPID uint16
	expectedSeq      uint16
	gotFirst         bool

	xferBytes, xferPkts uint64
}

// NewRXStream constructs an RX stream; call Open before receiving data.
func NewRXStream(ctrl ControlChannel, data DataChannel, srcEPID, dstEPID uint16, log *zap.Logger) *RXStream {
	if log == nil {
		log = zap.NewNop()
	}
	return &RXStream{log: log.With(zap.String("component", "rx_stream")), ctrl: ctrl, data: data, srcEPID: srcEPID, dstEPID: dstEPID}
}

// Open mirrors TXStream.Open from the receiving side: it waits for the
// peer's first stream_cmd(INIT), reports this side's ingress capacity, and
// then waits for the peer's fc_freq follow-up before the stream is ready.
func (s *RXStream) Open(ctx context.Context, capacityBytes, capacityPkts uint64, setupTimeout time.Duration) error {
	if _, err := s.awaitInit(setupTimeout); err != nil {
		return err
	}
	if err := s.ctrl.SendStreamCmd(chdr.StreamCmdPayload{SrcEPID: s.srcEPID, Op: chdr.StreamCmdFCAck, NumBytes: capacityBytes, NumPkts: capacityPkts}); err != nil {
		return chdrerr.Wrap(chdrerr.Transport, chdrerr.CodeLinkTxFailed, err)
	}
	if _, err := s.awaitInit(setupTimeout); err != nil {
		return err
	}
	return s.ctrl.SendStreamCmd(chdr.StreamCmdPayload{SrcEPID: s.srcEPID, Op: chdr.StreamCmdFCAck, NumBytes: capacityBytes, NumPkts: capacityPkts})
}

func (s *RXStream) awaitInit(timeout time.Duration) (*chdr.StreamStatusPayload, error) {
	// stream_cmd arrives as a control-plane message; this implementation
	// treats it symmetrically with stream_status on the shared channel.
	status, err := s.ctrl.RecvStreamStatus(timeout)
	if err != nil {
		return nil, chdrerr.Wrap(chdrerr.Timeout, chdrerr.CodeCtrlTimeout, err)
	}
	if status == nil {
		return nil, chdrerr.New(chdrerr.Timeout, chdrerr.CodeCtrlTimeout, "no stream_cmd within setup timeout")
	}
	return status, nil
}

// Recv waits (up to timeout) for the next data packet, verifying its
// sequence number. A gap triggers a resync: the expected sequence resets
// to whatever arrived, and a stream_cmd(RESYNC) is sent upstream. No
// stream_status(SEQERR) is sent.
func (s *RXStream) Recv(timeout time.Duration) (*chdr.Packet, error) {
	pkt, err := s.data.RecvData(timeout)
	if err != nil {
		return nil, chdrerr.Wrap(chdrerr.Transport, "RX_RECV_FAILED", err)
	}
	if pkt == nil {
		return nil, nil
	}

	if s.gotFirst && pkt.Header.SeqNum != s.expectedSeq {
		s.log.Warn("sequence gap detected, resyncing", zap.Uint16("expected", s.expectedSeq), zap.Uint16("got", pkt.Header.SeqNum))
		_ = s.ctrl.SendStreamCmd(chdr.StreamCmdPayload{SrcEPID: s.srcEPID, Op: chdr.StreamCmdResync})
	}
	s.expectedSeq = pkt.Header.SeqNum + 1
	s.gotFirst = true

	s.xferBytes += uint64(pkt.Header.Length)
	s.xferPkts++
	return pkt, nil
}

// ReportConsumed sends a stream_cmd(FC_ACK) whose byte/packet counts tell
// the peer how much this side has consumed, freeing TX-side flow control
// credit. No stream_status packet is sent.
func (s *RXStream) ReportConsumed() error {
	return s.ctrl.SendStreamCmd(chdr.StreamCmdPayload{SrcEPID: s.srcEPID, Op: chdr.StreamCmdFCAck, NumBytes: s.xferBytes, NumPkts: s.xferPkts})
}

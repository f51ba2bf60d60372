// Package ctrl implements the control endpoint (C5): register peek/poke
// transactions carried over CHDR Control packets, with sequence-numbered
// acking and a bounded in-flight window.
package ctrl

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ettus-go/rfnoc-chdr/chdr"
	"github.com/ettus-go/rfnoc-chdr/chdrerr"
)

// Sender is the narrow interface Endpoint needs from whatever carries a
// control packet to its destination (an xport TX half, a loopback link,
// or a test double).
type Sender interface {
	SendControl(p chdr.ControlPayload) error
}

// pendingTxn tracks one outstanding request awaiting its ack.
type pendingTxn struct {
	resp chan chdr.ControlPayload
}

// Endpoint issues peek/poke register transactions and matches incoming
// acks back to the request that caused them by sequence number. At most
// maxOutstanding transactions may be in flight at once; a caller beyond
// that blocks (bounded window, not unbounded buffering).
type Endpoint struct {
	log *zap.Logger

	send    Sender
	srcEPID uint16
	dstPort uint16
	srcPort uint16

	maxOutstanding int
	sem            chan struct{}

	mu      sync.Mutex
	seqOut  uint8
	pending map[uint8]*pendingTxn
}

// NewEndpoint constructs a control endpoint that sends through send,
// tagging requests with srcEPID/srcPort/dstPort and allowing up to
// maxOutstanding unacknowledged transactions at a time.
func NewEndpoint(send Sender, srcEPID, srcPort, dstPort uint16, maxOutstanding int, log *zap.Logger) *Endpoint {
	if log == nil {
		log = zap.NewNop()
	}
	if maxOutstanding <= 0 {
		maxOutstanding = 1
	}
	return &Endpoint{
		log:            log.With(zap.String("component", "ctrl_endpoint")),
		send:           send,
		srcEPID:        srcEPID,
		srcPort:        srcPort,
		dstPort:        dstPort,
		maxOutstanding: maxOutstanding,
		sem:            make(chan struct{}, maxOutstanding),
		pending:        make(map[uint8]*pendingTxn),
	}
}

// nextSeq returns the next sequence number, wrapping at 6 bits (the width
// of the Seq field on the wire).
func (e *Endpoint) nextSeq() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := e.seqOut & 0x3F
	e.seqOut = (e.seqOut + 1) & 0x3F
	return seq
}

// transact sends req and waits for its matching ack, up to timeout.
// timeout < 0 waits indefinitely; timeout == 0 is a single non-blocking
// poll of an already-arrived ack.
func (e *Endpoint) transact(ctx context.Context, req chdr.ControlPayload, timeout time.Duration) (chdr.ControlPayload, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return chdr.ControlPayload{}, chdrerr.Wrap(chdrerr.Timeout, chdrerr.CodeCtrlTimeout, ctx.Err())
	}
	defer func() { <-e.sem }()

	req.Seq = e.nextSeq()
	txn := &pendingTxn{resp: make(chan chdr.ControlPayload, 1)}

	e.mu.Lock()
	e.pending[req.Seq] = txn
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, req.Seq)
		e.mu.Unlock()
	}()

	if err := e.send.SendControl(req); err != nil {
		return chdr.ControlPayload{}, chdrerr.Wrap(chdrerr.Transport, chdrerr.CodeLinkTxFailed, err)
	}

	if timeout == 0 {
		select {
		case resp := <-txn.resp:
			return resp, nil
		default:
			return chdr.ControlPayload{}, chdrerr.New(chdrerr.Timeout, chdrerr.CodeCtrlTimeout, "control ack not yet available")
		}
	}
	if timeout < 0 {
		select {
		case resp := <-txn.resp:
			return resp, nil
		case <-ctx.Done():
			return chdr.ControlPayload{}, chdrerr.Wrap(chdrerr.Timeout, chdrerr.CodeCtrlTimeout, ctx.Err())
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-txn.resp:
		return resp, nil
	case <-timer.C:
		return chdr.ControlPayload{}, chdrerr.New(chdrerr.Timeout, chdrerr.CodeCtrlTimeout, "control transaction timed out")
	case <-ctx.Done():
		return chdr.ControlPayload{}, chdrerr.Wrap(chdrerr.Timeout, chdrerr.CodeCtrlTimeout, ctx.Err())
	}
}

// HandleIncoming dispatches an ack received off the wire to its matching
// pending transaction. An ack for an unknown sequence number (already
// timed out, or spurious) is dropped rather than treated as fatal.
func (e *Endpoint) HandleIncoming(p chdr.ControlPayload) {
	e.mu.Lock()
	txn, ok := e.pending[p.Seq]
	e.mu.Unlock()
	if !ok {
		e.log.Debug("dropping control response for unknown sequence", zap.Uint8("seq", p.Seq))
		return
	}
	select {
	case txn.resp <- p:
	default:
	}
}

func (e *Endpoint) request(ctx context.Context, op chdr.ControlOp, addr uint32, data []uint32, timeout time.Duration) (chdr.ControlPayload, error) {
	return e.requestMasked(ctx, op, addr, data, 0xF, false, 0, timeout)
}

// requestMasked is the general form behind request: byteEnable selects which
// of the four bytes in each transferred word are live, and hasTime/timestamp
// arm the device-side executor to hold the transaction until timestamp
// before applying it (a "timed" block command).
func (e *Endpoint) requestMasked(ctx context.Context, op chdr.ControlOp, addr uint32, data []uint32, byteEnable uint8, hasTime bool, timestamp uint64, timeout time.Duration) (chdr.ControlPayload, error) {
	req := chdr.ControlPayload{
		DstPort: e.dstPort, SrcPort: e.srcPort, SrcEPID: e.srcEPID,
		Address: addr, ByteEnable: byteEnable, Op: op, Data: data,
		HasTime: hasTime, Timestamp: timestamp,
	}
	resp, err := e.transact(ctx, req, timeout)
	if err != nil {
		return chdr.ControlPayload{}, err
	}
	if resp.Status != chdr.ControlStatusOK {
		return resp, chdrerr.New(chdrerr.Protocol, chdrerr.CodeCtrlSeqErr, "control transaction returned non-OK status")
	}
	return resp, nil
}

// Peek32 reads one 32-bit register at addr.
func (e *Endpoint) Peek32(ctx context.Context, addr uint32, timeout time.Duration) (uint32, error) {
	resp, err := e.request(ctx, chdr.ControlOpRead, addr, make([]uint32, 1), timeout)
	if err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, chdrerr.New(chdrerr.Protocol, chdrerr.CodeBadLength, "read response carried no data")
	}
	return resp.Data[0], nil
}

// Poke32 writes value to the 32-bit register at addr.
func (e *Endpoint) Poke32(ctx context.Context, addr, value uint32, timeout time.Duration) error {
	_, err := e.request(ctx, chdr.ControlOpWrite, addr, []uint32{value}, timeout)
	return err
}

// Peek64 reads a 64-bit register spanning addr and addr+4, low word first.
func (e *Endpoint) Peek64(ctx context.Context, addr uint32, timeout time.Duration) (uint64, error) {
	resp, err := e.request(ctx, chdr.ControlOpRead, addr, make([]uint32, 2), timeout)
	if err != nil {
		return 0, err
	}
	if len(resp.Data) < 2 {
		return 0, chdrerr.New(chdrerr.Protocol, chdrerr.CodeBadLength, "64-bit read response carried fewer than two words")
	}
	return uint64(resp.Data[0]) | uint64(resp.Data[1])<<32, nil
}

// Poke64 writes a 64-bit value across addr and addr+4, low word first.
func (e *Endpoint) Poke64(ctx context.Context, addr uint32, value uint64, timeout time.Duration) error {
	_, err := e.request(ctx, chdr.ControlOpWrite, addr, []uint32{uint32(value), uint32(value >> 32)}, timeout)
	return err
}

// BlockPeek32 reads one 32-bit register at addr with an explicit byte-enable
// mask. If hasTime is set, the device holds the read until timestamp before
// executing it (a timed block_peek32).
func (e *Endpoint) BlockPeek32(ctx context.Context, addr uint32, mask uint8, hasTime bool, timestamp uint64, timeout time.Duration) (uint32, error) {
	resp, err := e.requestMasked(ctx, chdr.ControlOpRead, addr, make([]uint32, 1), mask, hasTime, timestamp, timeout)
	if err != nil {
		return 0, err
	}
	if len(resp.Data) == 0 {
		return 0, chdrerr.New(chdrerr.Protocol, chdrerr.CodeBadLength, "read response carried no data")
	}
	return resp.Data[0], nil
}

// BlockPoke32 writes value to the 32-bit register at addr with an explicit
// byte-enable mask. If hasTime is set, the device holds the write until
// timestamp before executing it (a timed block_poke32).
func (e *Endpoint) BlockPoke32(ctx context.Context, addr, value uint32, mask uint8, hasTime bool, timestamp uint64, timeout time.Duration) error {
	_, err := e.requestMasked(ctx, chdr.ControlOpWrite, addr, []uint32{value}, mask, hasTime, timestamp, timeout)
	return err
}

// Sleep issues a timed no-op transaction and waits for its ack, used to
// pace a sequence of register writes against device-side settling time.
func (e *Endpoint) Sleep(ctx context.Context, ticks uint64, timeout time.Duration) error {
	req := chdr.ControlPayload{
		DstPort: e.dstPort, SrcPort: e.srcPort, SrcEPID: e.srcEPID,
		HasTime: true, Timestamp: ticks, Op: chdr.ControlOpSleep, Data: make([]uint32, 1),
	}
	_, err := e.transact(ctx, req, timeout)
	return err
}

// Package ioservice implements the I/O service layer (C4): the boundary
// between a Link and the client code that produces/consumes CHDR frames.
// Two variants share the IOService interface: InlineIOService, which does
// all forwarding on the calling goroutine, and OffloadIOService, which runs
// a dedicated worker goroutine and a request/response service queue in
// front of it, mirroring a DPDK-style poll-mode core that client threads
// cannot touch directly.
package ioservice

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ettus-go/rfnoc-chdr/chdrerr"
	"github.com/ettus-go/rfnoc-chdr/transport"
)

// IOService is the capability set both variants implement: attach a link,
// hand out client handles, and push/pull frames through a handle.
type IOService interface {
	// AttachLink registers a link with the service and returns a handle
	// identifying the client's exclusive view of it.
	AttachLink(link transport.Link) (ClientHandle, error)
	// DetachLink releases a previously attached link and invalidates its
	// handle.
	DetachLink(h ClientHandle) error

	Send(h ClientHandle, data []byte, timeout time.Duration) error
	Recv(h ClientHandle, timeout time.Duration) ([]byte, error)

	Close() error
}

// ClientHandle identifies one client's attachment to the service. The
// generation field changes every time a slot is reused, so a handle issued
// before a DetachLink/AttachLink cycle can never be mistaken for the new
// occupant of the same slot.
type ClientHandle struct {
	slot       int
	generation uint64
}

func (h ClientHandle) valid() bool { return h.generation != 0 }

type clientSlot struct {
	generation uint64
	link       transport.Link
	inUse      bool
}

// InlineIOService forwards Send/Recv directly on the calling goroutine with
// no intermediate queueing, the simplest and lowest-latency variant,
// appropriate for a single-threaded client talking to one link.
type InlineIOService struct {
	log *zap.Logger

	mu      sync.Mutex
	slots   []clientSlot
	nextGen uint64
}

var _ IOService = (*InlineIOService)(nil)

// NewInlineIOService constructs an InlineIOService able to host up to
// maxClients simultaneous link attachments.
func NewInlineIOService(maxClients int, log *zap.Logger) *InlineIOService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InlineIOService{
		log:   log.With(zap.String("component", "inline_io_service")),
		slots: make([]clientSlot, maxClients),
	}
}

func (s *InlineIOService) AttachLink(link transport.Link) (ClientHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		if !s.slots[i].inUse {
			s.nextGen++
			s.slots[i] = clientSlot{generation: s.nextGen, link: link, inUse: true}
			return ClientHandle{slot: i, generation: s.nextGen}, nil
		}
	}
	return ClientHandle{}, chdrerr.New(chdrerr.Resource, "IOSVC_NO_SLOTS", "no free client slots")
}

func (s *InlineIOService) DetachLink(h ClientHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, err := s.lookupLocked(h)
	if err != nil {
		return err
	}
	s.slots[h.slot] = clientSlot{}
	_ = slot
	return nil
}

func (s *InlineIOService) lookupLocked(h ClientHandle) (*clientSlot, error) {
	if !h.valid() || h.slot < 0 || h.slot >= len(s.slots) {
		return nil, chdrerr.New(chdrerr.Config, "IOSVC_BAD_HANDLE", "invalid client handle")
	}
	slot := &s.slots[h.slot]
	if !slot.inUse || slot.generation != h.generation {
		return nil, chdrerr.New(chdrerr.Config, "IOSVC_STALE_HANDLE", "client handle refers to a detached slot")
	}
	return slot, nil
}

func (s *InlineIOService) Send(h ClientHandle, data []byte, timeout time.Duration) error {
	s.mu.Lock()
	slot, err := s.lookupLocked(h)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	link := slot.link
	s.mu.Unlock()

	buf, err := link.GetSendBuff(timeout)
	if err != nil {
		return err
	}
	if len(data) > buf.Capacity() {
		_ = link.ReleaseSendBuff(buf)
		return chdrerr.New(chdrerr.Config, chdrerr.CodeBadLength, "frame larger than send buffer capacity")
	}
	n := copy(buf.Data()[:cap(buf.Data())], data)
	if err := buf.SetPacketSize(n); err != nil {
		return err
	}
	return link.ReleaseSendBuff(buf)
}

func (s *InlineIOService) Recv(h ClientHandle, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	slot, err := s.lookupLocked(h)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	link := slot.link
	s.mu.Unlock()

	buf, err := link.GetRecvBuff(timeout)
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, nil
	}
	out := append([]byte(nil), buf.Data()...)
	if err := link.ReleaseRecvBuff(buf); err != nil {
		return out, err
	}
	return out, nil
}

func (s *InlineIOService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = nil
	return nil
}

// waitType mirrors a poll-mode worker's service_queue request vocabulary:
// every request a client can make of the offload worker is spelled out
// here rather than left to an untyped command string.
type waitType int

const (
	waitSimple waitType = iota
	waitRX
	waitTXBuf
	waitFlowOpen
	waitFlowClose
	waitXportConnect
	waitXportDisconnect
	waitARP
	waitLcoreTerm
)

type serviceRequest struct {
	kind   waitType
	handle ClientHandle
	data   []byte
	result chan serviceResult
}

type serviceResult struct {
	data []byte
	err  error
}

// OffloadIOService runs all link I/O on one dedicated worker goroutine, the
// way a DPDK lcore owns a poll-mode driver exclusively: client goroutines
// never touch a Link directly, they submit a serviceRequest on the one
// request channel all clients share and block on that request's private
// result channel, so every reply travels on its own single-producer,
// single-consumer path back from the worker.
type OffloadIOService struct {
	log *zap.Logger

	mu      sync.Mutex
	slots   []clientSlot
	nextGen uint64

	reqCh  chan serviceRequest
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ IOService = (*OffloadIOService)(nil)

// NewOffloadIOService constructs and starts an OffloadIOService worker.
func NewOffloadIOService(maxClients, queueDepth int, log *zap.Logger) *OffloadIOService {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &OffloadIOService{
		log:    log.With(zap.String("component", "offload_io_service")),
		slots:  make([]clientSlot, maxClients),
		reqCh:  make(chan serviceRequest, queueDepth),
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.worker(ctx)
	return s
}

func (s *OffloadIOService) AttachLink(link transport.Link) (ClientHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.slots {
		if !s.slots[i].inUse {
			s.nextGen++
			s.slots[i] = clientSlot{generation: s.nextGen, link: link, inUse: true}
			return ClientHandle{slot: i, generation: s.nextGen}, nil
		}
	}
	return ClientHandle{}, chdrerr.New(chdrerr.Resource, "IOSVC_NO_SLOTS", "no free client slots")
}

func (s *OffloadIOService) DetachLink(h ClientHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !h.valid() || h.slot < 0 || h.slot >= len(s.slots) {
		return chdrerr.New(chdrerr.Config, "IOSVC_BAD_HANDLE", "invalid client handle")
	}
	slot := &s.slots[h.slot]
	if !slot.inUse || slot.generation != h.generation {
		return chdrerr.New(chdrerr.Config, "IOSVC_STALE_HANDLE", "client handle refers to a detached slot")
	}
	s.slots[h.slot] = clientSlot{}
	return nil
}

func (s *OffloadIOService) Send(h ClientHandle, data []byte, timeout time.Duration) error {
	if s.closed.Load() {
		return chdrerr.New(chdrerr.Transport, chdrerr.CodeDisconnected, "offload service is closed")
	}
	result := make(chan serviceResult, 1)
	req := serviceRequest{kind: waitTXBuf, handle: h, data: data, result: result}

	if timeout == 0 {
		select {
		case s.reqCh <- req:
		default:
			return chdrerr.New(chdrerr.Flow, chdrerr.CodeTxBackpressure, "offload service queue is full")
		}
	} else if timeout < 0 {
		s.reqCh <- req
	} else {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case s.reqCh <- req:
		case <-timer.C:
			return chdrerr.New(chdrerr.Timeout, chdrerr.CodeTxBackpressure, "offload service queue stayed full")
		}
	}
	res := <-result
	return res.err
}

func (s *OffloadIOService) Recv(h ClientHandle, timeout time.Duration) ([]byte, error) {
	if s.closed.Load() {
		return nil, chdrerr.New(chdrerr.Transport, chdrerr.CodeDisconnected, "offload service is closed")
	}
	result := make(chan serviceResult, 1)
	req := serviceRequest{kind: waitRX, handle: h, result: result}
	select {
	case s.reqCh <- req:
	default:
		return nil, chdrerr.New(chdrerr.Resource, "IOSVC_QUEUE_FULL", "offload service request queue is full")
	}

	if timeout < 0 {
		res := <-result
		return res.data, res.err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-result:
		return res.data, res.err
	case <-timer.C:
		return nil, nil
	}
}

// worker is the single goroutine that ever calls into a Link: it drains
// requests, resolves each against the owning client's link, and posts the
// outcome back on the request's private result channel.
func (s *OffloadIOService) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.reqCh:
			s.handle(req)
		}
	}
}

func (s *OffloadIOService) handle(req serviceRequest) {
	s.mu.Lock()
	var link transport.Link
	if req.handle.valid() && req.handle.slot >= 0 && req.handle.slot < len(s.slots) {
		slot := &s.slots[req.handle.slot]
		if slot.inUse && slot.generation == req.handle.generation {
			link = slot.link
		}
	}
	s.mu.Unlock()

	if link == nil {
		req.result <- serviceResult{err: chdrerr.New(chdrerr.Config, "IOSVC_STALE_HANDLE", "client handle refers to a detached slot")}
		return
	}

	switch req.kind {
	case waitTXBuf:
		buf, err := link.GetSendBuff(transport.TryOnce)
		if err != nil {
			req.result <- serviceResult{err: err}
			return
		}
		n := copy(buf.Data()[:cap(buf.Data())], req.data)
		if err := buf.SetPacketSize(n); err != nil {
			req.result <- serviceResult{err: err}
			return
		}
		req.result <- serviceResult{err: link.ReleaseSendBuff(buf)}
	case waitRX:
		buf, err := link.GetRecvBuff(transport.TryOnce)
		if err != nil {
			req.result <- serviceResult{err: err}
			return
		}
		if buf == nil {
			req.result <- serviceResult{}
			return
		}
		out := append([]byte(nil), buf.Data()...)
		err = link.ReleaseRecvBuff(buf)
		req.result <- serviceResult{data: out, err: err}
	default:
		req.result <- serviceResult{err: chdrerr.New(chdrerr.Config, "IOSVC_UNSUPPORTED_REQUEST", "request kind not handled inline")}
	}
}

func (s *OffloadIOService) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	return nil
}

package transport

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ettus-go/rfnoc-chdr/chdrerr"
)

// LoopbackLink is the test-only link variant called out in the design
// notes: a pair of LoopbackLinks, joined at construction, feed each other's
// receive queue directly, with no real socket or DMA ring involved. It
// backs end-to-end scenario tests (control round trip, flow control,
// discovery) without any platform dependency.
type LoopbackLink struct {
	log *zap.Logger

	sendPool *Pool
	recvPool *Pool

	mu     sync.Mutex
	peer   *LoopbackLink
	recvQ  chan *FrameBuffer
	closed bool

	adapterID string
	frameSize int
	numFrames int
}

var _ Link = (*LoopbackLink)(nil)

// NewLoopbackLinkPair builds two linked LoopbackLinks: frames sent on a
// arrive on b's receive side and vice versa.
func NewLoopbackLinkPair(idA, idB string, numFrames, frameSize int, log *zap.Logger) (*LoopbackLink, *LoopbackLink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sendPoolA, err := NewPool(numFrames, frameSize, 0, log)
	if err != nil {
		return nil, nil, err
	}
	sendPoolB, err := NewPool(numFrames, frameSize, 0, log)
	if err != nil {
		return nil, nil, err
	}
	recvPoolA, err := NewPool(numFrames, frameSize, 0, log)
	if err != nil {
		return nil, nil, err
	}
	recvPoolB, err := NewPool(numFrames, frameSize, 0, log)
	if err != nil {
		return nil, nil, err
	}

	a := &LoopbackLink{
		log:      log.With(zap.String("component", "loopback_link"), zap.String("adapter", idA)),
		sendPool: sendPoolA, recvPool: recvPoolA,
		recvQ: make(chan *FrameBuffer, numFrames), adapterID: idA,
		frameSize: frameSize, numFrames: numFrames,
	}
	b := &LoopbackLink{
		log:      log.With(zap.String("component", "loopback_link"), zap.String("adapter", idB)),
		sendPool: sendPoolB, recvPool: recvPoolB,
		recvQ: make(chan *FrameBuffer, numFrames), adapterID: idB,
		frameSize: frameSize, numFrames: numFrames,
	}
	a.peer, b.peer = b, a
	return a, b, nil
}

func (l *LoopbackLink) NumRecvFrames() int { return l.numFrames }
func (l *LoopbackLink) NumSendFrames() int { return l.numFrames }
func (l *LoopbackLink) RecvFrameSize() int { return l.frameSize }
func (l *LoopbackLink) SendFrameSize() int { return l.frameSize }
func (l *LoopbackLink) AdapterID() string  { return l.adapterID }

func (l *LoopbackLink) GetSendBuff(timeout time.Duration) (*FrameBuffer, error) {
	return l.sendPool.AcquireWait(timeout)
}

// ReleaseSendBuff copies the buffer's active region into a fresh buffer
// drawn from the peer's receive pool and enqueues it on the peer's receive
// queue, then returns the sender's buffer to its own send pool.
func (l *LoopbackLink) ReleaseSendBuff(buff *FrameBuffer) error {
	l.mu.Lock()
	closed := l.closed
	peer := l.peer
	l.mu.Unlock()
	if closed {
		return chdrerr.New(chdrerr.Transport, chdrerr.CodeLinkTxFailed, "loopback link is closed")
	}

	peerBuf, err := peer.recvPool.AcquireWait(TryOnce)
	if err != nil {
		return chdrerr.Wrap(chdrerr.Transport, chdrerr.CodeLinkTxFailed, err)
	}
	n := buff.PacketSize()
	copy(peerBuf.data, buff.Data()[:n])
	_ = peerBuf.SetPacketSize(n)

	select {
	case peer.recvQ <- peerBuf:
	default:
		_ = peer.recvPool.Release(peerBuf)
		return chdrerr.New(chdrerr.Transport, chdrerr.CodeLinkTxFailed, "peer receive queue full")
	}
	return l.sendPool.Release(buff)
}

func (l *LoopbackLink) GetRecvBuff(timeout time.Duration) (*FrameBuffer, error) {
	if timeout < 0 {
		b, ok := <-l.recvQ
		if !ok {
			return nil, nil
		}
		return b, nil
	}
	if timeout == 0 {
		select {
		case b, ok := <-l.recvQ:
			if !ok {
				return nil, nil
			}
			return b, nil
		default:
			return nil, nil
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b, ok := <-l.recvQ:
		if !ok {
			return nil, nil
		}
		return b, nil
	case <-timer.C:
		return nil, nil
	}
}

func (l *LoopbackLink) ReleaseRecvBuff(buff *FrameBuffer) error {
	return l.recvPool.Release(buff)
}

func (l *LoopbackLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.recvQ)
	return nil
}

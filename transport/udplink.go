package transport

import (
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/ettus-go/rfnoc-chdr/chdrerr"
)

// UDPLink is the Ethernet/UDP transport variant: CHDR frames travel
// big-endian, one UDP datagram per frame, with a fixed destination learned
// at construction (RFNoC endpoints use one socket per stream, not a
// listen-and-demux model).
type UDPLink struct {
	log *zap.Logger

	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	dstAddr *net.UDPAddr

	sendPool *Pool
	recvPool *Pool

	recvFrameSize int
	sendFrameSize int
	numFrames     int

	adapterID string
}

var _ Link = (*UDPLink)(nil)

// UDPLinkParams configures a UDPLink's local bind, remote peer, and buffer
// pool geometry.
type UDPLinkParams struct {
	LocalAddr  string
	RemoteAddr string
	NumFrames  int
	FrameSize  int
	// DSCP sets the IPv4 differentiated-services code point (traffic
	// class) on outgoing datagrams, used to keep CHDR traffic out of a
	// congested best-effort queue on shared fabric.
	DSCP int
}

// NewUDPLink binds a UDP socket and resolves the remote peer. Frame
// buffers reserve no header offset: the kernel handles UDP/IP/Ethernet
// encapsulation, so a buffer's Data() begins directly at the CHDR header.
func NewUDPLink(p UDPLinkParams, log *zap.Logger) (*UDPLink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if p.NumFrames <= 0 || p.FrameSize <= 0 {
		return nil, chdrerr.New(chdrerr.Config, "UDP_BAD_PARAMS", "invalid UDP link buffer geometry")
	}

	localAddr, err := net.ResolveUDPAddr("udp4", p.LocalAddr)
	if err != nil {
		return nil, chdrerr.Wrap(chdrerr.Config, "UDP_RESOLVE_LOCAL", err)
	}
	remoteAddr, err := net.ResolveUDPAddr("udp4", p.RemoteAddr)
	if err != nil {
		return nil, chdrerr.Wrap(chdrerr.Config, "UDP_RESOLVE_REMOTE", err)
	}

	conn, err := net.ListenUDP("udp4", localAddr)
	if err != nil {
		return nil, chdrerr.Wrap(chdrerr.Transport, "UDP_LISTEN", err)
	}

	pconn := ipv4.NewPacketConn(conn)
	if p.DSCP != 0 {
		if err := pconn.SetTOS(p.DSCP << 2); err != nil {
			conn.Close()
			return nil, chdrerr.Wrap(chdrerr.Config, "UDP_SET_TOS", err)
		}
	}
	if rc, err := conn.SyscallConn(); err == nil {
		_ = rc.Control(func(fd uintptr) {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, p.NumFrames*p.FrameSize)
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, p.NumFrames*p.FrameSize)
		})
	}

	sendPool, err := NewPool(p.NumFrames, p.FrameSize, 0, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	recvPool, err := NewPool(p.NumFrames, p.FrameSize, 0, log)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &UDPLink{
		log:           log.With(zap.String("component", "udp_link"), zap.String("remote", p.RemoteAddr)),
		conn:          conn,
		pconn:         pconn,
		dstAddr:       remoteAddr,
		sendPool:      sendPool,
		recvPool:      recvPool,
		recvFrameSize: p.FrameSize,
		sendFrameSize: p.FrameSize,
		numFrames:     p.NumFrames,
		adapterID:     p.LocalAddr,
	}, nil
}

func (l *UDPLink) NumRecvFrames() int { return l.numFrames }
func (l *UDPLink) NumSendFrames() int { return l.numFrames }
func (l *UDPLink) RecvFrameSize() int { return l.recvFrameSize }
func (l *UDPLink) SendFrameSize() int { return l.sendFrameSize }
func (l *UDPLink) AdapterID() string  { return l.adapterID }

func (l *UDPLink) GetSendBuff(timeout time.Duration) (*FrameBuffer, error) {
	return l.sendPool.AcquireWait(timeout)
}

func (l *UDPLink) ReleaseSendBuff(buff *FrameBuffer) error {
	_, err := l.conn.WriteToUDP(buff.Data(), l.dstAddr)
	if err != nil {
		l.log.Warn("udp send failed", zap.Error(err))
		_ = l.sendPool.Release(buff)
		return chdrerr.Wrap(chdrerr.Transport, chdrerr.CodeLinkTxFailed, err)
	}
	return l.sendPool.Release(buff)
}

func (l *UDPLink) GetRecvBuff(timeout time.Duration) (*FrameBuffer, error) {
	buf, err := l.recvPool.AcquireWait(TryOnce)
	if err != nil {
		return nil, nil
	}

	if timeout < 0 {
		_ = l.conn.SetReadDeadline(time.Time{})
	} else {
		_ = l.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	n, _, err := l.conn.ReadFromUDP(buf.Raw())
	if err != nil {
		_ = l.recvPool.Release(buf)
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil
		}
		return nil, chdrerr.Wrap(chdrerr.Transport, "UDP_RECV_FAILED", err)
	}
	if err := buf.SetPacketSize(n); err != nil {
		_ = l.recvPool.Release(buf)
		return nil, err
	}
	return buf, nil
}

func (l *UDPLink) ReleaseRecvBuff(buff *FrameBuffer) error {
	return l.recvPool.Release(buff)
}

func (l *UDPLink) Close() error {
	return l.conn.Close()
}

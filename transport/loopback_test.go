package transport_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ettus-go/rfnoc-chdr/transport"
)

func TestLoopbackLinkSendRecvRoundTrip(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("a", "b", 4, 256, nil)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	sendBuf, err := a.GetSendBuff(transport.TryOnce)
	require.NoError(t, err)
	msg := []byte("hello chdr")
	n := copy(sendBuf.Data()[:cap(sendBuf.Data())], msg)
	require.NoError(t, sendBuf.SetPacketSize(n))
	require.NoError(t, a.ReleaseSendBuff(sendBuf))

	recvBuf, err := b.GetRecvBuff(time.Second)
	require.NoError(t, err)
	require.NotNil(t, recvBuf)
	assert.Equal(t, msg, recvBuf.Data())
	require.NoError(t, b.ReleaseRecvBuff(recvBuf))
}

func TestLoopbackLinkRecvTimesOutWhenEmpty(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("a", "b", 2, 64, nil)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	start := time.Now()
	buf, err := a.GetRecvBuff(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, buf)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLoopbackLinkCloseStopsSends(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("a", "b", 2, 64, nil)
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, a.Close())

	sendBuf, err := a.GetSendBuff(transport.TryOnce)
	require.NoError(t, err)
	require.NoError(t, sendBuf.SetPacketSize(4))
	err = a.ReleaseSendBuff(sendBuf)
	require.Error(t, err)
}

func TestLoopbackLinkAdapterID(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("nic0", "nic1", 2, 64, nil)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()
	assert.Equal(t, "nic0", a.AdapterID())
	assert.Equal(t, "nic1", b.AdapterID())
}

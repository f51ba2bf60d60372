package ioservice_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ettus-go/rfnoc-chdr/ioservice"
	"github.com/ettus-go/rfnoc-chdr/transport"
)

func TestInlineIOServiceSendRecvRoundTrip(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("a", "b", 4, 256, nil)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	svc := ioservice.NewInlineIOService(2, nil)
	ha, err := svc.AttachLink(a)
	require.NoError(t, err)
	hb, err := svc.AttachLink(b)
	require.NoError(t, err)

	require.NoError(t, svc.Send(ha, []byte("ping"), transport.TryOnce))

	data, err := svc.Recv(hb, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), data)
}

func TestInlineIOServiceDetachInvalidatesHandle(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("a", "b", 2, 64, nil)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	svc := ioservice.NewInlineIOService(2, nil)
	ha, err := svc.AttachLink(a)
	require.NoError(t, err)
	require.NoError(t, svc.DetachLink(ha))

	err = svc.Send(ha, []byte("x"), transport.TryOnce)
	require.Error(t, err)
}

func TestInlineIOServiceNoFreeSlots(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("a", "b", 2, 64, nil)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	svc := ioservice.NewInlineIOService(1, nil)
	_, err = svc.AttachLink(a)
	require.NoError(t, err)

	_, err = svc.AttachLink(b)
	require.Error(t, err)
}

func TestOffloadIOServiceSendRecvRoundTrip(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("a", "b", 4, 256, nil)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	svc := ioservice.NewOffloadIOService(2, 8, nil)
	defer svc.Close()

	ha, err := svc.AttachLink(a)
	require.NoError(t, err)
	hb, err := svc.AttachLink(b)
	require.NoError(t, err)

	require.NoError(t, svc.Send(ha, []byte("offloaded"), transport.TryOnce))

	var data []byte
	require.Eventually(t, func() bool {
		data, err = svc.Recv(hb, 10*time.Millisecond)
		return err == nil && data != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("offloaded"), data)
}

func TestOffloadIOServiceCloseStopsWorker(t *testing.T) {
	a, b, err := transport.NewLoopbackLinkPair("a", "b", 2, 64, nil)
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	svc := ioservice.NewOffloadIOService(2, 4, nil)
	ha, err := svc.AttachLink(a)
	require.NoError(t, err)

	require.NoError(t, svc.Close())

	err = svc.Send(ha, []byte("x"), transport.TryOnce)
	require.Error(t, err)
}

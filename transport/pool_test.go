package transport_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ettus-go/rfnoc-chdr/chdrerr"
	"github.com/ettus-go/rfnoc-chdr/transport"
)

func TestPoolAcquireReleaseRoundTrip(t *testing.T) {
	p, err := transport.NewPool(4, 256, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Size())
	assert.Equal(t, 4, p.Free())

	b, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 3, p.Free())

	require.NoError(t, p.Release(b))
	assert.Equal(t, 4, p.Free())
}

func TestPoolAcquireEmptyReturnsPoolEmpty(t *testing.T) {
	p, err := transport.NewPool(1, 64, 0, nil)
	require.NoError(t, err)

	_, err = p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	require.Error(t, err)
	assert.True(t, chdrerr.Is(err, chdrerr.Resource))
}

func TestPoolAcquireWaitTryOnce(t *testing.T) {
	p, err := transport.NewPool(1, 64, 0, nil)
	require.NoError(t, err)
	_, err = p.Acquire()
	require.NoError(t, err)

	_, err = p.AcquireWait(transport.TryOnce)
	require.Error(t, err)
}

func TestPoolAcquireWaitTimesOutWhenEmpty(t *testing.T) {
	p, err := transport.NewPool(1, 64, 0, nil)
	require.NoError(t, err)
	_, err = p.Acquire()
	require.NoError(t, err)

	start := time.Now()
	_, err = p.AcquireWait(20 * time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPoolAcquireWaitUnblocksOnRelease(t *testing.T) {
	p, err := transport.NewPool(1, 64, 0, nil)
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := p.AcquireWait(transport.Indefinite)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Release(b))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AcquireWait did not unblock after release")
	}
}

func TestPoolReleaseNilIsError(t *testing.T) {
	p, err := transport.NewPool(1, 64, 0, nil)
	require.NoError(t, err)
	err = p.Release(nil)
	require.Error(t, err)
}

func TestPoolReleaseBeyondCapacityIsOverreleaseError(t *testing.T) {
	p, err := transport.NewPool(1, 64, 0, nil)
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.Release(b))

	err = p.Release(b)
	require.Error(t, err)
}

func TestNewPoolRejectsBadDimensions(t *testing.T) {
	_, err := transport.NewPool(0, 64, 0, nil)
	require.Error(t, err)

	_, err = transport.NewPool(1, 64, 64, nil)
	require.Error(t, err)
}

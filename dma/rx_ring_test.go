package dma_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/slackhq/ethdma/dma"
	"github.com/slackhq/ethdma/dma/dmasim"
	"github.com/slackhq/ethdma/ptp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, cfg dma.Config, opts ...dmasim.Option) (*dma.Engine, *dmasim.Peripheral) {
	t.Helper()
	mem := dma.NewMemory(0x2000_0000, cfg.MemorySize())
	sim := dmasim.New(mem, opts...)
	e, err := dma.New(sim.DMA, mem, cfg)
	require.NoError(t, err)
	e.Start()
	return e, sim
}

func testFrame(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestRxRing_InitialState(t *testing.T) {
	cfg := dma.DefaultConfig()
	cfg.RxRingLen = 4
	e, _ := newTestEngine(t, cfg)
	rx := e.Rx()

	assert.Equal(t, 4, rx.Len())
	for i := range rx.Len() {
		s := rx.Slot(i)
		assert.True(t, s.DMAOwned, "slot %d", i)
		assert.Zero(t, s.Length, "slot %d", i)
		assert.EqualValues(t, cfg.BufferSize, s.Control&dma.RxBufferSizeMask)
		assert.Equal(t, i == 3, s.Control&dma.RxEndOfRing != 0, "slot %d", i)
	}
}

func TestRxRing_NextWouldBlock(t *testing.T) {
	e, sim := newTestEngine(t, dma.DefaultConfig())
	rx := e.Rx()

	for range 3 {
		f, err := rx.Next()
		assert.Nil(t, f)
		assert.ErrorIs(t, err, dma.ErrWouldBlock)
	}
	assert.True(t, rx.Slot(0).DMAOwned)

	// No cursor moved, the first frame still lands in slot 0.
	require.NoError(t, sim.Receive(testFrame(60, 1)))
	f, err := rx.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, f.Index())
	require.NoError(t, f.Release())
}

func TestRxRing_FIFO(t *testing.T) {
	cfg := dma.DefaultConfig()
	cfg.RxRingLen = 4
	e, sim := newTestEngine(t, cfg)
	rx := e.Rx()

	// Wrap around the ring twice.
	var pending [][]byte
	for i := range 10 {
		frame := testFrame(60+i, byte(i*16))
		require.NoError(t, sim.Receive(frame))
		pending = append(pending, frame)

		if i%3 != 2 {
			continue
		}
		for _, want := range pending {
			f, err := rx.Next()
			require.NoError(t, err)
			assert.Equal(t, want, f.Bytes())
			require.NoError(t, f.Release())
		}
		pending = nil
	}
	for _, want := range pending {
		f, err := rx.Next()
		require.NoError(t, err)
		assert.Equal(t, want, f.Bytes())
		require.NoError(t, f.Release())
	}

	_, err := rx.Next()
	assert.ErrorIs(t, err, dma.ErrWouldBlock)
}

func TestRxFrame_Release(t *testing.T) {
	e, sim := newTestEngine(t, dma.DefaultConfig())
	rx := e.Rx()

	require.NoError(t, sim.Receive(testFrame(42, 0), dmasim.WithTimestamp(ptp.FromDuration(time.Second))))
	f, err := rx.Next()
	require.NoError(t, err)
	assert.Equal(t, 42, f.Len())
	assert.False(t, rx.Slot(0).DMAOwned)

	_, err = rx.Next()
	assert.ErrorIs(t, err, dma.ErrHandleOutstanding)

	require.NoError(t, f.Release())
	s := rx.Slot(0)
	assert.True(t, s.DMAOwned)
	assert.EqualValues(t, dma.RxOwn, s.Status)
	assert.Zero(t, s.Length)
	assert.Nil(t, f.Bytes())

	// A second release leaves the ring alone.
	require.NoError(t, sim.Receive(testFrame(50, 1)))
	assert.ErrorIs(t, f.Release(), dma.ErrHandleReleased)
	assert.False(t, rx.Slot(1).DMAOwned)

	f2, err := rx.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, f2.Index())
	assert.ErrorIs(t, f.Release(), dma.ErrHandleReleased)
	require.NoError(t, f2.Release())
}

func TestRxRing_ErrorFrameDropped(t *testing.T) {
	e, sim := newTestEngine(t, dma.DefaultConfig())
	rx := e.Rx()

	require.NoError(t, sim.Receive(testFrame(64, 0), dmasim.WithError()))
	require.NoError(t, sim.Receive(testFrame(64, 1)))

	f, err := rx.Next()
	assert.Nil(t, f)
	require.ErrorIs(t, err, dma.ErrMalformedFrame)
	var mfe *dma.MalformedFrameError
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, 0, mfe.Index)
	assert.Equal(t, 64, mfe.Length)
	assert.EqualValues(t, 1, rx.Dropped())

	// The slot went straight back to the DMA engine.
	assert.True(t, rx.Slot(0).DMAOwned)
	assert.Zero(t, rx.Slot(0).Length)

	f, err = rx.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, f.Index())
	assert.Equal(t, testFrame(64, 1), f.Bytes())
	require.NoError(t, f.Release())
}

func TestRxRing_ImplausibleLength(t *testing.T) {
	cfg := dma.DefaultConfig()
	e, sim := newTestEngine(t, cfg)
	rx := e.Rx()

	require.NoError(t, sim.Receive(testFrame(64, 0), dmasim.WithLength(cfg.BufferSize+4)))
	require.NoError(t, sim.Receive(testFrame(64, 0), dmasim.WithLength(0)))
	_, err := rx.Next()
	require.ErrorIs(t, err, dma.ErrMalformedFrame)
	assert.Contains(t, err.Error(), "length exceeds buffer")

	// WithLength(0) keeps the real length.
	f, err := rx.Next()
	require.NoError(t, err)
	assert.Equal(t, 64, f.Len())
	require.NoError(t, f.Release())
}

func TestRxRing_FrameSpanningDescriptors(t *testing.T) {
	cfg := dma.DefaultConfig()
	cfg.BufferSize = 512
	cfg.MaxFrameLen = 512
	e, sim := newTestEngine(t, cfg)
	rx := e.Rx()

	require.NoError(t, sim.Receive(testFrame(1000, 0)))
	require.NoError(t, sim.Receive(testFrame(100, 7)))

	for range 2 {
		_, err := rx.Next()
		require.ErrorIs(t, err, dma.ErrMalformedFrame)
	}
	assert.EqualValues(t, 2, rx.Dropped())

	f, err := rx.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, f.Index())
	assert.True(t, bytes.Equal(testFrame(100, 7), f.Bytes()))
	require.NoError(t, f.Release())
}

func TestRxRing_Timestamps(t *testing.T) {
	e, sim := newTestEngine(t, dma.DefaultConfig())
	rx := e.Rx()

	ts := ptp.FromDuration(12*time.Second + 500*time.Millisecond)
	require.NoError(t, sim.Receive(testFrame(42, 0), dmasim.WithTimestamp(ts)))
	require.NoError(t, sim.Receive(testFrame(42, 1), dmasim.WithoutTimestamp()))

	f, err := rx.Next()
	require.NoError(t, err)
	got, ok := f.Timestamp()
	assert.True(t, ok)
	assert.Equal(t, ts, got)
	require.NoError(t, f.Release())

	f, err = rx.Next()
	require.NoError(t, err)
	got, ok = f.Timestamp()
	assert.False(t, ok)
	assert.Zero(t, got)
	require.NoError(t, f.Release())
}

func TestRxRing_TimestampsFromClock(t *testing.T) {
	cfg := dma.DefaultConfig()
	cfg.Rollover = ptp.RolloverDigital
	e, sim := newTestEngine(t, cfg)
	rx := e.Rx()

	_, err := ptp.NewClock(sim.PTP, ptp.ClockConfig{HCLK: 50_000_000, Rollover: ptp.RolloverDigital})
	require.NoError(t, err)
	sim.Advance(3*time.Second + 250*time.Nanosecond)

	require.NoError(t, sim.Receive(testFrame(60, 0)))
	f, err := rx.Next()
	require.NoError(t, err)
	got, ok := f.Timestamp()
	require.True(t, ok)
	assert.Equal(t, 3*time.Second+250*time.Nanosecond, got.Duration())
	require.NoError(t, f.Release())
}

func TestRxRing_BasicDescriptorsHaveNoTimestamp(t *testing.T) {
	cfg := dma.DefaultConfig()
	cfg.Extended = false
	e, sim := newTestEngine(t, cfg)
	rx := e.Rx()

	require.NoError(t, sim.Receive(testFrame(42, 0), dmasim.WithTimestamp(ptp.FromDuration(time.Second))))
	f, err := rx.Next()
	require.NoError(t, err)
	_, ok := f.Timestamp()
	assert.False(t, ok)
	require.NoError(t, f.Release())
}

func TestRxRing_Overrun(t *testing.T) {
	cfg := dma.DefaultConfig()
	cfg.RxRingLen = 2
	e, sim := newTestEngine(t, cfg)
	rx := e.Rx()

	require.NoError(t, sim.Receive(testFrame(60, 0)))
	require.NoError(t, sim.Receive(testFrame(60, 1)))
	require.ErrorIs(t, sim.Receive(testFrame(60, 2)), dmasim.ErrNoDescriptor)
	assert.EqualValues(t, 1, sim.Missed())
	assert.True(t, rx.Running())

	for i := range 2 {
		f, err := rx.Next()
		require.NoError(t, err)
		assert.Equal(t, testFrame(60, byte(i)), f.Bytes())
		require.NoError(t, f.Release())
	}
	require.NoError(t, sim.Receive(testFrame(60, 3)))
	f, err := rx.Next()
	require.NoError(t, err)
	assert.Equal(t, 0, f.Index())
	require.NoError(t, f.Release())
}

package dmasim_test

import (
	"testing"
	"time"

	"github.com/slackhq/ethdma/dma"
	"github.com/slackhq/ethdma/dma/dmasim"
	"github.com/slackhq/ethdma/mac"
	"github.com/slackhq/ethdma/ptp"
	"github.com/slackhq/ethdma/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStarted(t *testing.T, cfg dma.Config, opts ...dmasim.Option) (*dma.Engine, *dmasim.Peripheral) {
	t.Helper()
	mem := dma.NewMemory(0x2000_0000, cfg.MemorySize())
	sim := dmasim.New(mem, opts...)
	e, err := dma.New(sim.DMA, mem, cfg)
	require.NoError(t, err)
	e.Start()
	return e, sim
}

func TestPeripheral_ReceiveStopped(t *testing.T) {
	cfg := dma.DefaultConfig()
	mem := dma.NewMemory(0x2000_0000, cfg.MemorySize())
	sim := dmasim.New(mem)
	_, err := dma.New(sim.DMA, mem, cfg)
	require.NoError(t, err)

	assert.ErrorIs(t, sim.Receive(make([]byte, 64)), dmasim.ErrRxStopped)
	assert.Zero(t, sim.Received())
}

func TestPeripheral_Missed(t *testing.T) {
	cfg := dma.DefaultConfig()
	cfg.RxRingLen = 2
	e, sim := newStarted(t, cfg)

	require.NoError(t, sim.Receive(make([]byte, 64)))
	require.NoError(t, sim.Receive(make([]byte, 64)))
	assert.ErrorIs(t, sim.Receive(make([]byte, 64)), dmasim.ErrNoDescriptor)
	assert.EqualValues(t, 1, sim.Missed())
	assert.EqualValues(t, 1, sim.DMA.Peek(dma.RegMissedFrames))
	assert.False(t, e.Rx().Running(), "receive process is suspended")

	irq, err := e.HandleInterrupt()
	require.NoError(t, err)
	assert.True(t, irq.Has(dma.InterruptRxUnavailable))
	assert.True(t, irq.Has(dma.InterruptReceived))
	assert.Zero(t, sim.DMA.Peek(dma.RegStatus)&0x1ffff, "interrupt bits are cleared by writing ones")

	f, err := e.Rx().Next()
	require.NoError(t, err)
	require.NoError(t, f.Release())
	assert.True(t, e.Rx().Running(), "releasing a slot resumes the receive process")
}

func TestPeripheral_SpanningFrame(t *testing.T) {
	cfg := dma.DefaultConfig()
	cfg.BufferSize = 64
	cfg.MaxFrameLen = 64
	e, sim := newStarted(t, cfg)

	require.NoError(t, sim.Receive(make([]byte, 100)))
	assert.True(t, e.Rx().Slot(0).Status&dma.RxFirst != 0)
	assert.True(t, e.Rx().Slot(0).Status&dma.RxLast == 0)
	assert.True(t, e.Rx().Slot(1).Status&dma.RxLast != 0)
	assert.Equal(t, 100, e.Rx().Slot(1).Length)
}

func TestPeripheral_SoftReset(t *testing.T) {
	_, sim := newStarted(t, dma.DefaultConfig())
	require.NotZero(t, sim.DMA.Peek(dma.RegRxDescList))

	sim.DMA.Store(dma.RegBusMode, dma.BusModeSoftReset)
	for off := uint32(0); off < dma.BlockSize; off += 4 {
		assert.Zero(t, sim.DMA.Peek(off), "register %#x", off)
	}
}

func TestConnect(t *testing.T) {
	a, simA := newStarted(t, dma.DefaultConfig(), dmasim.WithAutoComplete())
	b, simB := newStarted(t, dma.DefaultConfig(), dmasim.WithAutoComplete())
	dmasim.Connect(simA, simB)

	frame := []byte("hello from a, padded to a reasonable length for ethernet......")
	_, err := a.Tx().Send(len(frame), func(buf []byte) { copy(buf, frame) })
	require.NoError(t, err)

	f, err := b.Rx().Next()
	require.NoError(t, err)
	test.AssertCopy(t, frame, f.Bytes())
	require.NoError(t, f.Release())

	_, err = b.Tx().Send(len(frame), func(buf []byte) { copy(buf, frame) })
	require.NoError(t, err)
	f, err = a.Rx().Next()
	require.NoError(t, err)
	require.NoError(t, f.Release())

	assert.Empty(t, simA.Sent(), "forwarded frames are not kept")
	assert.EqualValues(t, 1, simA.Transmitted())
	assert.EqualValues(t, 1, simB.Received())
}

func TestPeripheral_Clock(t *testing.T) {
	mem := dma.NewMemory(0x2000_0000, 4096)
	sim := dmasim.New(mem)

	c, err := ptp.NewClock(sim.PTP, ptp.ClockConfig{HCLK: 50_000_000, Rollover: ptp.RolloverDigital, Fine: true})
	require.NoError(t, err)
	assert.Zero(t, sim.PTP.Peek(ptp.RegControl)&(ptp.ControlInit|ptp.ControlAddendUpdate), "trigger bits clear")

	sim.Advance(3 * time.Second)
	now, err := c.Now()
	require.NoError(t, err)
	assert.Equal(t, ptp.Timestamp(3*time.Second), now)

	require.NoError(t, c.Step(-ptp.Timestamp(time.Second)))
	assert.Equal(t, ptp.Timestamp(2*time.Second), sim.Now())

	require.NoError(t, c.SetTime(ptp.Timestamp(10*time.Second)))
	assert.Equal(t, ptp.Timestamp(10*time.Second), sim.Now())
}

func TestPeripheral_Phy(t *testing.T) {
	mem := dma.NewMemory(0x2000_0000, 4096)
	sim := dmasim.New(mem, dmasim.WithPhyAddr(2))
	mii := mac.NewMII(sim.MAC)

	v, err := mii.ReadReg(2, mac.PhyID1)
	require.NoError(t, err)
	assert.EqualValues(t, 0x0007, v)

	v, err = mii.ReadReg(5, mac.PhyID1)
	require.NoError(t, err)
	assert.EqualValues(t, 0xffff, v, "nobody answers at another address")

	phy := mac.NewBarePhy(mii, 2)
	up, err := phy.LinkUp()
	require.NoError(t, err)
	assert.False(t, up)

	sim.SetLink(true, mac.Speed100M, mac.FullDuplex)
	status, err := phy.Status()
	require.NoError(t, err)
	assert.Equal(t, mac.LinkStatus{Speed: mac.Speed100M, Duplex: mac.FullDuplex, AutoNegotiated: true}, status)

	sim.SetLink(false, 0, 0)
	_, err = phy.Status()
	assert.ErrorIs(t, err, mac.ErrLinkDown)
}

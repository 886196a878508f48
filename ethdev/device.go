package ethdev

import (
	"errors"
	"fmt"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/ethdma/dma"
	"github.com/slackhq/ethdma/mac"
	"github.com/slackhq/ethdma/ptp"
	"github.com/slackhq/ethdma/regs"
)

const (
	// EthernetHeaderLen is the length of an untagged Ethernet header.
	EthernetHeaderLen = 14
	// DefaultMTU is the largest payload of an untagged frame.
	DefaultMTU = 1500
)

// ErrTokenConsumed is returned when a token is consumed a second time.
var ErrTokenConsumed = errors.New("token already consumed")

// Hardware is what the per-chip layer supplies: the register blocks of the
// peripheral and memory the DMA engine can reach.
type Hardware struct {
	DMA    regs.Bus
	MAC    regs.Bus
	PTP    regs.Bus
	Memory dma.BufferProvider
}

// Config is the fixed configuration of a [Device].
type Config struct {
	DMA dma.Config
	// Address is the station address.
	Address mac.Addr
	// Filtering defaults to filtering on Address.
	Filtering mac.FrameFilteringMode
	// Speed and Duplex are used when there is no PHY to ask.
	Speed  mac.Speed
	Duplex mac.Duplex
	// MTU is the largest payload, defaults to DefaultMTU.
	MTU int
	// Phy enables link detection through the PHY at PhyAddr.
	Phy     bool
	PhyAddr uint8
	// Clock enables the time stamp clock.
	Clock *ptp.ClockConfig
	// Metrics is the registry the counters live in, defaults to
	// metrics.DefaultRegistry.
	Metrics metrics.Registry
}

// Capabilities describes the device to a network stack.
type Capabilities struct {
	// MTU is the largest payload of a frame.
	MTU int
	// MaxFrameLen is the largest frame, header included.
	MaxFrameLen int
	// Medium is always "ethernet".
	Medium string
	// MaxBurstSize is the number of frames the device takes at once.
	MaxBurstSize int
	// Timestamping is set when frames carry hardware timestamps.
	Timestamping bool
}

// Device is an Ethernet device over one peripheral.
//
// Receiving and transmitting may run on different goroutines, but each
// direction must have a single owner. [Device.HandleInterrupt] may run on
// any goroutine.
type Device struct {
	l      *logrus.Logger
	engine *dma.Engine
	rx     *dma.RxRing
	tx     *dma.TxRing
	mac    *mac.MAC
	phy    mac.Phy
	clock  *ptp.Clock
	mtu    int

	rxEvents chan struct{}
	txEvents chan struct{}

	metrics *deviceMetrics
}

// New validates cfg, then programs the peripheral and starts the DMA engine.
// Nothing is written to the hardware when cfg is invalid.
func New(l *logrus.Logger, hw Hardware, cfg Config) (*Device, error) {
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.Filtering == nil {
		cfg.Filtering = mac.FilterDestinations(cfg.Address)
	}
	if cfg.Clock != nil {
		// Descriptor timestamps use the format of the clock that wrote them.
		cfg.DMA.Rollover = cfg.Clock.Rollover
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	// The rings are allocated first so a short BufferProvider fails before
	// the MAC is touched.
	engine, err := dma.New(hw.DMA, hw.Memory, cfg.DMA)
	if err != nil {
		return nil, fmt.Errorf("failed to set up the dma rings: %w", err)
	}

	m := mac.New(hw.MAC)
	if err := m.Configure(cfg.Filtering); err != nil {
		return nil, fmt.Errorf("failed to configure frame filtering: %w", err)
	}
	m.SetAddr(cfg.Address)

	d := &Device{
		l:        l,
		mac:      m,
		mtu:      cfg.MTU,
		rxEvents: make(chan struct{}, 1),
		txEvents: make(chan struct{}, 1),
		engine:   engine,
		rx:       engine.Rx(),
		tx:       engine.Tx(),
		metrics:  newDeviceMetrics(cfg.Metrics),
	}

	speed, duplex := cfg.Speed, cfg.Duplex
	if cfg.Phy {
		phy := mac.NewBarePhy(m.MII(), cfg.PhyAddr)
		d.phy = phy
		if status, err := phy.Status(); err == nil {
			speed, duplex = status.Speed, status.Duplex
		} else {
			l.WithError(err).WithField("phyAddr", cfg.PhyAddr).Info("Link is not up yet, using the configured speed")
		}
	}
	m.SetSpeed(speed, duplex)

	if cfg.Clock != nil {
		d.clock, err = ptp.NewClock(hw.PTP, *cfg.Clock)
		if err != nil {
			return nil, fmt.Errorf("failed to set up the time stamp clock: %w", err)
		}
	}

	m.Enable()
	engine.Start()

	l.WithFields(logrus.Fields{
		"address":     cfg.Address,
		"rxRingLen":   cfg.DMA.RxRingLen,
		"txRingLen":   cfg.DMA.TxRingLen,
		"bufferSize":  cfg.DMA.BufferSize,
		"extended":    cfg.DMA.Extended,
		"speed":       speed,
		"duplex":      duplex,
		"timestamped": d.clock != nil,
	}).Info("Ethernet device started")

	return d, nil
}

func validate(cfg Config) error {
	if err := cfg.DMA.Validate(); err != nil {
		return err
	}
	if cfg.MTU < 0 || cfg.MTU+EthernetHeaderLen > cfg.DMA.MaxFrameLen {
		return fmt.Errorf("%w: mtu %d does not fit a frame of %d bytes", dma.ErrInvalidConfig, cfg.MTU, cfg.DMA.MaxFrameLen)
	}
	if cfg.Phy && cfg.PhyAddr > mac.MaxPhyAddr {
		return fmt.Errorf("%w: phy address %d is above %d", dma.ErrInvalidConfig, cfg.PhyAddr, mac.MaxPhyAddr)
	}
	if f, ok := cfg.Filtering.(mac.FrameFiltering); ok {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	if cfg.Clock != nil {
		if err := cfg.Clock.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Capabilities describes the device.
func (d *Device) Capabilities() Capabilities {
	return Capabilities{
		MTU:          d.mtu,
		MaxFrameLen:  d.tx.MaxFrameLen(),
		Medium:       "ethernet",
		MaxBurstSize: 1,
		Timestamping: d.clock != nil && d.engine.Config().Extended,
	}
}

// MTU returns the largest payload of a frame.
func (d *Device) MTU() int {
	return d.mtu
}

// HardwareAddr returns the station address.
func (d *Device) HardwareAddr() mac.Addr {
	return d.mac.Addr()
}

// MAC returns the MAC of the device.
func (d *Device) MAC() *mac.MAC {
	return d.mac
}

// Clock returns the time stamp clock, nil when it is not enabled.
func (d *Device) Clock() *ptp.Clock {
	return d.clock
}

// Engine returns the DMA engine.
func (d *Device) Engine() *dma.Engine {
	return d.engine
}

// LinkUp reports whether the link is up. Without a PHY the link is always
// considered up.
func (d *Device) LinkUp() bool {
	if d.phy == nil {
		return true
	}
	up, err := d.phy.LinkUp()
	if err != nil {
		d.l.WithError(err).Warn("Failed to read the link status")
		return false
	}
	return up
}

// LinkStatus returns the negotiated link parameters and applies them to the
// MAC, so it follows a link that came up after the device was created.
func (d *Device) LinkStatus() (mac.LinkStatus, error) {
	if d.phy == nil {
		s, dup := d.mac.Speed()
		return mac.LinkStatus{Speed: s, Duplex: dup}, nil
	}
	status, err := d.phy.Status()
	if err != nil {
		return mac.LinkStatus{}, err
	}
	d.mac.SetSpeed(status.Speed, status.Duplex)
	return status, nil
}

// TryReceive returns a token for the next received frame. It returns false
// when nothing was received. Malformed frames are counted and skipped.
func (d *Device) TryReceive() (*RxToken, bool) {
	for range d.rx.Len() {
		f, err := d.rx.Next()
		switch {
		case err == nil:
			return &RxToken{dev: d, frame: f}, true
		case errors.Is(err, dma.ErrWouldBlock):
			return nil, false
		case errors.Is(err, dma.ErrMalformedFrame):
			d.metrics.rxDropped.Inc(1)
			if d.l.Level >= logrus.DebugLevel {
				d.l.WithError(err).Debug("Dropped malformed frame")
			}
		default:
			d.l.WithError(err).Error("Failed to receive a frame")
			return nil, false
		}
	}
	return nil, false
}

// TryTransmit returns a token for a frame of length bytes. It returns false
// while the transmit ring is full.
func (d *Device) TryTransmit(length int) (*TxToken, bool) {
	b, err := d.tx.Acquire(length)
	switch {
	case err == nil:
		return &TxToken{dev: d, buf: b}, true
	case errors.Is(err, dma.ErrWouldBlock):
		d.metrics.txFull.Inc(1)
	default:
		d.l.WithError(err).WithField("length", length).Error("Failed to get a transmit buffer")
	}
	return nil, false
}

// TxTimestamp returns the time the frame identified by t was sent.
func (d *Device) TxTimestamp(t dma.Ticket) (ptp.Timestamp, bool, error) {
	return d.tx.Timestamp(t)
}

// RxEvents signals that frames may have been received.
func (d *Device) RxEvents() <-chan struct{} {
	return d.rxEvents
}

// TxEvents signals that transmit slots may have been freed.
func (d *Device) TxEvents() <-chan struct{} {
	return d.txEvents
}

// HandleInterrupt acknowledges the DMA interrupt and wakes up whoever waits
// on [Device.RxEvents] or [Device.TxEvents].
func (d *Device) HandleInterrupt() dma.Interrupt {
	irq, err := d.engine.HandleInterrupt()
	if irq == 0 {
		return 0
	}
	d.metrics.interrupts.Inc(1)
	if err != nil {
		d.l.WithError(err).Error("DMA engine reported a fatal error")
	}

	if irq.Has(dma.InterruptReceived) || irq.Has(dma.InterruptRxUnavailable) {
		notify(d.rxEvents)
	}
	if irq.Has(dma.InterruptTransmitted) || irq.Has(dma.InterruptTxUnavailable) {
		notify(d.txEvents)
	}
	return irq
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Stats returns the counters of the device.
func (d *Device) Stats() Stats {
	return d.metrics.snapshot(d.rx)
}

// Close stops the DMA engine and the MAC.
func (d *Device) Close() error {
	d.engine.Stop()
	d.mac.Disable()
	return nil
}

// RxToken gives access to one received frame.
type RxToken struct {
	dev      *Device
	frame    *dma.RxFrame
	consumed bool
}

// Consume calls fn with the frame and its timestamp, then hands the slot
// back to the DMA engine. frame must not be used after fn returns.
func (t *RxToken) Consume(fn func(frame []byte, ts ptp.Timestamp, ok bool) error) error {
	if t.consumed {
		return ErrTokenConsumed
	}
	t.consumed = true

	n := t.frame.Len()
	ts, ok := t.frame.Timestamp()
	err := fn(t.frame.Bytes(), ts, ok)
	if rerr := t.frame.Release(); rerr != nil {
		return errors.Join(err, rerr)
	}

	t.dev.metrics.rxFrames.Inc(1)
	t.dev.metrics.rxBytes.Inc(int64(n))
	return err
}

// Drop hands the slot back without looking at the frame.
func (t *RxToken) Drop() error {
	return t.Consume(func([]byte, ptp.Timestamp, bool) error { return nil })
}

// TxToken gives access to one transmit buffer.
type TxToken struct {
	dev      *Device
	buf      *dma.TxBuffer
	consumed bool
}

// Len returns the length the token was requested for.
func (t *TxToken) Len() int {
	return t.buf.Len()
}

// Consume calls fn to write the frame and commits it to the DMA engine. fn
// returns the length it wrote, which may be shorter than the buffer. When fn
// fails nothing is sent.
func (t *TxToken) Consume(fn func(buf []byte) (int, error)) (dma.Ticket, error) {
	if t.consumed {
		return dma.Ticket{}, ErrTokenConsumed
	}
	t.consumed = true

	n, err := fn(t.buf.Bytes())
	if err == nil && n != t.buf.Len() {
		err = t.buf.SetLen(n)
	}
	if err != nil {
		t.dev.metrics.txDiscarded.Inc(1)
		return dma.Ticket{}, errors.Join(err, t.buf.Discard())
	}

	ticket, err := t.buf.Release()
	if err != nil {
		return dma.Ticket{}, err
	}
	t.dev.metrics.txFrames.Inc(1)
	t.dev.metrics.txBytes.Inc(int64(n))
	return ticket, nil
}

// Drop gives the slot back without sending anything.
func (t *TxToken) Drop() error {
	if t.consumed {
		return ErrTokenConsumed
	}
	t.consumed = true
	t.dev.metrics.txDiscarded.Inc(1)
	return t.buf.Discard()
}

package ethdma

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/ethdma/config"
	"github.com/slackhq/ethdma/ethdev"
	"github.com/slackhq/ethdma/mac"
	"github.com/slackhq/ethdma/ptp"
)

const (
	defaultPktgenSize = 1500
	// pktgenRxBurst bounds the frames received per round so transmission
	// gets its turn.
	pktgenRxBurst = 16
	// pktgenEtherType marks generated frames.
	pktgenEtherType = layers.EthernetType(0x8000)
)

var defaultPktgenDst = mac.Addr{0x00, 0x00, 0xbe, 0xef, 0xde, 0xad}

// PacketGenerator keeps the transmit ring full of fixed frames, drains the
// receive ring and periodically logs the rates of both directions.
type PacketGenerator struct {
	l        *logrus.Logger
	dev      *ethdev.Device
	frame    []byte
	interval time.Duration
	poll     time.Duration

	counters   pktgenCounters
	lastReport time.Time
	linkUp     bool
	rxStopped  bool
}

type pktgenCounters struct {
	rxBytes uint64
	rxPkts  uint64
	txBytes uint64
	txPkts  uint64
}

// NewPacketGeneratorFromConfig reads the pktgen section of c.
func NewPacketGeneratorFromConfig(l *logrus.Logger, c *config.C, dev *ethdev.Device) (*PacketGenerator, error) {
	dst := defaultPktgenDst
	if s := c.GetString("pktgen.destination", ""); s != "" {
		var err error
		if dst, err = mac.ParseAddr(s); err != nil {
			return nil, fmt.Errorf("pktgen.destination was not understood: %w", err)
		}
	}

	size := int(c.GetByteSize("pktgen.size", defaultPktgenSize))
	frame, err := pktgenFrame(dev.HardwareAddr(), dst, size)
	if err != nil {
		return nil, err
	}
	if len(frame) > dev.Capabilities().MaxFrameLen {
		return nil, fmt.Errorf("pktgen.size %d is larger than the largest frame of %d bytes", size, dev.Capabilities().MaxFrameLen)
	}

	return &PacketGenerator{
		l:        l,
		dev:      dev,
		frame:    frame,
		interval: c.GetDuration("pktgen.interval", 30*time.Second),
		poll:     c.GetDuration("pktgen.poll_interval", 10*time.Millisecond),
	}, nil
}

// pktgenFrame builds a frame of size bytes from src to dst.
func pktgenFrame(src, dst mac.Addr, size int) ([]byte, error) {
	if size < ethdev.EthernetHeaderLen {
		return nil, fmt.Errorf("pktgen.size %d is shorter than an ethernet header", size)
	}

	eth := layers.Ethernet{
		SrcMAC:       src.HardwareAddr(),
		DstMAC:       dst.HardwareAddr(),
		EthernetType: pktgenEtherType,
	}
	payload := make([]byte, size-ethdev.EthernetHeaderLen)
	for i := range payload {
		payload[i] = byte(i)
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, &eth, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("failed to build the pktgen frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Run generates traffic until ctx is done.
func (g *PacketGenerator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	g.lastReport = time.Now()
	for {
		g.step()
		if now := time.Now(); now.Sub(g.lastReport) >= g.interval {
			g.report(now.Sub(g.lastReport))
			g.lastReport = now
		}

		select {
		case <-ctx.Done():
			return nil
		case <-g.dev.RxEvents():
		case <-g.dev.TxEvents():
		case <-ticker.C:
		}
	}
}

// step runs one round of link detection, a burst of receives and filling
// the transmit ring.
func (g *PacketGenerator) step() {
	linkUp := g.dev.LinkUp()
	if linkUp != g.linkUp {
		if linkUp {
			g.l.Info("Ethernet link detected")
		} else {
			g.l.Info("Ethernet link lost")
		}
		g.linkUp = linkUp
	}

	for range pktgenRxBurst {
		tok, ok := g.dev.TryReceive()
		if !ok {
			break
		}
		err := tok.Consume(func(frame []byte, _ ptp.Timestamp, _ bool) error {
			g.counters.rxBytes += uint64(len(frame))
			g.counters.rxPkts++
			return nil
		})
		if err != nil {
			g.l.WithError(err).Error("Failed to release a received frame")
		}
	}

	rxRunning := g.dev.Engine().Rx().Running()
	if !rxRunning && !g.rxStopped {
		g.l.Warn("Receive process stopped")
	}
	g.rxStopped = !rxRunning

	if !linkUp {
		return
	}
	// At most one ring worth per round, a peer that completes instantly
	// would keep the ring from ever filling up.
	for range g.dev.Engine().Tx().Len() {
		tok, ok := g.dev.TryTransmit(len(g.frame))
		if !ok {
			return
		}
		_, err := tok.Consume(func(buf []byte) (int, error) {
			return copy(buf, g.frame), nil
		})
		if err != nil {
			g.l.WithError(err).Error("Failed to send a frame")
			return
		}
		g.counters.txBytes += uint64(len(g.frame))
		g.counters.txPkts++
	}
}

func (g *PacketGenerator) report(elapsed time.Duration) {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return
	}
	c := g.counters
	g.counters = pktgenCounters{}

	g.l.WithFields(logrus.Fields{
		"rx":    humanize.IBytes(uint64(float64(c.rxBytes)/secs)) + "/s",
		"rxPps": humanize.Comma(int64(float64(c.rxPkts) / secs)),
		"tx":    humanize.IBytes(uint64(float64(c.txBytes)/secs)) + "/s",
		"txPps": humanize.Comma(int64(float64(c.txPkts) / secs)),
	}).Info("Traffic rates")
}

package ethdev

import (
	"fmt"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/ethdma/config"
	"github.com/slackhq/ethdma/dma"
	"github.com/slackhq/ethdma/mac"
	"github.com/slackhq/ethdma/ptp"
	"github.com/slackhq/ethdma/util"
)

const (
	// DefaultMemoryBase is the bus address of the DMA memory, the start of
	// SRAM.
	DefaultMemoryBase = 0x20000000
	// DefaultAddress is a locally administered station address.
	DefaultAddress = "02:00:00:00:00:01"
)

// ConfigFromC reads the device configuration from c.
func ConfigFromC(c *config.C) (Config, error) {
	cfg := Config{
		DMA:     dma.DefaultConfig(),
		MTU:     c.GetInt("mac.mtu", DefaultMTU),
		Phy:     c.IsSet("phy.address"),
	}

	if cfg.Phy {
		a := c.GetInt("phy.address", -1)
		if a < 0 || a > mac.MaxPhyAddr {
			return cfg, util.NewContextualError("Invalid phy.address", logrus.Fields{"phy.address": c.Get("phy.address"), "max": mac.MaxPhyAddr}, dma.ErrInvalidConfig)
		}
		cfg.PhyAddr = uint8(a)
	}

	cfg.DMA.RxRingLen = c.GetInt("dma.rx_ring_len", cfg.DMA.RxRingLen)
	cfg.DMA.TxRingLen = c.GetInt("dma.tx_ring_len", cfg.DMA.TxRingLen)
	cfg.DMA.BufferSize = int(c.GetByteSize("dma.buffer_size", uint64(cfg.DMA.BufferSize)))
	cfg.DMA.MaxFrameLen = c.GetInt("dma.max_frame_len", cfg.DMA.MaxFrameLen)
	cfg.DMA.Extended = c.GetBool("dma.extended_descriptors", cfg.DMA.Extended)
	if c.GetBool("dma.memory_barrier", false) {
		cfg.DMA.Barrier = dma.FullBarrier()
	}

	addr, err := mac.ParseAddr(c.GetString("mac.address", DefaultAddress))
	if err != nil {
		return cfg, util.NewContextualError("Failed to parse mac.address", logrus.Fields{"address": c.GetString("mac.address", DefaultAddress)}, err)
	}
	cfg.Address = addr

	if cfg.Speed, err = mac.ParseSpeed(c.GetString("mac.speed", "100")); err != nil {
		return cfg, err
	}
	if cfg.Duplex, err = mac.ParseDuplex(c.GetString("mac.duplex", "full")); err != nil {
		return cfg, err
	}

	if c.GetBool("mac.promiscuous", false) {
		cfg.Filtering = mac.Promiscuous
	} else {
		f, err := filteringFromC(c, addr)
		if err != nil {
			return cfg, err
		}
		cfg.Filtering = f
	}

	if c.GetBool("ptp.enabled", false) {
		rollover, err := ptp.ParseRollover(c.GetString("ptp.rollover", "binary"))
		if err != nil {
			return cfg, err
		}
		cfg.Clock = &ptp.ClockConfig{
			HCLK:     c.GetUint32("ptp.hclk_hz", 168_000_000),
			Rollover: rollover,
			Fine:     c.GetBool("ptp.fine", true),
			UpdateHz: c.GetUint32("ptp.update_hz", 0),
		}
	}

	return cfg, nil
}

func filteringFromC(c *config.C, station mac.Addr) (mac.FrameFiltering, error) {
	var extra []mac.Addr
	for _, s := range c.GetStringSlice("mac.filter.extra_addresses", nil) {
		a, err := mac.ParseAddr(s)
		if err != nil {
			return mac.FrameFiltering{}, util.NewContextualError("Failed to parse mac.filter.extra_addresses", logrus.Fields{"address": s}, err)
		}
		extra = append(extra, a)
	}

	f := mac.FilterDestinations(station, extra...)
	f.FilterBroadcast = !c.GetBool("mac.filter.broadcast", true)
	f.ReceiveAll = c.GetBool("mac.filter.receive_all", false)

	var err error
	if f.Multicast.Mode, err = mac.ParseMulticastMode(c.GetString("mac.filter.multicast", "")); err != nil {
		return f, err
	}
	if f.Control, err = mac.ParseControlFiltering(c.GetString("mac.filter.control", "")); err != nil {
		return f, err
	}
	return f, nil
}

// NewMemoryFromConfig allocates the DMA memory for cfg, from the Go heap or
// from an anonymous mapping as selected by dma.memory.
func NewMemoryFromConfig(c *config.C, cfg dma.Config) (*dma.Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := c.GetUint32("dma.memory_base", DefaultMemoryBase)
	size := cfg.MemorySize()
	if err := dma.CheckBusRange(base, size); err != nil {
		return nil, util.NewContextualError("Invalid dma memory range", logrus.Fields{"dma.memory_base": base, "size": size}, err)
	}

	switch m := c.GetString("dma.memory", "heap"); m {
	case "heap":
		return dma.NewMemory(base, size), nil
	case "mmap":
		return dma.NewMappedMemory(base, size)
	default:
		return nil, fmt.Errorf("dma.memory was not understood: %s", m)
	}
}

// NewFromConfig reads the device configuration from c and brings up the
// device on hw.
func NewFromConfig(l *logrus.Logger, c *config.C, hw Hardware, r metrics.Registry) (*Device, error) {
	cfg, err := ConfigFromC(c)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to read the device config", err)
	}
	cfg.Metrics = r

	d, err := New(l, hw, cfg)
	if err != nil {
		return nil, util.NewContextualError("Failed to start the device", logrus.Fields{"files": c.Files()}, err)
	}
	return d, nil
}

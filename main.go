package ethdma

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/ethdma/config"
	"github.com/slackhq/ethdma/dma/dmasim"
	"github.com/slackhq/ethdma/ethdev"
	"github.com/slackhq/ethdma/mac"
	"github.com/slackhq/ethdma/service"
	"github.com/slackhq/ethdma/util"
	"go.yaml.in/yaml/v3"
	"golang.org/x/sync/errgroup"
)

type m = map[string]any

// Main brings up an Ethernet device on a simulated peripheral as described
// by c, with the packet generator or the netstack on top. Nothing runs until
// Control.Start() is called.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger) (retcon *Control, reterr error) {
	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	// Print the config if in test, the exit comes later
	if configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			return nil, err
		}

		// Print the final config
		l.Println(string(b))
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to configure the logger", err)
	}

	pktgen := c.GetBool("pktgen.enabled", true)
	netstack := c.GetBool("netstack.enabled", false)
	if pktgen && netstack {
		return nil, util.NewContextualError("pktgen and netstack can not share the device", m{"pktgen.enabled": pktgen, "netstack.enabled": netstack}, nil)
	}

	cfg, err := ethdev.ConfigFromC(c)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to read the device config", err)
	}

	mem, err := ethdev.NewMemoryFromConfig(c, cfg.DMA)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to allocate dma memory", err)
	}
	defer func() {
		if reterr == nil {
			return
		}
		if err := mem.Close(); err != nil {
			reterr = errors.Join(reterr, err)
		}
	}()

	var dev atomic.Pointer[ethdev.Device]
	opts := []dmasim.Option{
		dmasim.WithAutoComplete(),
		dmasim.WithPhyAddr(cfg.PhyAddr),
		dmasim.WithInterrupt(func() {
			if d := dev.Load(); d != nil {
				d.HandleInterrupt()
			}
		}),
	}
	if c.GetBool("sim.loopback", true) {
		opts = append(opts, dmasim.WithLoopback())
	}
	sim := dmasim.New(mem, opts...)
	if c.GetBool("sim.link", true) {
		sim.SetLink(true, cfg.Speed, cfg.Duplex)
	}

	cfg.Metrics = metrics.DefaultRegistry
	d, err := ethdev.New(l, ethdev.Hardware{DMA: sim.DMA, MAC: sim.MAC, PTP: sim.PTP, Memory: mem}, cfg)
	if err != nil {
		return nil, util.NewContextualError("Failed to start the device", m{"address": cfg.Address}, err)
	}
	dev.Store(d)
	defer func() {
		if reterr == nil {
			return
		}
		if err := d.Close(); err != nil {
			reterr = errors.Join(reterr, err)
		}
	}()

	if status, err := d.LinkStatus(); err == nil {
		l.WithField("link", status).Info("Link is up")
	} else if !errors.Is(err, mac.ErrLinkDown) {
		return nil, util.NewContextualError("Failed to read the link status", nil, err)
	}

	statsStart, err := startStats(l, c, buildVersion, configTest)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to start stats emitter", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	ctrl := &Control{
		l:          l,
		ctx:        ctx,
		cancel:     cancel,
		eg:         eg,
		mem:        mem,
		sim:        sim,
		dev:        d,
		statsStart: statsStart,
	}

	if pktgen {
		ctrl.gen, err = NewPacketGeneratorFromConfig(l, c, d)
		if err != nil {
			cancel()
			return nil, util.ContextualizeIfNeeded("Failed to configure the packet generator", err)
		}
	}

	if netstack && !configTest {
		ctrl.svc, err = service.NewFromConfig(ctx, l, c, d)
		if err != nil {
			cancel()
			return nil, util.ContextualizeIfNeeded("Failed to start the netstack", err)
		}
	}

	l.WithFields(logrus.Fields{
		"version":  buildVersion,
		"pktgen":   pktgen,
		"netstack": netstack,
		"files":    c.Files(),
	}).Info("Ethernet device ready")

	return ctrl, nil
}

package ethdma

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/ethdma/dma"
	"github.com/slackhq/ethdma/dma/dmasim"
	"github.com/slackhq/ethdma/ethdev"
	"github.com/slackhq/ethdma/service"
	"golang.org/x/sync/errgroup"
)

// Control owns everything Main brought up.
type Control struct {
	l      *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	mem *dma.Memory
	sim *dmasim.Peripheral
	dev *ethdev.Device
	svc *service.Service
	gen *PacketGenerator

	statsStart func()
}

// Start runs the packet generator, this is a nonblocking call. To block use
// Control.ShutdownBlock()
func (c *Control) Start() {
	if c.statsStart != nil {
		go c.statsStart()
	}
	if c.gen != nil {
		c.eg.Go(func() error {
			return c.gen.Run(c.ctx)
		})
	}
}

// Stop signals everything to shut down, returns after the shutdown is
// complete
func (c *Control) Stop() {
	c.cancel()

	if c.svc != nil {
		if err := c.svc.CloseAndWait(); err != nil {
			c.l.WithError(err).Error("Netstack did not stop cleanly")
		}
	}
	if err := c.eg.Wait(); err != nil {
		c.l.WithError(err).Error("Packet generator did not stop cleanly")
	}
	if err := c.dev.Close(); err != nil {
		c.l.WithError(err).Error("Close device failed")
	}
	if err := c.mem.Close(); err != nil {
		c.l.WithError(err).Error("Release dma memory failed")
	}
	c.l.Info("Goodbye")
}

// ShutdownBlock will listen for and block on term and interrupt signals,
// calling Control.Stop() once signalled
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)

	rawSig := <-sigChan
	sig := rawSig.String()
	c.l.WithField("signal", sig).Info("Caught signal, shutting down")
	c.Stop()
}

// Device returns the Ethernet device.
func (c *Control) Device() *ethdev.Device {
	return c.dev
}

// Peripheral returns the simulated peripheral behind the device.
func (c *Control) Peripheral() *dmasim.Peripheral {
	return c.sim
}

// Service returns the netstack, nil when it is not enabled.
func (c *Control) Service() *service.Service {
	return c.svc
}

// Stats returns the device counters.
func (c *Control) Stats() ethdev.Stats {
	return c.dev.Stats()
}

func (c *Control) GetLogger() *logrus.Logger {
	return c.l
}

package service

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/ethdma/config"
	"github.com/slackhq/ethdma/ethdev"
)

// NewFromConfig starts a network stack on dev as configured by the netstack
// section of c. It returns nil when netstack.enabled is not set.
func NewFromConfig(ctx context.Context, l *logrus.Logger, c *config.C, dev *ethdev.Device) (*Service, error) {
	if !c.GetBool("netstack.enabled", false) {
		return nil, nil
	}

	prefix, err := netip.ParsePrefix(c.GetString("netstack.address", ""))
	if err != nil {
		return nil, fmt.Errorf("netstack.address was not understood: %w", err)
	}

	cfg := Config{
		Prefix:       prefix,
		PollInterval: c.GetDuration("netstack.poll_interval", DefaultPollInterval),
		QueueLen:     c.GetInt("netstack.queue_len", DefaultQueueLen),
	}
	if gw := c.GetString("netstack.gateway", ""); gw != "" {
		if cfg.Gateway, err = netip.ParseAddr(gw); err != nil {
			return nil, fmt.Errorf("netstack.gateway was not understood: %w", err)
		}
	}

	return New(ctx, l, dev, cfg)
}

package dma_test

import (
	"testing"

	"github.com/slackhq/ethdma/dma"
	"github.com/slackhq/ethdma/ptp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, dma.DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(c *dma.Config)
	}{
		{"zero rx ring", func(c *dma.Config) { c.RxRingLen = 0 }},
		{"negative tx ring", func(c *dma.Config) { c.TxRingLen = -1 }},
		{"zero buffer", func(c *dma.Config) { c.BufferSize = 0 }},
		{"unaligned buffer", func(c *dma.Config) { c.BufferSize = 1535 }},
		{"oversized buffer", func(c *dma.Config) { c.BufferSize = dma.MaxBufferSize + 4 }},
		{"frame larger than buffer", func(c *dma.Config) { c.MaxFrameLen = c.BufferSize + 1 }},
		{"zero frame", func(c *dma.Config) { c.MaxFrameLen = 0 }},
		{"unknown rollover", func(c *dma.Config) { c.Rollover = ptp.Rollover(7) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dma.DefaultConfig()
			tt.modify(&c)
			assert.ErrorIs(t, c.Validate(), dma.ErrInvalidConfig)
		})
	}
}

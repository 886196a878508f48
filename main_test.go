package ethdma

import (
	"testing"
	"time"

	"github.com/slackhq/ethdma/config"
	"github.com/slackhq/ethdma/test"
	"github.com/slackhq/ethdma/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, raw string) *config.C {
	t.Helper()
	c := config.NewC(test.NewLogger())
	require.NoError(t, c.LoadString(raw))
	return c
}

func TestMainPktgen(t *testing.T) {
	c := loadConfig(t, `
dma:
  rx_ring_len: 8
  tx_ring_len: 4
pktgen:
  size: 256
  interval: 10ms
  poll_interval: 1ms
`)

	ctrl, err := Main(c, false, "test", test.NewLogger())
	require.NoError(t, err)
	require.NotNil(t, ctrl.gen)
	assert.Nil(t, ctrl.Service())

	// Counters live in the default registry and may carry earlier traffic.
	before := ctrl.Stats()
	ctrl.Start()
	require.Eventually(t, func() bool {
		s := ctrl.Stats()
		return s.TxFrames-before.TxFrames > 10 && s.RxFrames-before.RxFrames > 10
	}, 5*time.Second, time.Millisecond)
	ctrl.Stop()

	s := ctrl.Stats()
	assert.EqualValues(t, 256*(s.TxFrames-before.TxFrames), s.TxBytes-before.TxBytes)
	assert.Equal(t, ctrl.Peripheral().Transmitted(), s.TxFrames-before.TxFrames)
	assert.False(t, ctrl.Device().MAC().Enabled())
}

func TestMainNetstack(t *testing.T) {
	c := loadConfig(t, `
pktgen:
  enabled: false
netstack:
  enabled: true
  address: 10.1.0.1/24
`)

	ctrl, err := Main(c, false, "test", test.NewLogger())
	require.NoError(t, err)
	require.NotNil(t, ctrl.Service())
	assert.Nil(t, ctrl.gen)

	ctrl.Start()
	ctrl.Stop()
}

func TestMainConfigTest(t *testing.T) {
	c := loadConfig(t, "pktgen:\n  enabled: false\nnetstack:\n  enabled: true\n  address: 10.1.0.1/24\n")

	ctrl, err := Main(c, true, "test", test.NewLogger())
	require.NoError(t, err)
	assert.Nil(t, ctrl.Service(), "config test does not start the netstack")
	ctrl.Stop()
}

func TestMainErrors(t *testing.T) {
	tests := map[string]string{
		"both users":     "netstack:\n  enabled: true\n",
		"logging":        "logging:\n  level: nope\n",
		"device config":  "mac:\n  address: nope\n",
		"memory":         "dma:\n  memory: disk\n",
		"device":         "dma:\n  rx_ring_len: -1\n",
		"stats":          "stats:\n  type: carrier_pigeon\n  interval: 1s\n",
		"pktgen size":    "pktgen:\n  size: 9000\n",
		"pktgen address": "pktgen:\n  destination: nope\n",
		"netstack":       "pktgen:\n  enabled: false\nnetstack:\n  enabled: true\n  address: nope\n",
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Main(loadConfig(t, raw), false, "test", test.NewLogger())
			require.Error(t, err)
			var ce *util.ContextualError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

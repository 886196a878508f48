package main

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"
	"github.com/slackhq/ethdma/dma"
	"github.com/slackhq/ethdma/dma/dmasim"
	"github.com/slackhq/ethdma/ethdev"
	"github.com/slackhq/ethdma/mac"
	"github.com/slackhq/ethdma/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, phy bool) *ethdev.Device {
	t.Helper()
	cfg := ethdev.Config{
		DMA:     dma.DefaultConfig(),
		Address: mac.Addr{0x02, 0, 0, 0, 0, 0x42},
		Speed:   mac.Speed100M,
		Duplex:  mac.FullDuplex,
		Phy:     phy,
		Metrics: metrics.NewRegistry(),
	}
	mem := dma.NewMemory(ethdev.DefaultMemoryBase, cfg.DMA.MemorySize())
	sim := dmasim.New(mem)
	d, err := ethdev.New(test.NewLogger(), ethdev.Hardware{DMA: sim.DMA, MAC: sim.MAC, PTP: sim.PTP, Memory: mem}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNotifyReady(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	buf := make([]byte, 256)
	for _, tc := range []struct {
		phy  bool
		want string
	}{
		{phy: false, want: "READY=1\nSTATUS=device 02:00:00:00:00:42, mtu 1500, link up"},
		{phy: true, want: "READY=1\nSTATUS=device 02:00:00:00:00:42, mtu 1500, link down"},
	} {
		notifyReady(test.NewLogger(), newTestDevice(t, tc.phy))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(buf[:n]))
	}
}

func TestNotifyReady_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	notifyReady(test.NewLogger(), newTestDevice(t, false))

	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "missing.sock"))
	notifyReady(test.NewLogger(), newTestDevice(t, false))
}

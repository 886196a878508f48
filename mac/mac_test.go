package mac_test

import (
	"testing"

	"github.com/slackhq/ethdma/mac"
	"github.com/slackhq/ethdma/regs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var station = mac.Addr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

func addrRegs(bus *regs.Mem, i int) (uint32, uint32) {
	off := uint32(mac.RegAddr0High + i*8)
	return bus.Peek(off), bus.Peek(off + 4)
}

func TestMAC_Promiscuous(t *testing.T) {
	bus := regs.NewMem(mac.BlockSize)
	m := mac.New(bus)

	require.NoError(t, m.Configure(mac.Promiscuous))
	assert.EqualValues(t, mac.FilterPromiscuous, bus.Peek(mac.RegFilter))

	bus.Poke(mac.RegFilter, 0)
	require.NoError(t, m.Configure(nil))
	assert.EqualValues(t, mac.FilterPromiscuous, bus.Peek(mac.RegFilter))
}

func TestMAC_FilterDestinations(t *testing.T) {
	bus := regs.NewMem(mac.BlockSize)
	m := mac.New(bus)

	extra := mac.Addr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	require.NoError(t, m.Configure(mac.FilterDestinations(station, extra)))

	assert.Equal(t, station, m.Addr())
	hi, _ := addrRegs(bus, 0)
	assert.NotZero(t, hi&(1<<31))

	hi, lo := addrRegs(bus, 1)
	assert.EqualValues(t, mac.AddrEnable|uint32(extra.High()), hi)
	assert.Equal(t, extra.Low(), lo)

	// Unused filters are disabled.
	for i := 2; i <= mac.MaxAddressFilters; i++ {
		hi, lo := addrRegs(bus, i)
		assert.Zero(t, hi&mac.AddrEnable)
		assert.EqualValues(t, 0xffffffff, lo)
	}

	// Pass all multicast, control frames blocked.
	assert.EqualValues(t, mac.FilterPassAllMulticast, bus.Peek(mac.RegFilter))
}

func TestMAC_FrameFiltering(t *testing.T) {
	bus := regs.NewMem(mac.BlockSize)
	m := mac.New(bus)

	src := mac.Addr{0x02, 0, 0, 0, 0, 0x10}
	group := mac.Addr{0x01, 0x00, 0x5e, 0, 0, 0xfb}
	f := mac.FrameFiltering{
		Address: station,
		Destination: mac.DestinationFiltering{
			Inverse:   true,
			HashTable: true,
		},
		Source: mac.SourceFiltering{
			Mode:  mac.SourceInverse,
			Addrs: []mac.AddressFilter{{Addr: src, Mask: mac.MaskByte0 | mac.MaskByte1}},
		},
		Multicast: mac.MulticastFiltering{
			Mode:  mac.MulticastPerfect,
			Addrs: []mac.AddressFilter{{Addr: group}},
		},
		Control:         mac.ControlAddressFilter,
		HashTable:       0x1122334455667788,
		FilterBroadcast: true,
		ReceiveAll:      true,
	}
	require.NoError(t, m.Configure(f))

	want := uint32(mac.FilterReceiveAll | mac.FilterSourceAddr | mac.FilterSourceInverse |
		0b11<<mac.FilterControlShift | mac.FilterBroadcastDisable | mac.FilterDestInverse | mac.FilterHashUnicast)
	assert.Equal(t, want, bus.Peek(mac.RegFilter))
	assert.EqualValues(t, 0x11223344, bus.Peek(mac.RegHashHigh))
	assert.EqualValues(t, 0x55667788, bus.Peek(mac.RegHashLow))

	// Multicast first, source filters last.
	hi, lo := addrRegs(bus, 1)
	assert.EqualValues(t, mac.AddrEnable|uint32(group.High()), hi)
	assert.Equal(t, group.Low(), lo)

	hi, lo = addrRegs(bus, 2)
	assert.EqualValues(t, mac.AddrEnable|mac.AddrSource|0b11<<mac.AddrMaskShift|uint32(src.High()), hi)
	assert.Equal(t, src.Low(), lo)
}

func TestMAC_TooManyAddressFilters(t *testing.T) {
	bus := regs.NewMem(mac.BlockSize)
	m := mac.New(bus)

	f := mac.FilterDestinations(station,
		mac.Addr{0x02, 0, 0, 0, 0, 1},
		mac.Addr{0x02, 0, 0, 0, 0, 2},
	)
	f.Source = mac.SourceFiltering{Mode: mac.SourceNormal, Addrs: []mac.AddressFilter{{}, {}}}
	require.ErrorIs(t, m.Configure(f), mac.ErrTooManyAddressFilters)

	// Nothing was written.
	for off := uint32(0); off < mac.BlockSize; off += 4 {
		assert.Zero(t, bus.Peek(off), "register %#x", off)
	}

	// Ignored source addresses do not count.
	f.Source.Mode = mac.SourceIgnore
	require.NoError(t, m.Configure(f))
}

func TestMAC_SpeedAndEnable(t *testing.T) {
	bus := regs.NewMem(mac.BlockSize)
	m := mac.New(bus)

	m.SetSpeed(mac.Speed100M, mac.FullDuplex)
	s, d := m.Speed()
	assert.Equal(t, mac.Speed100M, s)
	assert.Equal(t, mac.FullDuplex, d)

	m.Enable()
	assert.True(t, m.Enabled())

	m.SetSpeed(mac.Speed10M, mac.HalfDuplex)
	s, d = m.Speed()
	assert.Equal(t, mac.Speed10M, s)
	assert.Equal(t, mac.HalfDuplex, d)
	assert.True(t, m.Enabled())

	m.Disable()
	assert.False(t, m.Enabled())
}

func TestParseHelpers(t *testing.T) {
	s, err := mac.ParseSpeed("10")
	require.NoError(t, err)
	assert.Equal(t, mac.Speed10M, s)
	_, err = mac.ParseSpeed("1000")
	require.Error(t, err)

	d, err := mac.ParseDuplex("half")
	require.NoError(t, err)
	assert.Equal(t, mac.HalfDuplex, d)

	c, err := mac.ParseControlFiltering("no_pause")
	require.NoError(t, err)
	assert.Equal(t, mac.ControlNoPause, c)
	assert.Equal(t, "no_pause", c.String())
	_, err = mac.ParseControlFiltering("some")
	require.Error(t, err)

	mm, err := mac.ParseMulticastMode("hash")
	require.NoError(t, err)
	assert.Equal(t, mac.MulticastHash, mm)
}

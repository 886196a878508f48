package mac

import (
	"fmt"

	"github.com/slackhq/ethdma/regs"
)

// Register offsets of the MAC block, relative to its base.
const (
	RegConfig    = 0x00 // MACCR
	RegFilter    = 0x04 // MACFFR
	RegHashHigh  = 0x08 // MACHTHR
	RegHashLow   = 0x0c // MACHTLR
	RegMIIAddr   = 0x10 // MACMIIAR
	RegMIIData   = 0x14 // MACMIIDR
	RegAddr0High = 0x40 // MACA0HR, followed by MACA0LR and MACA1HR..MACA3LR
	BlockSize    = 0x60
)

// Configuration register bits.
const (
	ConfigReceiveEnable   = 1 << 2  // RE
	ConfigTransmitEnable  = 1 << 3  // TE
	ConfigChecksumOffload = 1 << 10 // IPCO
	ConfigFullDuplex      = 1 << 11 // DM
	ConfigFastEthernet    = 1 << 14 // FES
)

// Frame filter register bits.
const (
	FilterPromiscuous      = 1 << 0  // PM
	FilterHashUnicast      = 1 << 1  // HU
	FilterHashMulticast    = 1 << 2  // HM
	FilterDestInverse      = 1 << 3  // DAIF
	FilterPassAllMulticast = 1 << 4  // PAM
	FilterBroadcastDisable = 1 << 5  // BFD
	FilterControlShift     = 6       // PCF
	FilterSourceInverse    = 1 << 8  // SAIF
	FilterSourceAddr       = 1 << 9  // SAF
	FilterReceiveAll       = 1 << 31 // RA
)

// Address high register bits.
const (
	AddrEnable    = 1 << 31 // AE
	AddrSource    = 1 << 30 // SA
	AddrMaskShift = 24      // MBC
	addrHighMO    = 1 << 31
	addrHighReset = 0x0000ffff
	addrLowReset  = 0xffffffff
)

// Speed is the link speed.
type Speed uint8

const (
	Speed10M Speed = iota
	Speed100M
)

func (s Speed) String() string {
	if s == Speed100M {
		return "100M"
	}
	return "10M"
}

// ParseSpeed parses 10 or 100, optionally followed by M.
func ParseSpeed(s string) (Speed, error) {
	switch s {
	case "10", "10M", "10m":
		return Speed10M, nil
	case "", "100", "100M", "100m":
		return Speed100M, nil
	}
	return 0, fmt.Errorf("unknown link speed %q", s)
}

// Duplex is the link duplex mode.
type Duplex uint8

const (
	HalfDuplex Duplex = iota
	FullDuplex
)

func (d Duplex) String() string {
	if d == FullDuplex {
		return "full"
	}
	return "half"
}

// ParseDuplex parses full or half.
func ParseDuplex(s string) (Duplex, error) {
	switch s {
	case "", "full":
		return FullDuplex, nil
	case "half":
		return HalfDuplex, nil
	}
	return 0, fmt.Errorf("unknown duplex mode %q", s)
}

// MAC drives the MAC register block.
type MAC struct {
	cr       regs.Reg
	ffr      regs.Reg
	hashHigh regs.Reg
	hashLow  regs.Reg
	addrHigh [MaxAddressFilters + 1]regs.Reg
	addrLow  [MaxAddressFilters + 1]regs.Reg

	mii *MII
}

// New returns a MAC for the register block behind bus. Nothing is written
// until it is configured.
func New(bus regs.Bus) *MAC {
	m := &MAC{
		cr:       regs.At(bus, RegConfig),
		ffr:      regs.At(bus, RegFilter),
		hashHigh: regs.At(bus, RegHashHigh),
		hashLow:  regs.At(bus, RegHashLow),
		mii:      NewMII(bus),
	}
	for i := range m.addrHigh {
		off := uint32(RegAddr0High + i*8)
		m.addrHigh[i] = regs.At(bus, off)
		m.addrLow[i] = regs.At(bus, off+4)
	}
	return m
}

// Configure applies a frame filtering mode. A filtering that needs more
// address filters than available is rejected before any register is
// written.
func (m *MAC) Configure(mode FrameFilteringMode) error {
	if mode == nil {
		mode = Promiscuous
	}
	return mode.apply(m)
}

// SetAddr programs the station address without changing the filtering.
func (m *MAC) SetAddr(a Addr) {
	m.addrHigh[0].Set(addrHighMO | uint32(a.High()))
	m.addrLow[0].Set(a.Low())
}

// Addr returns the station address.
func (m *MAC) Addr() Addr {
	return AddrFromRegisters(uint16(m.addrHigh[0].Get()), m.addrLow[0].Get())
}

// SetSpeed sets the link parameters, usually to what the PHY negotiated.
func (m *MAC) SetSpeed(s Speed, d Duplex) {
	var v uint32
	if s == Speed100M {
		v |= ConfigFastEthernet
	}
	if d == FullDuplex {
		v |= ConfigFullDuplex
	}
	m.cr.ReplaceBits(v, ConfigFastEthernet|ConfigFullDuplex, 0)
}

// Speed returns the programmed link parameters.
func (m *MAC) Speed() (Speed, Duplex) {
	v := m.cr.Get()
	s, d := Speed10M, HalfDuplex
	if v&ConfigFastEthernet != 0 {
		s = Speed100M
	}
	if v&ConfigFullDuplex != 0 {
		d = FullDuplex
	}
	return s, d
}

// Enable turns on the transmitter and the receiver.
func (m *MAC) Enable() {
	m.cr.SetBits(ConfigTransmitEnable | ConfigReceiveEnable)
}

// Disable turns off the transmitter and the receiver.
func (m *MAC) Disable() {
	m.cr.ClearBits(ConfigTransmitEnable | ConfigReceiveEnable)
}

// Enabled reports whether both the transmitter and the receiver are on.
func (m *MAC) Enabled() bool {
	return m.cr.HasBits(ConfigTransmitEnable | ConfigReceiveEnable)
}

// MII returns the management interface of this MAC.
func (m *MAC) MII() *MII {
	return m.mii
}

package mac

import (
	"errors"
	"fmt"

	"github.com/slackhq/ethdma/regs"
)

// MII address register bits.
const (
	MIIBusy       = 1 << 0 // MB
	MIIWrite      = 1 << 1 // MW
	MIIClockShift = 2      // CR
	MIIRegShift   = 6      // MR
	MIIPhyShift   = 11     // PA
	miiClockMask  = 0b111
	miiAddrMask   = 0b11111
	miiDataMask   = 0xffff

	// miiClockDiv102 is the clock range for an HCLK of 150 to 180 MHz.
	miiClockDiv102 = 0b100
	// MaxPhyAddr is the highest address on the management bus.
	MaxPhyAddr = miiAddrMask
	// DefaultMIIPolls bounds the busy wait of a management transaction.
	DefaultMIIPolls = 10_000
)

// ErrMIIBusy is returned when a management transaction does not finish.
var ErrMIIBusy = errors.New("mii management interface busy")

// MDIO reads and writes PHY registers.
type MDIO interface {
	ReadReg(phy, reg uint8) (uint16, error)
	WriteReg(phy, reg uint8, v uint16) error
}

// MII implements [MDIO] over the MAC's management registers.
type MII struct {
	addr  regs.Reg
	data  regs.Reg
	clock uint32
	polls int
}

// NewMII returns the management interface of the MAC block behind bus.
func NewMII(bus regs.Bus) *MII {
	return &MII{
		addr:  regs.At(bus, RegMIIAddr),
		data:  regs.At(bus, RegMIIData),
		clock: miiClockDiv102,
		polls: DefaultMIIPolls,
	}
}

// SetPolls sets how often the busy bit is polled before giving up.
func (m *MII) SetPolls(n int) {
	m.polls = max(n, 1)
}

func (m *MII) ReadReg(phy, reg uint8) (uint16, error) {
	if err := m.transact(phy, reg, false); err != nil {
		return 0, err
	}
	return uint16(m.data.Get() & miiDataMask), nil
}

func (m *MII) WriteReg(phy, reg uint8, v uint16) error {
	m.data.Set(uint32(v))
	return m.transact(phy, reg, true)
}

func (m *MII) transact(phy, reg uint8, write bool) error {
	if phy > miiAddrMask || reg > miiAddrMask {
		return fmt.Errorf("phy %d register %d out of range", phy, reg)
	}
	if !m.wait() {
		return fmt.Errorf("%w: before accessing phy %d register %d", ErrMIIBusy, phy, reg)
	}

	v := uint32(phy)<<MIIPhyShift | uint32(reg)<<MIIRegShift | m.clock<<MIIClockShift | MIIBusy
	if write {
		v |= MIIWrite
	}
	m.addr.Set(v)

	if !m.wait() {
		return fmt.Errorf("%w: accessing phy %d register %d", ErrMIIBusy, phy, reg)
	}
	return nil
}

func (m *MII) wait() bool {
	for range m.polls {
		if !m.addr.HasBits(MIIBusy) {
			return true
		}
	}
	return false
}

package mac

import (
	"errors"
	"fmt"
)

// Standard PHY registers.
const (
	PhyControl        = 0 // BMCR
	PhyStatus         = 1 // BMSR
	PhyID1            = 2
	PhyID2            = 3
	PhyAdvertisement  = 4 // ANAR
	PhyPartnerAbility = 5 // ANLPAR
)

// Control register bits.
const (
	BMCRReset          = 1 << 15
	BMCRSpeed100       = 1 << 13
	BMCRAutoNegEnable  = 1 << 12
	BMCRPowerDown      = 1 << 11
	BMCRRestartAutoNeg = 1 << 9
	BMCRFullDuplex     = 1 << 8
)

// Status register bits.
const (
	BMSRAutoNegComplete = 1 << 5
	BMSRLinkUp          = 1 << 2
)

// Ability bits of the advertisement and link partner registers.
const (
	Ability100Full = 1 << 8
	Ability100Half = 1 << 7
	Ability10Full  = 1 << 6
	Ability10Half  = 1 << 5
	abilityCSMA    = 1 << 0
)

// ErrLinkDown is returned when asking for the parameters of a link that is
// not up.
var ErrLinkDown = errors.New("link is down")

// Phy is the view of a PHY needed to bring up the link.
type Phy interface {
	LinkUp() (bool, error)
	Status() (LinkStatus, error)
}

// LinkStatus describes an established link.
type LinkStatus struct {
	Speed  Speed
	Duplex Duplex
	// AutoNegotiated is set when the parameters were negotiated with the
	// link partner.
	AutoNegotiated bool
}

func (s LinkStatus) String() string {
	return fmt.Sprintf("%s %s duplex", s.Speed, s.Duplex)
}

// BarePhy drives a PHY through the standard registers only.
type BarePhy struct {
	mdio MDIO
	addr uint8
}

// NewBarePhy returns the PHY at addr on mdio.
func NewBarePhy(mdio MDIO, addr uint8) *BarePhy {
	return &BarePhy{mdio: mdio, addr: addr}
}

// Addr returns the management address of the PHY.
func (p *BarePhy) Addr() uint8 {
	return p.addr
}

// ID returns the PHY identifier.
func (p *BarePhy) ID() (uint32, error) {
	hi, err := p.mdio.ReadReg(p.addr, PhyID1)
	if err != nil {
		return 0, err
	}
	lo, err := p.mdio.ReadReg(p.addr, PhyID2)
	if err != nil {
		return 0, err
	}
	return uint32(hi)<<16 | uint32(lo), nil
}

// Reset issues a software reset. The PHY clears the bit when it is done.
func (p *BarePhy) Reset() error {
	return p.mdio.WriteReg(p.addr, PhyControl, BMCRReset)
}

// AutoNegotiate advertises all 10 and 100 Mbit/s modes and restarts auto
// negotiation.
func (p *BarePhy) AutoNegotiate() error {
	adv := uint16(Ability100Full | Ability100Half | Ability10Full | Ability10Half | abilityCSMA)
	if err := p.mdio.WriteReg(p.addr, PhyAdvertisement, adv); err != nil {
		return err
	}
	return p.mdio.WriteReg(p.addr, PhyControl, BMCRAutoNegEnable|BMCRRestartAutoNeg)
}

// LinkUp reports whether the link is established.
func (p *BarePhy) LinkUp() (bool, error) {
	// The link status bit latches low, the first read clears a stale value.
	if _, err := p.mdio.ReadReg(p.addr, PhyStatus); err != nil {
		return false, err
	}
	bmsr, err := p.mdio.ReadReg(p.addr, PhyStatus)
	if err != nil {
		return false, err
	}
	return bmsr&BMSRLinkUp != 0, nil
}

// Status returns the parameters of the established link.
func (p *BarePhy) Status() (LinkStatus, error) {
	up, err := p.LinkUp()
	if err != nil {
		return LinkStatus{}, err
	}
	if !up {
		return LinkStatus{}, ErrLinkDown
	}

	bmcr, err := p.mdio.ReadReg(p.addr, PhyControl)
	if err != nil {
		return LinkStatus{}, err
	}
	if bmcr&BMCRAutoNegEnable == 0 {
		s := LinkStatus{Speed: Speed10M, Duplex: HalfDuplex}
		if bmcr&BMCRSpeed100 != 0 {
			s.Speed = Speed100M
		}
		if bmcr&BMCRFullDuplex != 0 {
			s.Duplex = FullDuplex
		}
		return s, nil
	}

	bmsr, err := p.mdio.ReadReg(p.addr, PhyStatus)
	if err != nil {
		return LinkStatus{}, err
	}
	if bmsr&BMSRAutoNegComplete == 0 {
		return LinkStatus{}, fmt.Errorf("%w: auto negotiation has not completed", ErrLinkDown)
	}
	adv, err := p.mdio.ReadReg(p.addr, PhyAdvertisement)
	if err != nil {
		return LinkStatus{}, err
	}
	lpa, err := p.mdio.ReadReg(p.addr, PhyPartnerAbility)
	if err != nil {
		return LinkStatus{}, err
	}

	// Pick the best mode both sides support.
	common := adv & lpa
	s := LinkStatus{AutoNegotiated: true}
	switch {
	case common&Ability100Full != 0:
		s.Speed, s.Duplex = Speed100M, FullDuplex
	case common&Ability100Half != 0:
		s.Speed, s.Duplex = Speed100M, HalfDuplex
	case common&Ability10Full != 0:
		s.Speed, s.Duplex = Speed10M, FullDuplex
	default:
		s.Speed, s.Duplex = Speed10M, HalfDuplex
	}
	return s, nil
}

package dmasim

import (
	"github.com/slackhq/ethdma/mac"
)

const (
	// phyID is reported in the identifier registers, an LAN8720A.
	phyID1 = 0x0007
	phyID2 = 0xc0f1
	// bmsrAbilities advertises 10 and 100 Mbit/s in both duplex modes and
	// auto negotiation.
	bmsrAbilities = 0x7809
	miiAddrMask   = 0b11111
)

func (p *Peripheral) resetPhy() {
	clear(p.phy[:])
	p.phy[mac.PhyControl] = mac.BMCRAutoNegEnable | mac.BMCRSpeed100 | mac.BMCRFullDuplex
	p.phy[mac.PhyStatus] = bmsrAbilities
	p.phy[mac.PhyID1] = phyID1
	p.phy[mac.PhyID2] = phyID2
	p.phy[mac.PhyAdvertisement] = mac.Ability100Full | mac.Ability100Half | mac.Ability10Full | mac.Ability10Half | 1
}

func (p *Peripheral) hookMAC() {
	p.MAC.OnStore(mac.RegMIIAddr, func(v uint32) {
		p.mu.Lock()
		defer p.mu.Unlock()

		if v&mac.MIIBusy != 0 {
			phy := uint8(v >> mac.MIIPhyShift & miiAddrMask)
			reg := v >> mac.MIIRegShift & miiAddrMask
			if v&mac.MIIWrite != 0 {
				if phy == p.phyAddr {
					p.writePhy(reg, uint16(p.MAC.Peek(mac.RegMIIData)))
				}
			} else {
				data := uint32(0xffff)
				if phy == p.phyAddr {
					data = uint32(p.phy[reg])
				}
				p.MAC.Poke(mac.RegMIIData, data)
			}
		}
		p.MAC.Poke(mac.RegMIIAddr, v&^mac.MIIBusy)
	})
}

func (p *Peripheral) writePhy(reg uint32, v uint16) {
	switch reg {
	case mac.PhyControl:
		if v&mac.BMCRReset != 0 {
			p.resetPhy()
			return
		}
		if v&mac.BMCRRestartAutoNeg != 0 && p.phy[mac.PhyStatus]&mac.BMSRLinkUp != 0 {
			p.phy[mac.PhyStatus] |= mac.BMSRAutoNegComplete
		}
		p.phy[reg] = v &^ mac.BMCRRestartAutoNeg
	case mac.PhyStatus, mac.PhyID1, mac.PhyID2, mac.PhyPartnerAbility:
		// Read only.
	default:
		p.phy[reg] = v
	}
}

// SetLink brings the link up with a partner advertising the given mode, or
// takes it down.
func (p *Peripheral) SetLink(up bool, speed mac.Speed, duplex mac.Duplex) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !up {
		p.phy[mac.PhyStatus] &^= mac.BMSRLinkUp | mac.BMSRAutoNegComplete
		p.phy[mac.PhyPartnerAbility] = 0
		return
	}

	var ability uint16
	switch {
	case speed == mac.Speed100M && duplex == mac.FullDuplex:
		ability = mac.Ability100Full
	case speed == mac.Speed100M:
		ability = mac.Ability100Half
	case duplex == mac.FullDuplex:
		ability = mac.Ability10Full
	default:
		ability = mac.Ability10Half
	}
	p.phy[mac.PhyPartnerAbility] = ability | 1
	p.phy[mac.PhyStatus] |= mac.BMSRLinkUp
	if p.phy[mac.PhyControl]&mac.BMCRAutoNegEnable != 0 {
		p.phy[mac.PhyStatus] |= mac.BMSRAutoNegComplete
	}
}

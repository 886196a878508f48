package dmasim

import (
	"github.com/slackhq/ethdma/ptp"
)

func (p *Peripheral) hookPTP() {
	p.PTP.OnStore(ptp.RegControl, func(v uint32) {
		p.mu.Lock()
		defer p.mu.Unlock()

		r := rolloverOf(v)
		update := func() (ptp.Timestamp, bool) {
			t, err := r.Decode(p.PTP.Peek(ptp.RegUpdateHigh), p.PTP.Peek(ptp.RegUpdateLow))
			return t, err == nil
		}
		if v&ptp.ControlInit != 0 {
			if t, ok := update(); ok {
				p.now = t
			}
		}
		if v&ptp.ControlUpdate != 0 {
			if t, ok := update(); ok {
				p.now += t
			}
		}
		// The trigger bits clear once the counter took the new values.
		p.PTP.Poke(ptp.RegControl, v&^(ptp.ControlInit|ptp.ControlUpdate|ptp.ControlAddendUpdate))
	})

	p.PTP.OnLoad(ptp.RegTimeHigh, func() uint32 {
		hi, _ := p.clockRegisters()
		return hi
	})
	p.PTP.OnLoad(ptp.RegTimeLow, func() uint32 {
		_, lo := p.clockRegisters()
		return lo
	})
}

func (p *Peripheral) clockRegisters() (hi, lo uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hi, lo, err := p.rollover().Encode(p.now)
	if err != nil {
		return 0, 0
	}
	return hi, lo
}

func rolloverOf(control uint32) ptp.Rollover {
	if control&ptp.ControlDigitalRollover != 0 {
		return ptp.RolloverDigital
	}
	return ptp.RolloverBinary
}

func (p *Peripheral) rollover() ptp.Rollover {
	return rolloverOf(p.PTP.Peek(ptp.RegControl))
}

// timestamping reports whether the time stamp block is enabled.
func (p *Peripheral) timestamping() bool {
	return p.PTP.Peek(ptp.RegControl)&ptp.ControlEnable != 0
}

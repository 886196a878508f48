package ptp

import (
	"errors"
	"fmt"
	"math"

	"github.com/slackhq/ethdma/regs"
)

var (
	// ErrInvalidClockConfig is returned when a [ClockConfig] can not be
	// programmed into the peripheral.
	ErrInvalidClockConfig = errors.New("invalid clock configuration")

	// ErrClockBusy is returned when a previous time or addend update has not
	// been taken over by the peripheral yet.
	ErrClockBusy = errors.New("previous clock update still pending")

	// ErrCoarseClock is returned when slewing a clock that runs in coarse
	// update mode.
	ErrCoarseClock = errors.New("clock does not use fine update mode")
)

// Register offsets of the time stamp block, relative to its base.
const (
	RegControl        = 0x00 // PTPTSCR
	RegSubsecondInc   = 0x04 // PTPSSIR
	RegTimeHigh       = 0x08 // PTPTSHR
	RegTimeLow        = 0x0c // PTPTSLR
	RegUpdateHigh     = 0x10 // PTPTSHUR
	RegUpdateLow      = 0x14 // PTPTSLUR
	RegAddend         = 0x18 // PTPTSAR
	RegTargetHigh     = 0x1c // PTPTTHR
	RegTargetLow      = 0x20 // PTPTTLR
	RegStatus         = 0x28 // PTPTSSR
	BlockSize         = 0x30
	subsecondIncWidth = 8

	// MaxSlew bounds the rate correction accepted by [Clock.Slew], in parts
	// per billion.
	MaxSlew = 1_000_000_000
)

// Control register bits.
const (
	ControlEnable          = 1 << 0 // TSE
	ControlFineUpdate      = 1 << 1 // TSFCU
	ControlInit            = 1 << 2 // TSSTI
	ControlUpdate          = 1 << 3 // TSSTU
	ControlTriggerIRQ      = 1 << 4 // TSITE
	ControlAddendUpdate    = 1 << 5 // TTSARU
	ControlSnapshotAll     = 1 << 8 // TSSARFE
	ControlDigitalRollover = 1 << 9 // TSSSR
)

// ClockConfig describes how the peripheral clock is driven.
type ClockConfig struct {
	// HCLK is the frequency in Hz of the bus clock that drives the counter.
	HCLK uint32
	// Rollover selects the sub-second format.
	Rollover Rollover
	// Fine enables the addend accumulator, which is required for slewing.
	Fine bool
	// UpdateHz is the rate at which the counter advances in fine mode.
	// Defaults to HCLK/2.
	UpdateHz uint32
}

// Clock gives access to the peripheral time registers.
type Clock struct {
	control regs.Reg
	incr    regs.Field
	timeHi  regs.Reg
	timeLo  regs.Reg
	updHi   regs.Reg
	updLo   regs.Reg
	addend  regs.Reg

	rollover      Rollover
	fine          bool
	increment     uint32
	nominalAddend uint32
}

// NewClock validates cfg, programs the time stamp block behind bus and
// resets the clock to zero. Nothing is written when cfg is invalid.
func NewClock(bus regs.Bus, cfg ClockConfig) (*Clock, error) {
	incr, addend, err := cfg.rates()
	if err != nil {
		return nil, err
	}

	c := &Clock{
		control:       regs.At(bus, RegControl),
		incr:          regs.Field{Reg: regs.At(bus, RegSubsecondInc), Width: subsecondIncWidth},
		timeHi:        regs.At(bus, RegTimeHigh),
		timeLo:        regs.At(bus, RegTimeLow),
		updHi:         regs.At(bus, RegUpdateHigh),
		updLo:         regs.At(bus, RegUpdateLow),
		addend:        regs.At(bus, RegAddend),
		rollover:      cfg.Rollover,
		fine:          cfg.Fine,
		increment:     incr,
		nominalAddend: addend,
	}

	control := uint32(ControlEnable | ControlSnapshotAll)
	if cfg.Rollover == RolloverDigital {
		control |= ControlDigitalRollover
	}
	if cfg.Fine {
		control |= ControlFineUpdate
	}
	c.control.Set(control)
	c.incr.Set(incr)

	if cfg.Fine {
		c.addend.Set(addend)
		c.control.SetBits(ControlAddendUpdate)
	}

	c.updHi.Set(0)
	c.updLo.Set(0)
	c.control.SetBits(ControlInit)

	return c, nil
}

// Validate checks that cfg can be programmed into the peripheral.
func (cfg ClockConfig) Validate() error {
	_, _, err := cfg.rates()
	return err
}

// rates computes the sub-second increment and, in fine mode, the addend.
func (cfg ClockConfig) rates() (incr uint32, addend uint32, err error) {
	if cfg.HCLK == 0 {
		return 0, 0, fmt.Errorf("%w: HCLK must not be zero", ErrInvalidClockConfig)
	}

	var unitsPerSecond float64
	switch cfg.Rollover {
	case RolloverBinary:
		unitsPerSecond = binaryScale
	case RolloverDigital:
		unitsPerSecond = 1e9
	default:
		return 0, 0, fmt.Errorf("%w: unknown rollover %d", ErrInvalidClockConfig, cfg.Rollover)
	}

	hclk := float64(cfg.HCLK)
	if !cfg.Fine {
		incr = uint32(math.Round(unitsPerSecond / hclk))
		if incr == 0 || incr > 1<<subsecondIncWidth-1 {
			return 0, 0, fmt.Errorf("%w: HCLK %d Hz needs a sub-second increment of %d", ErrInvalidClockConfig, cfg.HCLK, incr)
		}
		return incr, 0, nil
	}

	update := cfg.UpdateHz
	if update == 0 {
		update = cfg.HCLK / 2
	}
	if update == 0 || update >= cfg.HCLK {
		return 0, 0, fmt.Errorf("%w: update rate %d Hz must be below HCLK %d Hz", ErrInvalidClockConfig, update, cfg.HCLK)
	}

	incr = uint32(math.Ceil(unitsPerSecond / float64(update)))
	if incr == 0 || incr > 1<<subsecondIncWidth-1 {
		return 0, 0, fmt.Errorf("%w: update rate %d Hz needs a sub-second increment of %d", ErrInvalidClockConfig, update, incr)
	}

	// The counter advances by incr every time the 32-bit accumulator
	// overflows, so the real update rate is unitsPerSecond/incr.
	effective := unitsPerSecond / float64(incr)
	a := math.Round(effective * (1 << 32) / hclk)
	if a <= 0 || a > math.MaxUint32 {
		return 0, 0, fmt.Errorf("%w: addend %v out of range", ErrInvalidClockConfig, a)
	}
	return incr, uint32(a), nil
}

// Rollover returns the sub-second format of the clock.
func (c *Clock) Rollover() Rollover {
	return c.rollover
}

// SubsecondIncrement returns the programmed sub-second increment.
func (c *Clock) SubsecondIncrement() uint32 {
	return c.increment
}

// Now reads the current peripheral time. The seconds register is read
// around the sub-seconds register to detect a rollover in between.
func (c *Clock) Now() (Timestamp, error) {
	hi := c.timeHi.Get()
	lo := c.timeLo.Get()
	if again := c.timeHi.Get(); again != hi {
		hi = again
		lo = c.timeLo.Get()
	}
	return c.rollover.Decode(hi, lo)
}

// SetTime loads t into the clock.
func (c *Clock) SetTime(t Timestamp) error {
	if t < 0 {
		return fmt.Errorf("%w: can not set a negative time %v", ErrInvalidTimestamp, t)
	}
	return c.update(t, ControlInit)
}

// Step adds delta, which may be negative, to the clock in one go.
func (c *Clock) Step(delta Timestamp) error {
	return c.update(delta, ControlUpdate)
}

func (c *Clock) update(t Timestamp, trigger uint32) error {
	if c.control.Get()&(ControlInit|ControlUpdate) != 0 {
		return ErrClockBusy
	}
	hi, lo, err := c.rollover.Encode(t)
	if err != nil {
		return err
	}
	c.updHi.Set(hi)
	c.updLo.Set(lo)
	c.control.SetBits(trigger)
	return nil
}

// Addend returns the addend currently programmed.
func (c *Clock) Addend() uint32 {
	return c.addend.Get()
}

// NominalAddend returns the addend that makes the clock run at its nominal
// rate.
func (c *Clock) NominalAddend() uint32 {
	return c.nominalAddend
}

// SetAddend programs a new addend, changing the rate of a fine clock.
func (c *Clock) SetAddend(v uint32) error {
	if !c.fine {
		return ErrCoarseClock
	}
	if c.control.HasBits(ControlAddendUpdate) {
		return ErrClockBusy
	}
	c.addend.Set(v)
	c.control.SetBits(ControlAddendUpdate)
	return nil
}

// Slew sets the rate of a fine clock to its nominal rate corrected by ppb
// parts per billion.
func (c *Clock) Slew(ppb int64) error {
	if !c.fine {
		return ErrCoarseClock
	}
	if ppb < -MaxSlew || ppb > MaxSlew {
		return fmt.Errorf("%w: %d ppb is beyond the %d ppb limit", ErrInvalidClockConfig, ppb, MaxSlew)
	}
	a := int64(c.nominalAddend) + int64(c.nominalAddend)*ppb/1_000_000_000
	if a <= 0 || a > math.MaxUint32 {
		return fmt.Errorf("%w: %d ppb moves the addend out of range", ErrInvalidClockConfig, ppb)
	}
	return c.SetAddend(uint32(a))
}

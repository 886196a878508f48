package ptp

import (
	"testing"
	"time"

	"github.com/slackhq/ethdma/regs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockConfig_Rates(t *testing.T) {
	tests := []struct {
		name        string
		cfg         ClockConfig
		incr        uint32
		addend      uint32
		containsErr string
	}{
		{
			name: "coarse binary 168MHz",
			cfg:  ClockConfig{HCLK: 168_000_000},
			incr: 13,
		},
		{
			name: "coarse digital 50MHz",
			cfg:  ClockConfig{HCLK: 50_000_000, Rollover: RolloverDigital},
			incr: 20,
		},
		{
			name:   "fine digital 100MHz",
			cfg:    ClockConfig{HCLK: 100_000_000, Rollover: RolloverDigital, Fine: true},
			incr:   20,
			addend: 1 << 31,
		},
		{
			name:        "zero hclk",
			cfg:         ClockConfig{},
			containsErr: "HCLK must not be zero",
		},
		{
			name:        "coarse clock too slow",
			cfg:         ClockConfig{HCLK: 1_000_000},
			containsErr: "sub-second increment",
		},
		{
			name:        "fine update faster than hclk",
			cfg:         ClockConfig{HCLK: 50_000_000, Fine: true, UpdateHz: 60_000_000},
			containsErr: "must be below HCLK",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			incr, addend, err := tt.cfg.rates()
			if tt.containsErr != "" {
				assert.ErrorIs(t, err, ErrInvalidClockConfig)
				assert.ErrorContains(t, err, tt.containsErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.incr, incr)
			assert.Equal(t, tt.addend, addend)
		})
	}
}

func TestNewClock_Programming(t *testing.T) {
	m := regs.NewMem(BlockSize)
	c, err := NewClock(m, ClockConfig{HCLK: 100_000_000, Rollover: RolloverDigital, Fine: true})
	require.NoError(t, err)

	control := m.Peek(RegControl)
	assert.Equal(t, uint32(ControlEnable|ControlSnapshotAll|ControlDigitalRollover|ControlFineUpdate|ControlAddendUpdate|ControlInit), control)
	assert.Equal(t, uint32(20), m.Peek(RegSubsecondInc))
	assert.Equal(t, uint32(1<<31), m.Peek(RegAddend))
	assert.Equal(t, uint32(1<<31), c.NominalAddend())
	assert.Equal(t, uint32(20), c.SubsecondIncrement())
	assert.Equal(t, RolloverDigital, c.Rollover())
}

func TestNewClock_InvalidWritesNothing(t *testing.T) {
	m := regs.NewMem(BlockSize)
	_, err := NewClock(m, ClockConfig{HCLK: 1})
	assert.ErrorIs(t, err, ErrInvalidClockConfig)
	for off := uint32(0); off < BlockSize; off += 4 {
		assert.Zero(t, m.Peek(off), "offset %#x", off)
	}
}

func TestClock_Now(t *testing.T) {
	m := regs.NewMem(BlockSize)
	c, err := NewClock(m, ClockConfig{HCLK: 50_000_000, Rollover: RolloverDigital})
	require.NoError(t, err)

	m.Poke(RegTimeHigh, 12)
	m.Poke(RegTimeLow, 500)
	now, err := c.Now()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Second+500, now.Duration())

	// The seconds register moves on between the two reads.
	reads := 0
	m.OnLoad(RegTimeHigh, func() uint32 {
		reads++
		if reads == 1 {
			return 12
		}
		return 13
	})
	m.OnLoad(RegTimeLow, func() uint32 {
		if reads == 1 {
			return 999_999_999
		}
		return 3
	})
	now, err = c.Now()
	require.NoError(t, err)
	assert.Equal(t, 13*time.Second+3, now.Duration())
}

func TestClock_SetTimeAndStep(t *testing.T) {
	m := regs.NewMem(BlockSize)
	c, err := NewClock(m, ClockConfig{HCLK: 50_000_000, Rollover: RolloverDigital})
	require.NoError(t, err)

	// The initialization from NewClock has not been taken over yet.
	assert.ErrorIs(t, c.SetTime(FromDuration(time.Second)), ErrClockBusy)

	m.Poke(RegControl, m.Peek(RegControl)&^ControlInit)
	require.NoError(t, c.SetTime(FromDuration(5*time.Second+7)))
	assert.Equal(t, uint32(5), m.Peek(RegUpdateHigh))
	assert.Equal(t, uint32(7), m.Peek(RegUpdateLow))
	assert.True(t, regs.At(m, RegControl).HasBits(ControlInit))

	m.Poke(RegControl, m.Peek(RegControl)&^ControlInit)
	require.NoError(t, c.Step(FromDuration(-(2*time.Second + 1))))
	assert.Equal(t, uint32(2), m.Peek(RegUpdateHigh))
	assert.Equal(t, uint32(subsecSign|1), m.Peek(RegUpdateLow))
	assert.True(t, regs.At(m, RegControl).HasBits(ControlUpdate))

	assert.ErrorIs(t, c.Step(FromDuration(time.Millisecond)), ErrClockBusy)

	m.Poke(RegControl, m.Peek(RegControl)&^ControlUpdate)
	assert.ErrorIs(t, c.SetTime(FromDuration(-1)), ErrInvalidTimestamp)
}

func TestClock_Slew(t *testing.T) {
	m := regs.NewMem(BlockSize)
	coarse, err := NewClock(m, ClockConfig{HCLK: 50_000_000, Rollover: RolloverDigital})
	require.NoError(t, err)
	assert.ErrorIs(t, coarse.Slew(10), ErrCoarseClock)
	assert.ErrorIs(t, coarse.SetAddend(1), ErrCoarseClock)

	m = regs.NewMem(BlockSize)
	fine, err := NewClock(m, ClockConfig{HCLK: 100_000_000, Rollover: RolloverDigital, Fine: true})
	require.NoError(t, err)

	assert.ErrorIs(t, fine.Slew(100), ErrClockBusy)
	m.Poke(RegControl, m.Peek(RegControl)&^ControlAddendUpdate)

	require.NoError(t, fine.Slew(1000))
	assert.Equal(t, uint32(1<<31+2147), fine.Addend())

	m.Poke(RegControl, m.Peek(RegControl)&^ControlAddendUpdate)
	require.NoError(t, fine.Slew(-1000))
	assert.Equal(t, uint32(1<<31-2147), fine.Addend())

	m.Poke(RegControl, m.Peek(RegControl)&^ControlAddendUpdate)
	assert.ErrorIs(t, fine.Slew(-2_000_000_000), ErrInvalidClockConfig)

	// Corrections that would overflow the addend math are rejected and leave
	// the addend alone.
	for _, ppb := range []int64{1 << 33, -(1 << 33), MaxSlew + 1, -MaxSlew - 1} {
		assert.ErrorIs(t, fine.Slew(ppb), ErrInvalidClockConfig, "ppb %d", ppb)
		assert.Equal(t, uint32(1<<31-2147), fine.Addend(), "ppb %d", ppb)
	}
}

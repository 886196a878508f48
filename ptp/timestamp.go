// Package ptp is the timestamp unit of the Ethernet peripheral. It converts
// the raw (seconds, subseconds) words that the MAC writes into extended
// descriptors or its time registers into a [Timestamp], and gives protocol
// layers register level access to the peripheral clock so they can step and
// slew it. The synchronization algorithm itself lives elsewhere.
package ptp

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidTimestamp is returned when raw timestamp words cannot describe a
// valid point in time for the configured [Rollover].
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// Timestamp is a point in time of the peripheral clock, expressed as the
// duration since its epoch (reset, or the last time the clock was set).
// Negative values only occur as clock adjustments.
type Timestamp time.Duration

// FromDuration creates a [Timestamp] from a duration since the epoch.
func FromDuration(d time.Duration) Timestamp {
	return Timestamp(d)
}

func (t Timestamp) Duration() time.Duration {
	return time.Duration(t)
}

// Seconds returns the whole seconds part, truncated towards zero.
func (t Timestamp) Seconds() int64 {
	return int64(time.Duration(t) / time.Second)
}

// Subsec returns the sub-second part. It carries the sign of t.
func (t Timestamp) Subsec() time.Duration {
	return time.Duration(t) % time.Second
}

func (t Timestamp) String() string {
	sign := ""
	d := time.Duration(t)
	if d < 0 {
		sign = "-"
		d = -d
	}
	return fmt.Sprintf("%s%d.%09ds", sign, d/time.Second, d%time.Second)
}

// Rollover selects how the peripheral counts sub-seconds.
type Rollover uint8

const (
	// RolloverBinary counts sub-seconds in units of 2^-31 s.
	RolloverBinary Rollover = iota
	// RolloverDigital counts sub-seconds in nanoseconds and rolls over after
	// 999,999,999.
	RolloverDigital
)

const (
	// subsecSign is set in the low word when the value is negative.
	subsecSign = 1 << 31
	subsecMask = subsecSign - 1

	binaryScale = 1 << 31
	digitalMax  = 999_999_999
)

// ParseRollover parses "binary" or "digital".
func ParseRollover(s string) (Rollover, error) {
	switch s {
	case "", "binary":
		return RolloverBinary, nil
	case "digital":
		return RolloverDigital, nil
	}
	return 0, fmt.Errorf("unknown rollover mode %q, possible modes: binary, digital", s)
}

func (r Rollover) String() string {
	switch r {
	case RolloverBinary:
		return "binary"
	case RolloverDigital:
		return "digital"
	}
	return fmt.Sprintf("Rollover(%d)", uint8(r))
}

// Decode converts the high (seconds) and low (sign + sub-seconds) words
// into a [Timestamp].
func (r Rollover) Decode(hi, lo uint32) (Timestamp, error) {
	sub := uint64(lo & subsecMask)

	var nanos uint64
	switch r {
	case RolloverBinary:
		nanos = (sub*uint64(time.Second) + binaryScale/2) / binaryScale
	case RolloverDigital:
		if sub > digitalMax {
			return 0, fmt.Errorf("%w: sub-second value %d exceeds digital rollover", ErrInvalidTimestamp, sub)
		}
		nanos = sub
	default:
		return 0, fmt.Errorf("%w: unknown rollover %d", ErrInvalidTimestamp, r)
	}

	d := time.Duration(hi)*time.Second + time.Duration(nanos)
	if lo&subsecSign != 0 {
		d = -d
	}
	return Timestamp(d), nil
}

// Encode converts t into the high and low words understood by the
// peripheral. The magnitude of t must fit into 32 bits of seconds.
func (r Rollover) Encode(t Timestamp) (hi, lo uint32, err error) {
	d := time.Duration(t)
	neg := d < 0
	if neg {
		if d == math.MinInt64 {
			return 0, 0, fmt.Errorf("%w: %v out of range", ErrInvalidTimestamp, d)
		}
		d = -d
	}

	secs := uint64(d / time.Second)
	if secs > math.MaxUint32 {
		return 0, 0, fmt.Errorf("%w: %d seconds do not fit the seconds register", ErrInvalidTimestamp, secs)
	}
	nanos := uint64(d % time.Second)

	var sub uint64
	switch r {
	case RolloverBinary:
		sub = (nanos*binaryScale + uint64(time.Second)/2) / uint64(time.Second)
	case RolloverDigital:
		sub = nanos
	default:
		return 0, 0, fmt.Errorf("%w: unknown rollover %d", ErrInvalidTimestamp, r)
	}

	lo = uint32(sub) & subsecMask
	if neg {
		lo |= subsecSign
	}
	return uint32(secs), lo, nil
}

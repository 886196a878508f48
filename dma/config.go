package dma

import (
	"fmt"

	"github.com/slackhq/ethdma/ptp"
)

const (
	// DefaultBufferSize fits a full VLAN tagged frame plus CRC, rounded up
	// to a multiple of 32 bytes.
	DefaultBufferSize = 1536
	// MaxBufferSize is the largest buffer the 13-bit size field of a
	// descriptor can describe, rounded down to whole words.
	MaxBufferSize = 8188
	// DefaultMaxFrameLen is the largest frame handed out for transmission
	// by default.
	DefaultMaxFrameLen = 1522
)

// Config selects the shape of the rings. It is fixed at construction.
type Config struct {
	// RxRingLen and TxRingLen are the number of descriptors per ring.
	RxRingLen int
	TxRingLen int
	// BufferSize is the size of the buffer paired with each descriptor.
	BufferSize int
	// MaxFrameLen caps the length of a transmit buffer handle.
	MaxFrameLen int
	// Extended selects descriptors with timestamp words.
	Extended bool
	// Barrier is issued around ownership transitions. Defaults to NoBarrier.
	Barrier Barrier
	// Rollover is used to decode descriptor timestamps.
	Rollover ptp.Rollover
}

// DefaultConfig returns the ring shape used by the reference boards.
func DefaultConfig() Config {
	return Config{
		RxRingLen:   16,
		TxRingLen:   8,
		BufferSize:  DefaultBufferSize,
		MaxFrameLen: DefaultMaxFrameLen,
		Extended:    true,
		Barrier:     NoBarrier,
	}
}

// Validate checks the configuration. It returns a wrapped
// [ErrInvalidConfig].
func (c Config) Validate() error {
	if c.RxRingLen <= 0 {
		return fmt.Errorf("%w: receive ring length %d is too small", ErrInvalidConfig, c.RxRingLen)
	}
	if c.TxRingLen <= 0 {
		return fmt.Errorf("%w: transmit ring length %d is too small", ErrInvalidConfig, c.TxRingLen)
	}
	if c.BufferSize <= 0 || c.BufferSize%4 != 0 {
		return fmt.Errorf("%w: buffer size %d must be a positive multiple of 4", ErrInvalidConfig, c.BufferSize)
	}
	if c.BufferSize > MaxBufferSize {
		return fmt.Errorf("%w: buffer size %d is larger than the maximum of %d", ErrInvalidConfig, c.BufferSize, MaxBufferSize)
	}
	if c.MaxFrameLen <= 0 || c.MaxFrameLen > c.BufferSize {
		return fmt.Errorf("%w: max frame length %d must be between 1 and the buffer size %d", ErrInvalidConfig, c.MaxFrameLen, c.BufferSize)
	}
	switch c.Rollover {
	case ptp.RolloverBinary, ptp.RolloverDigital:
	default:
		return fmt.Errorf("%w: unknown rollover %d", ErrInvalidConfig, c.Rollover)
	}
	return nil
}

func (c Config) barrier() Barrier {
	if c.Barrier == nil {
		return NoBarrier
	}
	return c.Barrier
}

func (c Config) descriptorWords() int {
	if c.Extended {
		return ExtendedWords
	}
	return BasicWords
}

// MemorySize returns the number of bytes a [Memory] needs to hold both
// rings of this configuration.
func (c Config) MemorySize() int {
	n := c.RxRingLen + c.TxRingLen
	tables := n * c.descriptorWords() * 4
	buffers := n * align(c.BufferSize, bufferAlignment)
	// Room for aligning the start of each of the four allocations.
	return tables + buffers + 4*bufferAlignment
}

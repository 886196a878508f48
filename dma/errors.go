package dma

import (
	"errors"
	"fmt"
)

var (
	// ErrWouldBlock is returned when no descriptor is ready: nothing was
	// received yet, or the transmit ring is full. It is not fatal.
	ErrWouldBlock = errors.New("would block")

	// ErrMalformedFrame matches errors for received frames that were dropped
	// because the hardware reported an error or an implausible length.
	ErrMalformedFrame = errors.New("malformed frame dropped")

	// ErrInvalidConfig is returned when a ring configuration is rejected.
	// Nothing has been programmed into the hardware when it is returned.
	ErrInvalidConfig = errors.New("invalid dma configuration")

	// ErrHandleOutstanding is returned when a ring is asked for a new handle
	// while the previous one was not released yet.
	ErrHandleOutstanding = errors.New("a handle of this ring is still outstanding")

	// ErrHandleReleased is returned when a handle is released a second time.
	ErrHandleReleased = errors.New("handle was already released")

	// ErrInvalidLength is returned for frame lengths the ring can not carry.
	ErrInvalidLength = errors.New("invalid frame length")

	// ErrTicketExpired is returned when the slot of a transmitted frame was
	// already reused for another frame.
	ErrTicketExpired = errors.New("transmit ticket expired")

	// ErrOutOfMemory is returned when a [Memory] arena is exhausted.
	ErrOutOfMemory = errors.New("dma memory exhausted")
)

// MalformedFrameError describes a received frame that was dropped.
type MalformedFrameError struct {
	// Index is the ring slot the frame was received into.
	Index int
	// Status is the raw status word of the descriptor.
	Status uint32
	// Length is the frame length reported by the hardware.
	Length int
	// Reason is a short description of the failed check.
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("%s: slot %d: %s (status %#08x, length %d)", ErrMalformedFrame, e.Index, e.Reason, e.Status, e.Length)
}

func (e *MalformedFrameError) Unwrap() error {
	return ErrMalformedFrame
}
